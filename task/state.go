package task

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/internal/logging"
	"github.com/gogpu/gpuq/proxy"
)

// BindVertexBuffer selects the vertex buffer for later draws. A nil
// buffer unbinds.
type BindVertexBuffer struct {
	buf    *proxy.Buffer
	offset uint64
}

// NewBindVertexBuffer binds buf starting at offset.
func NewBindVertexBuffer(buf *proxy.Buffer, offset uint64) *BindVertexBuffer {
	return &BindVertexBuffer{buf: buf, offset: offset}
}

func (t *BindVertexBuffer) Kind() Kind { return KindBindVertexBuffer }

func (t *BindVertexBuffer) References() []proxy.Resource {
	if t.buf == nil {
		return nil
	}
	return []proxy.Resource{t.buf}
}

func (t *BindVertexBuffer) Execute(e *Exec) {
	if t.buf == nil {
		e.vertex = vertexBinding{}
		return
	}
	if e.Use(t.Kind(), t.buf) {
		e.vertex = vertexBinding{buf: t.buf, offset: t.offset}
	}
}

// BindIndexBuffer selects the index buffer for DrawElements. A nil
// buffer unbinds.
type BindIndexBuffer struct {
	buf    *proxy.Buffer
	format gputypes.IndexFormat
	offset uint64
}

// NewBindIndexBuffer binds buf holding indices of format.
func NewBindIndexBuffer(buf *proxy.Buffer, format gputypes.IndexFormat, offset uint64) *BindIndexBuffer {
	return &BindIndexBuffer{buf: buf, format: format, offset: offset}
}

func (t *BindIndexBuffer) Kind() Kind { return KindBindIndexBuffer }

func (t *BindIndexBuffer) References() []proxy.Resource {
	if t.buf == nil {
		return nil
	}
	return []proxy.Resource{t.buf}
}

func (t *BindIndexBuffer) Execute(e *Exec) {
	if t.buf == nil {
		e.index = indexBinding{}
		return
	}
	if e.Use(t.Kind(), t.buf) {
		e.index = indexBinding{buf: t.buf, format: t.format, offset: t.offset}
	}
}

// VertexAttribPointer describes one attribute of the bound vertex
// buffer. Once any attribute is set, pipelines use the described layout
// instead of the tightly packed reflected one.
type VertexAttribPointer struct {
	location uint32
	attr     proxy.VertexAttribute
	stride   uint64
}

// NewVertexAttribPointer enables or disables the attribute at location.
func NewVertexAttribPointer(location uint32, format gputypes.VertexFormat, stride, offset uint64, enabled bool) *VertexAttribPointer {
	return &VertexAttribPointer{
		location: location,
		attr:     proxy.VertexAttribute{Enabled: enabled, Format: format, Offset: offset},
		stride:   stride,
	}
}

func (t *VertexAttribPointer) Kind() Kind { return KindVertexAttribPointer }

func (t *VertexAttribPointer) Execute(e *Exec) {
	if t.location >= proxy.MaxVertexAttributes {
		e.Fail(t.Kind(), fmt.Errorf("%w: attribute location %d", backend.ErrOutOfRange, t.location))
		return
	}
	e.layout.Attributes[t.location] = t.attr
	e.layout.Stride = t.stride
}

// UseProgram selects the program for later draws.
type UseProgram struct {
	prog *proxy.Program
}

// NewUseProgram selects prog. A nil program deselects.
func NewUseProgram(prog *proxy.Program) *UseProgram { return &UseProgram{prog: prog} }

func (t *UseProgram) Kind() Kind { return KindUseProgram }

func (t *UseProgram) References() []proxy.Resource {
	if t.prog == nil {
		return nil
	}
	return []proxy.Resource{t.prog}
}

func (t *UseProgram) Execute(e *Exec) {
	if t.prog == nil {
		e.program = nil
		return
	}
	if e.Use(t.Kind(), t.prog) {
		e.program = t.prog
	}
}

// SetViewport sets the viewport of the open frame.
type SetViewport struct {
	x, y, width, height float32
}

// NewSetViewport sets the viewport rectangle in pixels.
func NewSetViewport(x, y, width, height float32) *SetViewport {
	return &SetViewport{x: x, y: y, width: width, height: height}
}

func (t *SetViewport) Kind() Kind { return KindSetViewport }

func (t *SetViewport) Execute(e *Exec) {
	pass := e.dev.Pass()
	if pass == nil {
		logging.L().Warn("task: viewport outside a frame")
		return
	}
	pass.SetViewport(t.x, t.y, t.width, t.height, 0, 1)
}

// SetScissor sets the scissor rectangle of the open frame.
type SetScissor struct {
	x, y, width, height uint32
}

// NewSetScissor sets the scissor rectangle in pixels.
func NewSetScissor(x, y, width, height uint32) *SetScissor {
	return &SetScissor{x: x, y: y, width: width, height: height}
}

func (t *SetScissor) Kind() Kind { return KindSetScissor }

func (t *SetScissor) Execute(e *Exec) {
	pass := e.dev.Pass()
	if pass == nil {
		logging.L().Warn("task: scissor outside a frame")
		return
	}
	target, _ := e.dev.Target()
	x, y := min(t.x, target.Width), min(t.y, target.Height)
	pass.SetScissorRect(x, y, min(t.width, target.Width-x), min(t.height, target.Height-y))
}

// SetPolygonMode sets the rasterization mode for later draws.
type SetPolygonMode struct {
	mode backend.PolygonMode
}

// NewSetPolygonMode selects mode.
func NewSetPolygonMode(mode backend.PolygonMode) *SetPolygonMode {
	return &SetPolygonMode{mode: mode}
}

func (t *SetPolygonMode) Kind() Kind { return KindSetPolygonMode }
func (t *SetPolygonMode) Execute(e *Exec) { e.polygon = t.mode }
