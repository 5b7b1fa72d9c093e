package task

import (
	"bytes"

	"github.com/gogpu/gpuq/proxy"
	"github.com/gogpu/gpuq/upload"
)

// BufferData replaces the contents of a buffer, growing it if needed.
type BufferData struct {
	buf  *proxy.Buffer
	data []byte
}

// NewBufferData copies data.
func NewBufferData(buf *proxy.Buffer, data []byte) *BufferData {
	return &BufferData{buf: buf, data: bytes.Clone(data)}
}

func (t *BufferData) Kind() Kind { return KindBufferData }
func (t *BufferData) References() []proxy.Resource { return []proxy.Resource{t.buf} }
func (t *BufferData) Payload() []byte { return t.data }

func (t *BufferData) Execute(e *Exec) {
	if e.Use(t.Kind(), t.buf) {
		e.Fail(t.Kind(), t.buf.Data(e.dev, t.data))
	}
}

// BufferSubData writes part of a buffer.
type BufferSubData struct {
	buf    *proxy.Buffer
	offset uint64
	data   []byte
}

// NewBufferSubData copies data.
func NewBufferSubData(buf *proxy.Buffer, offset uint64, data []byte) *BufferSubData {
	return &BufferSubData{buf: buf, offset: offset, data: bytes.Clone(data)}
}

func (t *BufferSubData) Kind() Kind { return KindBufferSubData }
func (t *BufferSubData) References() []proxy.Resource { return []proxy.Resource{t.buf} }
func (t *BufferSubData) Payload() []byte { return t.data }

func (t *BufferSubData) Execute(e *Exec) {
	if e.Use(t.Kind(), t.buf) {
		e.Fail(t.Kind(), t.buf.SubData(e.dev, t.offset, t.data))
	}
}

// UploadTexture uploads a PVR, DDS, KTX or decoded image payload. The
// texture is (re)allocated to match the parameters, so it may target a
// texture that was never created.
type UploadTexture struct {
	tex    *proxy.Texture
	params upload.Params
}

// NewUploadTexture deep-copies p.
func NewUploadTexture(tex *proxy.Texture, p upload.Params) *UploadTexture {
	return &UploadTexture{tex: tex, params: p.Clone()}
}

func (t *UploadTexture) Kind() Kind { return KindUploadTexture }
func (t *UploadTexture) References() []proxy.Resource { return []proxy.Resource{t.tex} }
func (t *UploadTexture) Payload() []byte { return t.params.Payload }

func (t *UploadTexture) Execute(e *Exec) {
	if t.tex.State() == proxy.Destroyed {
		e.Use(t.Kind(), t.tex)
		return
	}
	e.Fail(t.Kind(), t.tex.Upload(e.dev, t.params))
}

// UpdateSubTex2D writes a region of one mip level.
type UpdateSubTex2D struct {
	tex                 *proxy.Texture
	x, y, width, height uint32
	level               uint32
	data                []byte
}

// NewUpdateSubTex2D copies data.
func NewUpdateSubTex2D(tex *proxy.Texture, x, y, width, height, level uint32, data []byte) *UpdateSubTex2D {
	return &UpdateSubTex2D{tex: tex, x: x, y: y, width: width, height: height, level: level, data: bytes.Clone(data)}
}

func (t *UpdateSubTex2D) Kind() Kind { return KindUpdateSubTex2D }
func (t *UpdateSubTex2D) References() []proxy.Resource { return []proxy.Resource{t.tex} }
func (t *UpdateSubTex2D) Payload() []byte { return t.data }

func (t *UpdateSubTex2D) Execute(e *Exec) {
	if e.Use(t.Kind(), t.tex) {
		e.Fail(t.Kind(), t.tex.UpdateSub2D(e.dev, t.x, t.y, t.width, t.height, t.level, t.data))
	}
}

// SetUniform writes a uniform value of a program.
type SetUniform struct {
	prog *proxy.Program
	name string
	data []byte
}

// NewSetUniform copies data.
func NewSetUniform(prog *proxy.Program, name string, data []byte) *SetUniform {
	return &SetUniform{prog: prog, name: name, data: bytes.Clone(data)}
}

func (t *SetUniform) Kind() Kind { return KindSetUniform }
func (t *SetUniform) References() []proxy.Resource { return []proxy.Resource{t.prog} }
func (t *SetUniform) Payload() []byte { return t.data }

func (t *SetUniform) Execute(e *Exec) {
	if e.Use(t.Kind(), t.prog) {
		e.Fail(t.Kind(), t.prog.SetUniform(t.name, t.data))
	}
}

// SetTexture binds a texture or render target to a program slot.
type SetTexture struct {
	prog *proxy.Program
	name string
	tex  proxy.Sampled
}

// NewSetTexture binds tex to the slot called name. A nil tex clears the
// slot.
func NewSetTexture(prog *proxy.Program, name string, tex proxy.Sampled) *SetTexture {
	return &SetTexture{prog: prog, name: name, tex: tex}
}

func (t *SetTexture) Kind() Kind { return KindSetTexture }
func (t *SetTexture) References() []proxy.Resource { return []proxy.Resource{t.prog, t.tex} }

func (t *SetTexture) Execute(e *Exec) {
	if !e.Use(t.Kind(), t.prog) {
		return
	}
	if proxy.IsNil(t.tex) {
		e.Fail(t.Kind(), t.prog.SetTexture(t.name, nil))
		return
	}
	if e.Use(t.Kind(), t.tex) {
		e.Fail(t.Kind(), t.prog.SetTexture(t.name, t.tex))
	}
}
