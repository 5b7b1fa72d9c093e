package task

import (
	"bytes"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/proxy"
	"github.com/gogpu/gpuq/shader"
)

// CreateBuffer allocates a buffer and fills it with data.
type CreateBuffer struct {
	buf  *proxy.Buffer
	data []byte
}

// NewCreateBuffer copies data.
func NewCreateBuffer(buf *proxy.Buffer, data []byte) *CreateBuffer {
	return &CreateBuffer{buf: buf, data: bytes.Clone(data)}
}

func (t *CreateBuffer) Kind() Kind { return KindCreateBuffer }
func (t *CreateBuffer) References() []proxy.Resource { return []proxy.Resource{t.buf} }
func (t *CreateBuffer) Execute(e *Exec) { e.Fail(t.Kind(), t.buf.Data(e.dev, t.data)) }
func (t *CreateBuffer) Payload() []byte { return t.data }

// CreateTexture allocates a texture and uploads its initial contents.
type CreateTexture struct {
	tex  *proxy.Texture
	desc proxy.TextureDesc
	data []byte
}

// NewCreateTexture copies data, which may be empty.
func NewCreateTexture(tex *proxy.Texture, desc proxy.TextureDesc, data []byte) *CreateTexture {
	return &CreateTexture{tex: tex, desc: desc, data: bytes.Clone(data)}
}

func (t *CreateTexture) Kind() Kind { return KindCreateTexture }
func (t *CreateTexture) References() []proxy.Resource { return []proxy.Resource{t.tex} }
func (t *CreateTexture) Execute(e *Exec) { e.Fail(t.Kind(), t.tex.Create(e.dev, t.desc, t.data)) }
func (t *CreateTexture) Payload() []byte { return t.data }

// LinkProgram creates the native objects of a program. It also serves
// hot reload: linking a Created program replaces it in place.
type LinkProgram struct {
	prog *proxy.Program
	src  *shader.Program
}

// NewLinkProgram links src into prog. A nil src links the program the
// proxy was created with. shader.Program values are immutable and
// shared, not copied.
func NewLinkProgram(prog *proxy.Program, src *shader.Program) *LinkProgram {
	return &LinkProgram{prog: prog, src: src}
}

func (t *LinkProgram) Kind() Kind { return KindLinkProgram }
func (t *LinkProgram) References() []proxy.Resource { return []proxy.Resource{t.prog} }
func (t *LinkProgram) Execute(e *Exec) { e.Fail(t.Kind(), t.prog.Link(e.dev, t.src)) }

// CreateTarget allocates an offscreen render target.
type CreateTarget struct {
	rt     *proxy.Target
	width  uint32
	height uint32
	format gputypes.TextureFormat
	depth  bool
}

// NewCreateTarget creates a width x height target. An undefined format
// uses the device color format.
func NewCreateTarget(rt *proxy.Target, width, height uint32, format gputypes.TextureFormat, depth bool) *CreateTarget {
	return &CreateTarget{rt: rt, width: width, height: height, format: format, depth: depth}
}

func (t *CreateTarget) Kind() Kind { return KindCreateTarget }
func (t *CreateTarget) References() []proxy.Resource { return []proxy.Resource{t.rt} }
func (t *CreateTarget) Execute(e *Exec) {
	e.Fail(t.Kind(), t.rt.Create(e.dev, t.width, t.height, t.format, t.depth))
}
