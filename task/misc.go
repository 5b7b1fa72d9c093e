package task

import (
	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/proxy"
)

// ReadBuffer copies part of a buffer back to the CPU and hands the copy
// to a callback on the render thread. The callback must not block.
type ReadBuffer struct {
	buf          *proxy.Buffer
	offset, size uint64
	fn           func([]byte, error)
}

// NewReadBuffer reads size bytes at offset. fn receives a fresh slice
// owned by the callee, or an error.
func NewReadBuffer(buf *proxy.Buffer, offset, size uint64, fn func([]byte, error)) *ReadBuffer {
	return &ReadBuffer{buf: buf, offset: offset, size: size, fn: fn}
}

func (t *ReadBuffer) Kind() Kind { return KindReadBuffer }
func (t *ReadBuffer) References() []proxy.Resource { return []proxy.Resource{t.buf} }

func (t *ReadBuffer) Execute(e *Exec) {
	if !e.Use(t.Kind(), t.buf) {
		t.fn(nil, t.buf.Usable())
		return
	}
	data, err := t.buf.Read(e.dev, t.offset, t.size)
	t.fn(data, err)
}

// Discard reports ErrQueueClosed to the callback.
func (t *ReadBuffer) Discard() { t.fn(nil, ErrQueueClosed) }

// Func runs a closure on the render thread.
type Func struct {
	fn      func(*Exec) error
	discard func()
}

// NewFunc runs fn. Its error is logged.
func NewFunc(fn func(*Exec) error) *Func { return &Func{fn: fn} }

// NewFuncDiscard is NewFunc with a callback for discarding shutdowns.
func NewFuncDiscard(fn func(*Exec) error, discard func()) *Func {
	return &Func{fn: fn, discard: discard}
}

func (t *Func) Kind() Kind { return KindFunc }
func (t *Func) Execute(e *Exec) { e.Fail(t.Kind(), t.fn(e)) }

// Discard calls the discard callback, if any.
func (t *Func) Discard() {
	if t.discard != nil {
		t.discard()
	}
}

type releaser interface {
	proxy.Resource
	Release(dev *backend.Device)
}

// destroy is shared by the destroy tasks. It takes ownership of the
// proxy: it is the only path that releases one.
type destroy struct {
	kind Kind
	res  releaser
}

func (t *destroy) Kind() Kind { return t.kind }
func (t *destroy) References() []proxy.Resource { return []proxy.Resource{t.res} }

func (t *destroy) Execute(e *Exec) {
	if t.res.State() == proxy.Destroyed {
		e.Use(t.kind, t.res)
		return
	}
	e.release(t.res, t.res.Release)
}

// DestroyBuffer releases a buffer.
type DestroyBuffer struct{ destroy }

// NewDestroyBuffer releases buf.
func NewDestroyBuffer(buf *proxy.Buffer) *DestroyBuffer {
	return &DestroyBuffer{destroy{KindDestroyBuffer, buf}}
}

// DestroyTexture releases a texture.
type DestroyTexture struct{ destroy }

// NewDestroyTexture releases tex.
func NewDestroyTexture(tex *proxy.Texture) *DestroyTexture {
	return &DestroyTexture{destroy{KindDestroyTexture, tex}}
}

// DestroyProgram releases a program.
type DestroyProgram struct{ destroy }

// NewDestroyProgram releases prog.
func NewDestroyProgram(prog *proxy.Program) *DestroyProgram {
	return &DestroyProgram{destroy{KindDestroyProgram, prog}}
}

// DestroyTarget releases a render target.
type DestroyTarget struct{ destroy }

// NewDestroyTarget releases rt.
func NewDestroyTarget(rt *proxy.Target) *DestroyTarget {
	return &DestroyTarget{destroy{KindDestroyTarget, rt}}
}
