package gpuq

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/proxy"
	"github.com/gogpu/gpuq/task"
	"github.com/gogpu/gpuq/upload"
)

// The methods below queue one task each and return at once. Byte slices
// are copied before the method returns, so callers may reuse them.

// BufferData replaces the contents of buf, growing it when needed.
func (r *Renderer) BufferData(buf *proxy.Buffer, data []byte) error {
	return r.push(task.NewBufferData(buf, data))
}

// BufferSubData overwrites part of buf starting at offset.
func (r *Renderer) BufferSubData(buf *proxy.Buffer, offset uint64, data []byte) error {
	return r.push(task.NewBufferSubData(buf, offset, data))
}

// UploadTexture uploads every level and face described by p, reallocating
// tex when its format or size differs. p usually comes from
// upload.ParseDDS, ParseKTX, ParsePVR or Decode.
func (r *Renderer) UploadTexture(tex *proxy.Texture, p upload.Params) error {
	return r.push(task.NewUploadTexture(tex, p))
}

// UpdateSubTex2D overwrites a rectangle of one mip level of a 2D texture.
func (r *Renderer) UpdateSubTex2D(tex *proxy.Texture, x, y, width, height, level uint32, data []byte) error {
	return r.push(task.NewUpdateSubTex2D(tex, x, y, width, height, level, data))
}

// BindVertexBuffer selects the vertex buffer for later draws. Nil unbinds.
func (r *Renderer) BindVertexBuffer(buf *proxy.Buffer, offset uint64) error {
	return r.push(task.NewBindVertexBuffer(buf, offset))
}

// BindIndexBuffer selects the index buffer for DrawElements. Nil unbinds.
func (r *Renderer) BindIndexBuffer(buf *proxy.Buffer, format gputypes.IndexFormat, offset uint64) error {
	return r.push(task.NewBindIndexBuffer(buf, format, offset))
}

// VertexAttribPointer describes attribute location of the bound vertex
// buffer.
func (r *Renderer) VertexAttribPointer(location uint32, format gputypes.VertexFormat, stride, offset uint64, enabled bool) error {
	return r.push(task.NewVertexAttribPointer(location, format, stride, offset, enabled))
}

// UseProgram selects prog for later draws.
func (r *Renderer) UseProgram(prog *proxy.Program) error {
	return r.push(task.NewUseProgram(prog))
}

// SetUniform sets a uniform block or one member ("block.member").
func (r *Renderer) SetUniform(prog *proxy.Program, name string, data []byte) error {
	return r.push(task.NewSetUniform(prog, name, data))
}

// SetTexture assigns a texture or render target to a texture binding.
// A nil program or texture returns ErrNilResource.
func (r *Renderer) SetTexture(prog *proxy.Program, name string, tex proxy.Sampled) error {
	if prog == nil || proxy.IsNil(tex) {
		return fmt.Errorf("%w: set texture %q", ErrNilResource, name)
	}
	return r.push(task.NewSetTexture(prog, name, tex))
}

// SetViewport sets the viewport of the current frame.
func (r *Renderer) SetViewport(x, y, width, height float32) error {
	return r.push(task.NewSetViewport(x, y, width, height))
}

// SetScissor sets the scissor rectangle of the current frame.
func (r *Renderer) SetScissor(x, y, width, height uint32) error {
	return r.push(task.NewSetScissor(x, y, width, height))
}

// SetPolygonMode sets the rasterization mode for later draws.
func (r *Renderer) SetPolygonMode(mode backend.PolygonMode) error {
	return r.push(task.NewSetPolygonMode(mode))
}

// DrawArrays draws count vertices starting at first.
func (r *Renderer) DrawArrays(first, count, instances uint32) error {
	return r.push(task.NewDrawArrays(first, count, instances))
}

// DrawElements draws count indices starting at firstIndex.
func (r *Renderer) DrawElements(count, firstIndex uint32, baseVertex int32, instances uint32) error {
	return r.push(task.NewDrawElements(count, firstIndex, baseVertex, instances))
}

// ReadBuffer copies size bytes at offset of buf back to the CPU. fn runs
// on the render thread with a slice it owns, or with an error; it is
// called with task.ErrQueueClosed when a discarding shutdown drops the
// request.
func (r *Renderer) ReadBuffer(buf *proxy.Buffer, offset, size uint64, fn func([]byte, error)) error {
	if buf == nil || fn == nil {
		return fmt.Errorf("gpuq: read buffer: nil buffer or callback")
	}
	return r.push(task.NewReadBuffer(buf, offset, size, fn))
}

// Do runs fn on the render thread. A returned error is logged.
func (r *Renderer) Do(fn func(*task.Exec) error) error {
	if fn == nil {
		return fmt.Errorf("gpuq: do: nil function")
	}
	return r.push(task.NewFunc(fn))
}

// OnSize reports a new framebuffer size. Repeating the last requested
// size queues nothing, and the device reallocates only on a real change.
func (r *Renderer) OnSize(width, height uint32) error {
	r.sizeMu.Lock()
	defer r.sizeMu.Unlock()
	if width == r.width && height == r.height {
		return nil
	}
	if err := r.enqueue(task.NewResize(width, height)); err != nil {
		return err
	}
	r.width, r.height = width, height
	return nil
}

// BeginRender starts a frame on target, or on the default framebuffer
// when target is nil, clearing it to color.
func (r *Renderer) BeginRender(target *proxy.Target, color gputypes.Color) error {
	return r.push(task.NewBeginRender(target, color))
}

// EndRender ends and submits the current frame.
func (r *Renderer) EndRender() error {
	return r.push(task.NewEndRender())
}

// Present shows the last submitted frame.
func (r *Renderer) Present() error {
	return r.push(task.NewPresent())
}
