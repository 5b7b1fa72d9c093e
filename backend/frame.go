package backend

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuq/internal/logging"
)

// Attachments describes the render target of a frame.
type Attachments struct {
	Color       hal.TextureView
	Depth       hal.TextureView // optional
	ColorFormat gputypes.TextureFormat
	DepthFormat gputypes.TextureFormat
	Width       uint32
	Height      uint32
}

type frame struct {
	encoder hal.CommandEncoder
	pass    hal.RenderPassEncoder
	target  Attachments
}

type acquiredSurface struct {
	tex  hal.SurfaceTexture
	view hal.TextureView
}

// DefaultAttachments returns the default framebuffer. On a surface device
// the color view is only known inside a frame, so Color is nil here.
func (d *Device) DefaultAttachments() Attachments {
	return Attachments{
		Color:       d.backbuffer.view,
		Depth:       d.depth.view,
		ColorFormat: d.colorFormat,
		DepthFormat: d.depthFormat,
		Width:       d.width,
		Height:      d.height,
	}
}

// Backbuffer returns the offscreen color texture of a device without a
// surface, or nil.
func (d *Device) Backbuffer() hal.Texture { return d.backbuffer.tex }

// BeginFrame opens a command encoder and a render pass that clears the
// target. A nil target renders to the default framebuffer.
func (d *Device) BeginFrame(target *Attachments, clearColor gputypes.Color) error {
	if d.closed {
		return ErrNotInitialized
	}
	if d.frame != nil {
		return ErrFrameInProgress
	}
	if err := d.applyPending(); err != nil {
		return err
	}

	var att Attachments
	if target != nil {
		att = *target
	} else {
		att = d.DefaultAttachments()
		if d.surface != nil {
			view, err := d.acquire()
			if err != nil {
				return err
			}
			att.Color = view
		}
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpuq-frame"})
	if err != nil {
		return fmt.Errorf("backend: frame encoder: %w", err)
	}
	if err := encoder.BeginEncoding("gpuq-frame"); err != nil {
		return fmt.Errorf("backend: frame encoder: %w", err)
	}

	desc := &hal.RenderPassDescriptor{
		Label: "gpuq-pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       att.Color,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: clearColor,
		}},
	}
	if att.Depth != nil {
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:            att.Depth,
			DepthLoadOp:     gputypes.LoadOpClear,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: 1.0,
		}
	}

	d.frame = &frame{
		encoder: encoder,
		pass:    encoder.BeginRenderPass(desc),
		target:  att,
	}
	d.frame.pass.SetViewport(0, 0, float32(att.Width), float32(att.Height), 0, 1)
	return nil
}

// acquire takes the next surface texture, dropping one that was rendered
// but never presented.
func (d *Device) acquire() (hal.TextureView, error) {
	if d.presentable != nil {
		d.dropPresentable()
	}
	acquired, err := d.surface.AcquireTexture(nil)
	if err != nil {
		return nil, fmt.Errorf("backend: acquire surface texture: %w", err)
	}
	if acquired.Suboptimal {
		logging.L().Debug("backend: suboptimal surface texture")
	}
	view, err := d.device.CreateTextureView(acquired.Texture, &hal.TextureViewDescriptor{
		Label:     "gpuq-surface",
		Format:    d.colorFormat,
		Dimension: gputypes.TextureViewDimension2D,
		Aspect:    gputypes.TextureAspectAll,
	})
	if err != nil {
		d.surface.DiscardTexture(acquired.Texture)
		return nil, fmt.Errorf("backend: surface view: %w", err)
	}
	d.presentable = &acquiredSurface{tex: acquired.Texture, view: view}
	return view, nil
}

func (d *Device) dropPresentable() {
	d.device.DestroyTextureView(d.presentable.view)
	d.surface.DiscardTexture(d.presentable.tex)
	d.presentable = nil
}

// InFrame reports whether a frame is open.
func (d *Device) InFrame() bool { return d.frame != nil }

// Pass returns the open render pass, or nil outside a frame.
func (d *Device) Pass() hal.RenderPassEncoder {
	if d.frame == nil {
		return nil
	}
	return d.frame.pass
}

// Target returns the attachments of the open frame.
func (d *Device) Target() (Attachments, bool) {
	if d.frame == nil {
		return Attachments{}, false
	}
	return d.frame.target, true
}

// EndFrame ends the render pass and submits the frame.
func (d *Device) EndFrame() error {
	if d.frame == nil {
		return ErrNoFrame
	}
	f := d.frame
	d.frame = nil

	f.pass.End()
	cmd, err := f.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("backend: end encoding: %w", err)
	}
	index, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		d.device.FreeCommandBuffer(cmd)
		return fmt.Errorf("backend: submit: %w", err)
	}
	d.inflight = append(d.inflight, submission{index: index, cmd: cmd})
	d.reclaim()
	if d.presentable != nil {
		// The surface image keeps its configuration until Present.
		return nil
	}
	return d.applyPending()
}

func (d *Device) abortFrame() {
	f := d.frame
	d.frame = nil
	f.pass.End()
	f.encoder.DiscardEncoding()
}

// Present shows the last submitted surface frame. Offscreen devices have
// nothing to present and return nil.
func (d *Device) Present() error {
	if d.closed {
		return ErrNotInitialized
	}
	if d.frame != nil {
		return ErrFrameInProgress
	}
	if d.presentable == nil {
		return d.applyPending()
	}
	p := d.presentable
	d.presentable = nil
	d.device.DestroyTextureView(p.view)
	if err := d.queue.Present(d.surface, p.tex, nil); err != nil {
		return fmt.Errorf("backend: present: %w", err)
	}
	return d.applyPending()
}
