package backend

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuq/internal/logging"
)

// readbackTimeout bounds the wait for a staging copy during ReadBuffer.
const readbackTimeout = 5 * time.Second

// Device is an opened GPU device with its queue and default framebuffer.
//
// A Device is not safe for concurrent use. Every method must be called
// from the goroutine that opened it (the render thread).
type Device struct {
	kind     Kind
	info     gputypes.AdapterInfo
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	surface  hal.Surface

	// hostVisible devices keep every buffer in CPU memory, so ReadBuffer
	// maps the buffer directly instead of going through a staging copy.
	hostVisible bool
	vsync       bool

	width, height uint32
	colorFormat   gputypes.TextureFormat
	depthFormat   gputypes.TextureFormat

	backbuffer attachment // offscreen color when there is no surface
	depth      attachment
	reallocs   int

	// pending holds a resize requested while a frame was open.
	pending    [2]uint32
	hasPending bool

	frame       *frame
	presentable *acquiredSurface
	inflight    []submission
	closed      bool
}

type attachment struct {
	tex  hal.Texture
	view hal.TextureView
}

type submission struct {
	index uint64
	cmd   hal.CommandBuffer
}

// DeviceOptions configures NewDevice.
type DeviceOptions struct {
	Kind        Kind
	Info        gputypes.AdapterInfo
	Instance    hal.Instance
	Surface     hal.Surface
	HostVisible bool
	VSync       bool
	Width       uint32
	Height      uint32
}

// NewDevice wraps an opened HAL device. The framebuffer chain (surface
// configuration or offscreen color, plus depth) is allocated for the
// initial size.
func NewDevice(dev hal.Device, queue hal.Queue, opts DeviceOptions) (*Device, error) {
	d := &Device{
		kind:        opts.Kind,
		info:        opts.Info,
		instance:    opts.Instance,
		device:      dev,
		queue:       queue,
		surface:     opts.Surface,
		hostVisible: opts.HostVisible,
		vsync:       opts.VSync,
		colorFormat: gputypes.TextureFormatBGRA8Unorm,
		depthFormat: gputypes.TextureFormatDepth24Plus,
	}
	if d.surface == nil {
		d.colorFormat = gputypes.TextureFormatRGBA8Unorm
	}
	if err := d.allocate(max(opts.Width, 1), max(opts.Height, 1)); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Kind returns the API driving the device.
func (d *Device) Kind() Kind { return d.kind }

// Info returns the adapter description reported by the driver.
func (d *Device) Info() gputypes.AdapterInfo { return d.info }

// AdapterInfo returns the adapter in the host-integration form.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	t := gpucontext.AdapterTypeUnknown
	switch d.info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		t = gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		t = gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		t = gpucontext.AdapterTypeSoftware
	}
	if d.kind == Headless {
		t = gpucontext.AdapterTypeSoftware
	}
	return gpucontext.AdapterInfo{Name: d.info.Name, Type: t}
}

// ColorFormat returns the format of the default framebuffer.
func (d *Device) ColorFormat() gputypes.TextureFormat { return d.colorFormat }

// DepthFormat returns the depth format used for default and offscreen targets.
func (d *Device) DepthFormat() gputypes.TextureFormat { return d.depthFormat }

// Size returns the default framebuffer size.
func (d *Device) Size() (width, height uint32) { return d.width, d.height }

// Reallocations returns how many times the framebuffer chain was rebuilt
// by Resize.
func (d *Device) Reallocations() int { return d.reallocs }

// HAL returns the underlying device for resource creation.
func (d *Device) HAL() hal.Device { return d.device }

// Queue returns the underlying queue.
func (d *Device) Queue() hal.Queue { return d.queue }

// CreateBuffer creates a buffer that can always be written and copied from.
func (d *Device) CreateBuffer(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	if d.closed {
		return nil, ErrNotInitialized
	}
	return d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
}

// WriteBuffer uploads data at offset. size is the allocated buffer size.
func (d *Device) WriteBuffer(buf hal.Buffer, size, offset uint64, data []byte) error {
	if offset > size || uint64(len(data)) > size-offset {
		return fmt.Errorf("%w: write [%d, %d) into %d bytes", ErrOutOfRange, offset, offset+uint64(len(data)), size)
	}
	if len(data) == 0 {
		return nil
	}
	return d.queue.WriteBuffer(buf, offset, data)
}

// ReadBuffer copies size bytes at offset back to the CPU. It waits for
// all submitted GPU work to finish.
func (d *Device) ReadBuffer(buf hal.Buffer, bufSize, offset, size uint64) ([]byte, error) {
	if offset > bufSize || size > bufSize-offset {
		return nil, fmt.Errorf("%w: read [%d, %d) from %d bytes", ErrOutOfRange, offset, offset+size, bufSize)
	}
	if size == 0 {
		return []byte{}, nil
	}
	if d.hostVisible {
		return d.mapCopy(buf, offset, size)
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpuq-readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: readback staging: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpuq-readback"})
	if err != nil {
		return nil, fmt.Errorf("backend: readback encoder: %w", err)
	}
	if err := encoder.BeginEncoding("gpuq-readback"); err != nil {
		return nil, fmt.Errorf("backend: readback encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(buf, staging, []hal.BufferCopy{{SrcOffset: offset, Size: size}})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("backend: readback encoder: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmd)

	index, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return nil, fmt.Errorf("backend: readback submit: %w", err)
	}
	if err := d.waitFor(index); err != nil {
		return nil, err
	}
	return d.mapCopy(staging, 0, size)
}

func (d *Device) mapCopy(buf hal.Buffer, offset, size uint64) ([]byte, error) {
	m, err := d.device.MapBuffer(buf, offset, size)
	if err != nil {
		return nil, fmt.Errorf("backend: map buffer: %w", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size))
	if err := d.device.UnmapBuffer(buf); err != nil {
		return nil, fmt.Errorf("backend: unmap buffer: %w", err)
	}
	return out, nil
}

// waitFor blocks until submission index has completed.
func (d *Device) waitFor(index uint64) error {
	deadline := time.Now().Add(readbackTimeout)
	for d.queue.PollCompleted() < index {
		if time.Now().After(deadline) {
			return fmt.Errorf("backend: submission %d timed out after %v", index, readbackTimeout)
		}
		time.Sleep(100 * time.Microsecond)
	}
	return nil
}

// CreateTexture creates a texture and its default view.
func (d *Device) CreateTexture(desc *hal.TextureDescriptor, viewDim gputypes.TextureViewDimension) (hal.Texture, hal.TextureView, error) {
	if d.closed {
		return nil, nil, ErrNotInitialized
	}
	tex, err := d.device.CreateTexture(desc)
	if err != nil {
		return nil, nil, err
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         desc.Label,
		Format:        desc.Format,
		Dimension:     viewDim,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: desc.MipLevelCount,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return nil, nil, err
	}
	return tex, view, nil
}

// DestroyTexture destroys a texture and its view. Either may be nil.
func (d *Device) DestroyTexture(tex hal.Texture, view hal.TextureView) {
	if view != nil {
		d.device.DestroyTextureView(view)
	}
	if tex != nil {
		d.device.DestroyTexture(tex)
	}
}

// CreateShaderModule creates a module from whichever source the backend
// consumes natively: SPIR-V for Vulkan and headless, WGSL for the drivers
// that translate internally (Metal, DX12, GLES).
func (d *Device) CreateShaderModule(label, wgsl string, spirv []uint32) (hal.ShaderModule, error) {
	src := hal.ShaderSource{WGSL: wgsl}
	if (d.kind == Vulkan || d.kind == Headless) && len(spirv) > 0 {
		src = hal.ShaderSource{SPIRV: spirv}
	}
	return d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: label, Source: src})
}

// allocate (re)creates the framebuffer chain for w x h.
func (d *Device) allocate(w, h uint32) error {
	d.releaseAttachments()
	d.width, d.height = w, h

	if d.surface != nil {
		mode := gputypes.PresentModeImmediate
		if d.vsync {
			mode = gputypes.PresentModeFifo
		}
		err := d.surface.Configure(d.device, &hal.SurfaceConfiguration{
			Width:       w,
			Height:      h,
			Format:      d.colorFormat,
			Usage:       gputypes.TextureUsageRenderAttachment,
			PresentMode: mode,
			AlphaMode:   gputypes.CompositeAlphaModeOpaque,
		})
		if err != nil {
			return fmt.Errorf("backend: configure surface: %w", err)
		}
	} else {
		tex, view, err := d.CreateTexture(&hal.TextureDescriptor{
			Label:         "gpuq-backbuffer",
			Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        d.colorFormat,
			Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
		}, gputypes.TextureViewDimension2D)
		if err != nil {
			return fmt.Errorf("backend: backbuffer: %w", err)
		}
		d.backbuffer = attachment{tex, view}
	}

	tex, view, err := d.CreateTexture(&hal.TextureDescriptor{
		Label:         "gpuq-depth",
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        d.depthFormat,
		Usage:         gputypes.TextureUsageRenderAttachment,
	}, gputypes.TextureViewDimension2D)
	if err != nil {
		return fmt.Errorf("backend: depth buffer: %w", err)
	}
	d.depth = attachment{tex, view}
	return nil
}

func (d *Device) releaseAttachments() {
	d.DestroyTexture(d.backbuffer.tex, d.backbuffer.view)
	d.DestroyTexture(d.depth.tex, d.depth.view)
	d.backbuffer = attachment{}
	d.depth = attachment{}
}

// Resize rebuilds the default framebuffer chain when the size changes.
// It reports whether a reallocation happened; a repeated size is a no-op.
//
// A resize requested while a frame is open is deferred and applied when
// the frame is finished: after EndFrame, after Present when a surface
// image is waiting, or at the next BeginFrame. Only the last deferred
// size is kept.
func (d *Device) Resize(width, height uint32) (bool, error) {
	if d.closed {
		return false, ErrNotInitialized
	}
	width, height = max(width, 1), max(height, 1)
	if d.frame != nil {
		d.pending = [2]uint32{width, height}
		d.hasPending = width != d.width || height != d.height
		return false, nil
	}
	d.hasPending = false
	if width == d.width && height == d.height {
		return false, nil
	}
	if err := d.device.WaitIdle(); err != nil {
		return false, fmt.Errorf("backend: resize: %w", err)
	}
	if err := d.allocate(width, height); err != nil {
		return false, err
	}
	d.reallocs++
	logging.L().Debug("backend: framebuffer reallocated", "width", width, "height", height, "count", d.reallocs)
	return true, nil
}

// ResizePending reports whether a deferred resize is waiting for the
// current frame to finish.
func (d *Device) ResizePending() bool { return d.hasPending }

// applyPending performs a deferred resize.
func (d *Device) applyPending() error {
	if !d.hasPending {
		return nil
	}
	if d.presentable != nil {
		d.dropPresentable()
	}
	_, err := d.Resize(d.pending[0], d.pending[1])
	return err
}

// reclaim frees command buffers whose submissions have completed.
func (d *Device) reclaim() {
	done := d.queue.PollCompleted()
	n := 0
	for _, s := range d.inflight {
		if s.index <= done {
			d.device.FreeCommandBuffer(s.cmd)
			continue
		}
		d.inflight[n] = s
		n++
	}
	clear(d.inflight[n:])
	d.inflight = d.inflight[:n]
}

// Close waits for the GPU and releases the device. It is safe to call
// more than once.
func (d *Device) Close() {
	if d.closed {
		return
	}
	d.closed = true
	if d.frame != nil {
		d.abortFrame()
	}
	if d.device != nil {
		if err := d.device.WaitIdle(); err != nil {
			logging.L().Warn("backend: wait idle on close", "err", err)
		}
		for _, s := range d.inflight {
			d.device.FreeCommandBuffer(s.cmd)
		}
		d.inflight = nil
		d.releaseAttachments()
	}
	if d.presentable != nil {
		d.dropPresentable()
	}
	if d.surface != nil {
		d.surface.Unconfigure(d.device)
		d.surface.Destroy()
		d.surface = nil
	}
	if d.device != nil {
		d.device.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
	}
	logging.L().Info("backend: device closed", "kind", d.kind)
}
