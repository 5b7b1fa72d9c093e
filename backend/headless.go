package backend

import (
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

type headlessBackend struct{}

// NewHeadless returns the headless backend. Its devices keep buffers in
// memory, accept every call and never present. It is always registered.
//
// Texture views get distinct non-zero native handles so that callers can
// tell them apart as on a real driver.
func NewHeadless() Backend { return headlessBackend{} }

func (headlessBackend) Kind() Kind { return Headless }

func (headlessBackend) Open(cfg Config) (*Device, error) {
	cfg.WindowHandle = 0
	return openHAL(Headless, noop.API{}, cfg, true, wrapHeadless)
}

// headlessDevice numbers the texture views of a noop device.
type headlessDevice struct {
	hal.Device
	next atomic.Uintptr
}

func wrapHeadless(d hal.Device) hal.Device { return &headlessDevice{Device: d} }

type headlessView struct {
	hal.TextureView
	handle uintptr
}

func (v *headlessView) NativeHandle() uintptr { return v.handle }

func (d *headlessDevice) CreateTextureView(tex hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	v, err := d.Device.CreateTextureView(tex, desc)
	if err != nil {
		return nil, err
	}
	return &headlessView{TextureView: v, handle: d.next.Add(1)}, nil
}

func (d *headlessDevice) DestroyTextureView(v hal.TextureView) {
	if hv, ok := v.(*headlessView); ok {
		v = hv.TextureView
	}
	d.Device.DestroyTextureView(v)
}

func init() {
	Register(Headless, NewHeadless)
}
