package backend

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuq/internal/logging"
)

// halBackend opens devices through a registered wgpu HAL driver.
type halBackend struct {
	kind Kind
	api  hal.Backend // nil: looked up in the HAL registry on Open
}

// NewHAL returns a backend for kind driven by api. A nil api resolves the
// driver registered with the HAL for kind.Variant() at Open time.
func NewHAL(kind Kind, api hal.Backend) Backend {
	return &halBackend{kind: kind, api: api}
}

func (b *halBackend) Kind() Kind { return b.kind }

func (b *halBackend) Open(cfg Config) (*Device, error) {
	api := b.api
	if api == nil {
		var ok bool
		api, ok = hal.GetBackend(b.kind.Variant())
		if !ok {
			return nil, fmt.Errorf("%w: no HAL driver for %v", ErrBackendNotAvailable, b.kind)
		}
	}
	return openHAL(b.kind, api, cfg, false, nil)
}

// openHAL creates an instance, picks an adapter and opens a device. A
// non-nil wrap decorates the opened HAL device.
func openHAL(kind Kind, api hal.Backend, cfg Config, hostVisible bool, wrap func(hal.Device) hal.Device) (*Device, error) {
	desc := &hal.InstanceDescriptor{
		Backends: gputypes.Backends(1) << api.Variant(),
	}
	if cfg.Debug {
		desc.Flags = gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	if kind == GLES2 {
		desc.GLBackend = gputypes.GLBackendGLES
	}
	instance, err := api.CreateInstance(desc)
	if err != nil {
		return nil, fmt.Errorf("backend: %v: create instance: %w", kind, err)
	}

	var surface hal.Surface
	if cfg.WindowHandle != 0 {
		surface, err = instance.CreateSurface(cfg.DisplayHandle, cfg.WindowHandle)
		if err != nil {
			instance.Destroy()
			return nil, fmt.Errorf("backend: %v: create surface: %w", kind, err)
		}
	}

	adapters := instance.EnumerateAdapters(surface)
	if len(adapters) == 0 {
		if surface != nil {
			surface.Destroy()
		}
		instance.Destroy()
		return nil, fmt.Errorf("backend: %v: %w", kind, ErrNoAdapter)
	}
	selected := pickAdapter(adapters)

	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		if surface != nil {
			surface.Destroy()
		}
		instance.Destroy()
		return nil, fmt.Errorf("backend: %v: open device: %w", kind, err)
	}

	dev := open.Device
	if wrap != nil {
		dev = wrap(dev)
	}
	w, h := cfg.size()
	d, err := NewDevice(dev, open.Queue, DeviceOptions{
		Kind:        kind,
		Info:        selected.Info,
		Instance:    instance,
		Surface:     surface,
		HostVisible: hostVisible,
		VSync:       cfg.VSync,
		Width:       w,
		Height:      h,
	})
	if err != nil {
		return nil, err
	}
	logging.L().Info("backend: device opened", "kind", kind, "adapter", selected.Info.Name, "width", w, "height", h)
	return d, nil
}

// pickAdapter prefers a discrete GPU, then an integrated one, then the
// first adapter listed.
func pickAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}
