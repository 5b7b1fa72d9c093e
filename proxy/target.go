package proxy

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/internal/logging"
)

// Sampled is a proxy that can be bound to a texture slot of a program.
type Sampled interface {
	Resource
	View() hal.TextureView
	Sampler() hal.Sampler
	Generation() uint64
}

var (
	_ Sampled = (*Texture)(nil)
	_ Sampled = (*Target)(nil)
)

// Target is an offscreen render target: a color attachment that can later
// be sampled, and an optional depth attachment.
type Target struct {
	base
	format   gputypes.TextureFormat
	hasDepth bool

	width, height uint32
	color         attachment
	depth         attachment
	sampler       hal.Sampler
	depthFormat   gputypes.TextureFormat
	generation    uint64
}

type attachment struct {
	tex  hal.Texture
	view hal.TextureView
}

// NewTarget allocates an Uncreated render target proxy.
func NewTarget(label string) *Target {
	return &Target{base: newBase(KindTarget, label)}
}

// Size returns the current extent.
func (t *Target) Size() (width, height uint32) { return t.width, t.height }

// Format returns the color format.
func (t *Target) Format() gputypes.TextureFormat { return t.format }

// View returns the color view.
func (t *Target) View() hal.TextureView { return t.color.view }

// Sampler returns the sampler used when the color attachment is bound
// as a texture.
func (t *Target) Sampler() hal.Sampler { return t.sampler }

// Generation identifies the current color view.
func (t *Target) Generation() uint64 { return t.generation }

// Attachments returns the frame attachments for BeginFrame.
func (t *Target) Attachments() backend.Attachments {
	return backend.Attachments{
		Color:       t.color.view,
		Depth:       t.depth.view,
		ColorFormat: t.format,
		DepthFormat: t.depthFormat,
		Width:       t.width,
		Height:      t.height,
	}
}

// Create allocates a w x h color attachment of format and, if depth is
// set, a depth attachment in the device depth format.
func (t *Target) Create(dev *backend.Device, w, h uint32, format gputypes.TextureFormat, depth bool) error {
	if err := t.canCreate(); err != nil {
		return err
	}
	if format == gputypes.TextureFormatUndefined {
		format = dev.ColorFormat()
	}
	t.format, t.hasDepth, t.depthFormat = format, depth, dev.DepthFormat()

	sampler, err := dev.HAL().CreateSampler(&hal.SamplerDescriptor{
		Label:        t.label,
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeNearest,
		LodMaxClamp:  1,
		Anisotropy:   1,
	})
	if err != nil {
		return t.fail(err)
	}
	t.sampler = sampler
	if err := t.allocate(dev, max(w, 1), max(h, 1)); err != nil {
		logging.L().Warn("proxy: render target creation failed", "target", t.String(), "err", err)
		return t.fail(err)
	}
	t.created()
	return nil
}

func (t *Target) allocate(dev *backend.Device, w, h uint32) error {
	t.releaseAttachments(dev)
	tex, view, err := dev.CreateTexture(&hal.TextureDescriptor{
		Label:         t.label,
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        t.format,
		Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding |
			gputypes.TextureUsageCopySrc,
	}, gputypes.TextureViewDimension2D)
	if err != nil {
		return fmt.Errorf("color attachment: %w", err)
	}
	t.color = attachment{tex, view}
	if t.hasDepth {
		tex, view, err := dev.CreateTexture(&hal.TextureDescriptor{
			Label:         t.label + "-depth",
			Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        t.depthFormat,
			Usage:         gputypes.TextureUsageRenderAttachment,
		}, gputypes.TextureViewDimension2D)
		if err != nil {
			return fmt.Errorf("depth attachment: %w", err)
		}
		t.depth = attachment{tex, view}
	}
	t.width, t.height = w, h
	t.generation++
	return nil
}

func (t *Target) releaseAttachments(dev *backend.Device) {
	dev.DestroyTexture(t.color.tex, t.color.view)
	dev.DestroyTexture(t.depth.tex, t.depth.view)
	t.color, t.depth = attachment{}, attachment{}
}

// Resize reallocates the attachments when the extent changes. It reports
// whether a reallocation happened.
func (t *Target) Resize(dev *backend.Device, w, h uint32) (bool, error) {
	if err := t.Usable(); err != nil {
		return false, err
	}
	w, h = max(w, 1), max(h, 1)
	if w == t.width && h == t.height {
		return false, nil
	}
	if err := t.allocate(dev, w, h); err != nil {
		return false, t.fail(err)
	}
	return true, nil
}

// Release destroys the attachments and the sampler.
func (t *Target) Release(dev *backend.Device) {
	if !t.released() {
		return
	}
	t.releaseAttachments(dev)
	if t.sampler != nil {
		dev.HAL().DestroySampler(t.sampler)
		t.sampler = nil
	}
	t.generation++
}
