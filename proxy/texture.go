package proxy

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/internal/logging"
	"github.com/gogpu/gpuq/upload"
)

// TextureDesc describes a texture to create.
type TextureDesc struct {
	Label  string
	Format gputypes.TextureFormat
	// Usage is added to TextureBinding|CopyDst, which every texture has.
	Usage  gputypes.TextureUsage
	Width  uint32
	Height uint32
	// Mips is the mip level count. Zero means one.
	Mips uint32
	// Faces is 1 for a 2D texture or 6 for a cubemap. Zero means one.
	Faces uint32

	// Filter is used for magnification, minification and mip selection.
	// Zero means linear.
	Filter gputypes.FilterMode
	// Wrap applies to every axis. Zero means clamp to edge.
	Wrap gputypes.AddressMode
}

func (d TextureDesc) normalize() TextureDesc {
	d.Mips = max(d.Mips, 1)
	d.Faces = max(d.Faces, 1)
	if d.Filter == gputypes.FilterModeUndefined {
		d.Filter = gputypes.FilterModeLinear
	}
	if d.Wrap == gputypes.AddressModeUndefined {
		d.Wrap = gputypes.AddressModeClampToEdge
	}
	return d
}

func (d TextureDesc) validate() error {
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("%w: zero extent %dx%d", upload.ErrInvalidParams, d.Width, d.Height)
	}
	if d.Faces != 1 && d.Faces != 6 {
		return fmt.Errorf("%w: face count %d", upload.ErrInvalidParams, d.Faces)
	}
	if _, ok := upload.Info(d.Format); !ok {
		return fmt.Errorf("%w: %v", upload.ErrUnsupportedFormat, d.Format)
	}
	return nil
}

// params returns an upload block for desc with the given payload.
func (d TextureDesc) params(payload []byte) upload.Params {
	return upload.Params{
		PixelFormat: d.Format,
		Width:       d.Width,
		Height:      d.Height,
		NumMipmaps:  d.Mips,
		FaceCount:   d.Faces,
		Payload:     payload,
	}
}

// Texture is a 2D texture or cubemap proxy with its default view and
// sampler.
type Texture struct {
	base
	desc TextureDesc

	tex     hal.Texture
	view    hal.TextureView
	sampler hal.Sampler

	// generation changes every time the native view is replaced, so
	// programs can tell that their bind groups are stale.
	generation uint64
}

// NewTexture allocates an Uncreated texture proxy.
func NewTexture(desc TextureDesc) *Texture {
	return &Texture{base: newBase(KindTexture, desc.Label), desc: desc.normalize()}
}

// Desc returns the description of the current allocation.
func (t *Texture) Desc() TextureDesc { return t.desc }

// View returns the default view, or nil before creation.
func (t *Texture) View() hal.TextureView { return t.view }

// Sampler returns the sampler, or nil before creation.
func (t *Texture) Sampler() hal.Sampler { return t.sampler }

// Generation identifies the current native view.
func (t *Texture) Generation() uint64 { return t.generation }

// Create allocates the texture described by desc and uploads data, which
// may be empty, in canonical level-major order.
func (t *Texture) Create(dev *backend.Device, desc TextureDesc, data []byte) error {
	if err := t.canCreate(); err != nil {
		return err
	}
	desc = desc.normalize()
	if desc.Label == "" {
		desc.Label = t.label
	}
	if err := desc.validate(); err != nil {
		return t.fail(err)
	}
	if err := t.allocate(dev, desc); err != nil {
		logging.L().Warn("proxy: texture creation failed", "texture", t.String(), "err", err)
		return t.fail(err)
	}
	t.created()
	if len(data) == 0 {
		return nil
	}
	return t.write(dev, desc.params(data))
}

func (t *Texture) allocate(dev *backend.Device, desc TextureDesc) error {
	viewDim := gputypes.TextureViewDimension2D
	if desc.Faces == 6 {
		viewDim = gputypes.TextureViewDimensionCube
	}
	tex, view, err := dev.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: desc.Faces},
		MipLevelCount: desc.Mips,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage | gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	}, viewDim)
	if err != nil {
		return err
	}
	sampler := t.sampler
	if sampler == nil || desc.Filter != t.desc.Filter || desc.Wrap != t.desc.Wrap {
		sampler, err = dev.HAL().CreateSampler(&hal.SamplerDescriptor{
			Label:        desc.Label,
			AddressModeU: desc.Wrap,
			AddressModeV: desc.Wrap,
			AddressModeW: desc.Wrap,
			MagFilter:    desc.Filter,
			MinFilter:    desc.Filter,
			MipmapFilter: desc.Filter,
			LodMaxClamp:  float32(desc.Mips),
			Anisotropy:   1,
		})
		if err != nil {
			dev.DestroyTexture(tex, view)
			return err
		}
		if t.sampler != nil {
			dev.HAL().DestroySampler(t.sampler)
		}
	}
	dev.DestroyTexture(t.tex, t.view)
	t.tex, t.view, t.sampler = tex, view, sampler
	t.desc = desc
	t.generation++
	return nil
}

// Upload replaces the texture contents with p. When p does not match the
// current allocation (format, extent, mip or face count) the texture is
// reallocated to fit it first.
func (t *Texture) Upload(dev *backend.Device, p upload.Params) error {
	if err := t.canCreate(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	desc := t.desc
	desc.Format, desc.Width, desc.Height = p.PixelFormat, p.Width, p.Height
	desc.Mips, desc.Faces = p.Mips(), p.Faces()
	if t.tex == nil || desc != t.desc {
		if err := t.allocate(dev, desc); err != nil {
			logging.L().Warn("proxy: texture reallocation failed", "texture", t.String(), "err", err)
			return t.fail(err)
		}
		t.created()
	}
	if err := t.Usable(); err != nil {
		return err
	}
	return t.write(dev, p)
}

// write uploads every level and face of p.
func (t *Texture) write(dev *backend.Device, p upload.Params) error {
	info, ok := upload.Info(p.PixelFormat)
	if !ok {
		return fmt.Errorf("%w: %v", upload.ErrUnsupportedFormat, p.PixelFormat)
	}
	for level := range p.Mips() {
		w, h := p.LevelExtent(level)
		bpr, rows, _, err := upload.Layout(p.PixelFormat, w, h)
		if err != nil {
			return err
		}
		// Copies of block-compressed levels cover whole blocks.
		extent := hal.Extent3D{
			Width:              (w + info.BlockWidth - 1) / info.BlockWidth * info.BlockWidth,
			Height:             (h + info.BlockHeight - 1) / info.BlockHeight * info.BlockHeight,
			DepthOrArrayLayers: 1,
		}
		for face := range p.Faces() {
			data, err := p.Level(level, face)
			if err != nil {
				return err
			}
			err = dev.Queue().WriteTexture(&hal.ImageCopyTexture{
				Texture:  t.tex,
				MipLevel: level,
				Origin:   hal.Origin3D{Z: face},
				Aspect:   gputypes.TextureAspectAll,
			}, data, &hal.ImageDataLayout{BytesPerRow: bpr, RowsPerImage: rows}, &extent)
			if err != nil {
				return fmt.Errorf("proxy: write %s level %d face %d: %w", t, level, face, err)
			}
		}
	}
	return nil
}

// UpdateSub2D writes a w x h region at (x, y) of one mip level of a 2D
// texture. data holds tightly packed rows.
func (t *Texture) UpdateSub2D(dev *backend.Device, x, y, w, h, level uint32, data []byte) error {
	if err := t.Usable(); err != nil {
		return err
	}
	if level >= t.desc.Mips {
		return fmt.Errorf("%w: level %d of %d", backend.ErrOutOfRange, level, t.desc.Mips)
	}
	lw, lh := max(t.desc.Width>>level, 1), max(t.desc.Height>>level, 1)
	if w == 0 || h == 0 || x+w > lw || y+h > lh {
		return fmt.Errorf("%w: region %dx%d at (%d,%d) in %dx%d level %d", backend.ErrOutOfRange, w, h, x, y, lw, lh, level)
	}
	bpr, rows, size, err := upload.Layout(t.desc.Format, w, h)
	if err != nil {
		return err
	}
	if len(data) < size {
		return fmt.Errorf("%w: have %d bytes, need %d", upload.ErrTruncated, len(data), size)
	}
	return dev.Queue().WriteTexture(&hal.ImageCopyTexture{
		Texture:  t.tex,
		MipLevel: level,
		Origin:   hal.Origin3D{X: x, Y: y},
		Aspect:   gputypes.TextureAspectAll,
	}, data[:size], &hal.ImageDataLayout{BytesPerRow: bpr, RowsPerImage: rows}, &hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1})
}

// Release destroys the texture, its view and its sampler.
func (t *Texture) Release(dev *backend.Device) {
	if !t.released() {
		return
	}
	dev.DestroyTexture(t.tex, t.view)
	if t.sampler != nil {
		dev.HAL().DestroySampler(t.sampler)
	}
	t.tex, t.view, t.sampler = nil, nil, nil
	t.generation++
}
