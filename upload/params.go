// Package upload describes texture payloads handed to the renderer.
//
// A Params value is the parameter block for every texture upload,
// regardless of the container it was read from. Parsers for PVR v3,
// DDS and KTX v1 containers, and a decoder for ordinary images, all
// produce the same canonical layout:
//
//	for each mip level (largest first)
//	    for each face (+X, -X, +Y, -Y, +Z, -Z for cubemaps)
//	        tightly packed rows of pixels or compressed blocks
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"

	"github.com/gogpu/gputypes"
)

// Upload errors.
var (
	// ErrInvalidHeader is returned when a container header is malformed.
	ErrInvalidHeader = errors.New("upload: invalid header")

	// ErrUnsupportedFormat is returned for pixel formats with no GPU mapping.
	ErrUnsupportedFormat = errors.New("upload: unsupported pixel format")

	// ErrTruncated is returned when the payload is shorter than the header claims.
	ErrTruncated = errors.New("upload: payload truncated")

	// ErrInvalidParams is returned when a Params value is inconsistent.
	ErrInvalidParams = errors.New("upload: invalid parameters")
)

// MaxDimension is the largest width or height accepted for a texture.
const MaxDimension = 16384

// MaxMips returns the number of levels in the full mip chain of a w x h
// image.
func MaxMips(w, h uint32) uint32 { return uint32(bits.Len32(max(w, h, 1))) }

func unsupported(f gputypes.TextureFormat) error {
	return fmt.Errorf("%w: %v", ErrUnsupportedFormat, f)
}

// Params is the parameter block of a texture upload.
type Params struct {
	PixelFormat gputypes.TextureFormat
	Width       uint32
	Height      uint32

	// NumMipmaps is the number of mip levels in Payload. Zero means one.
	NumMipmaps uint32

	// FaceCount is 1 for 2D textures and 6 for cubemaps. Zero means one.
	FaceCount uint32

	// Payload holds every level and face in canonical order.
	Payload []byte
}

// Clone returns a deep copy of p. Tasks clone their parameters so the
// caller may reuse its buffer as soon as the upload call returns.
func (p Params) Clone() Params {
	p.Payload = bytes.Clone(p.Payload)
	return p
}

// Mips returns the number of mip levels.
func (p Params) Mips() uint32 { return max(p.NumMipmaps, 1) }

// Faces returns the number of faces.
func (p Params) Faces() uint32 { return max(p.FaceCount, 1) }

// IsCube reports whether p describes a cubemap.
func (p Params) IsCube() bool { return p.Faces() == 6 }

// LevelExtent returns the dimensions of mip level.
func (p Params) LevelExtent(level uint32) (w, h uint32) {
	return max(p.Width>>level, 1), max(p.Height>>level, 1)
}

// Size returns the payload size implied by the header fields.
func (p Params) Size() (int, error) {
	total := 0
	for level := range p.Mips() {
		w, h := p.LevelExtent(level)
		_, _, size, err := Layout(p.PixelFormat, w, h)
		if err != nil {
			return 0, err
		}
		total += size * int(p.Faces())
	}
	return total, nil
}

// Validate checks that the header fields are consistent with the payload.
func (p Params) Validate() error {
	if err := p.checkHeader(); err != nil {
		return err
	}
	want, err := p.Size()
	if err != nil {
		return err
	}
	if len(p.Payload) < want {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrTruncated, len(p.Payload), want)
	}
	return nil
}

// checkHeader validates the header fields alone. Parsers call it before
// sizing anything from the header.
func (p Params) checkHeader() error {
	if p.Width == 0 || p.Height == 0 {
		return fmt.Errorf("%w: zero extent %dx%d", ErrInvalidParams, p.Width, p.Height)
	}
	if p.Width > MaxDimension || p.Height > MaxDimension {
		return fmt.Errorf("%w: extent %dx%d exceeds %d", ErrInvalidParams, p.Width, p.Height, MaxDimension)
	}
	if f := p.Faces(); f != 1 && f != 6 {
		return fmt.Errorf("%w: face count %d", ErrInvalidParams, f)
	}
	if p.IsCube() && p.Width != p.Height {
		return fmt.Errorf("%w: cubemap faces must be square, got %dx%d", ErrInvalidParams, p.Width, p.Height)
	}
	if m := p.Mips(); m > MaxMips(p.Width, p.Height) {
		return fmt.Errorf("%w: %d mip levels for %dx%d", ErrInvalidParams, m, p.Width, p.Height)
	}
	return nil
}

// headerError checks p and wraps a failure as a container header error.
func headerError(p Params) error {
	if err := p.checkHeader(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	return nil
}

// Level returns the bytes of one face of one mip level.
func (p Params) Level(level, face uint32) ([]byte, error) {
	if level >= p.Mips() || face >= p.Faces() {
		return nil, fmt.Errorf("%w: level %d face %d out of range", ErrInvalidParams, level, face)
	}
	off := 0
	for l := range level + 1 {
		w, h := p.LevelExtent(l)
		_, _, size, err := Layout(p.PixelFormat, w, h)
		if err != nil {
			return nil, err
		}
		if l == level {
			off += size * int(face)
			if off+size > len(p.Payload) {
				return nil, ErrTruncated
			}
			return p.Payload[off : off+size], nil
		}
		off += size * int(p.Faces())
	}
	return nil, ErrTruncated
}
