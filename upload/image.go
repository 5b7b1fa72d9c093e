package upload

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/gogpu/gputypes"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// FromImage converts img to an RGBA8 upload. With mipmaps set the full
// chain down to 1x1 is generated with a bilinear filter.
func FromImage(img image.Image, mipmaps bool) Params {
	b := img.Bounds()
	base := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(base, base.Bounds(), img, b.Min, draw.Src)

	levels := []*image.RGBA{base}
	if mipmaps {
		n := 1 + int(math.Floor(math.Log2(float64(max(b.Dx(), b.Dy())))))
		for i := 1; i < n; i++ {
			levels = append(levels, downsample(levels[i-1]))
		}
	}

	size := 0
	for _, l := range levels {
		size += len(l.Pix)
	}
	payload := make([]byte, 0, size)
	for _, l := range levels {
		payload = append(payload, l.Pix...)
	}

	return Params{
		PixelFormat: gputypes.TextureFormatRGBA8Unorm,
		Width:       uint32(b.Dx()),
		Height:      uint32(b.Dy()),
		NumMipmaps:  uint32(len(levels)),
		FaceCount:   1,
		Payload:     payload,
	}
}

// downsample halves src in each dimension.
func downsample(src *image.RGBA) *image.RGBA {
	sb := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, max(sb.Dx()/2, 1), max(sb.Dy()/2, 1)))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst
}

// Decode reads a PNG, JPEG, GIF, BMP, TIFF or WebP image.
func Decode(r io.Reader, mipmaps bool) (Params, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return Params{}, fmt.Errorf("upload: decode image: %w", err)
	}
	return FromImage(img, mipmaps), nil
}

// Load picks a parser by file extension: .dds, .ktx and .pvr are read as
// containers, anything else is decoded as an image. mipmaps only applies
// to images; containers carry their own chain.
func Load(name string, data []byte, mipmaps bool) (Params, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".dds":
		return ParseDDS(data)
	case ".ktx":
		return ParseKTX(data)
	case ".pvr":
		return ParsePVR(data)
	default:
		return Decode(bytes.NewReader(data), mipmaps)
	}
}
