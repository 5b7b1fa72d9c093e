package upload

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
)

const (
	ddsMagic      = 0x20534444 // "DDS "
	ddsHeaderSize = 124
	ddsDX10Size   = 20

	ddsdMipmapCount = 0x20000
	ddpfAlphaPixels = 0x1
	ddpfFourCC      = 0x4
	ddpfRGB         = 0x40
	ddsCaps2Cubemap = 0x200
	dx10MiscCube    = 0x4
)

func fourCC(s string) uint32 { return binary.LittleEndian.Uint32([]byte(s)) }

var ddsFourCC = map[uint32]gputypes.TextureFormat{
	fourCC("DXT1"): gputypes.TextureFormatBC1RGBAUnorm,
	fourCC("DXT3"): gputypes.TextureFormatBC2RGBAUnorm,
	fourCC("DXT5"): gputypes.TextureFormatBC3RGBAUnorm,
	fourCC("ATI1"): gputypes.TextureFormatBC4RUnorm,
	fourCC("BC4U"): gputypes.TextureFormatBC4RUnorm,
	fourCC("BC4S"): gputypes.TextureFormatBC4RSnorm,
	fourCC("ATI2"): gputypes.TextureFormatBC5RGUnorm,
	fourCC("BC5U"): gputypes.TextureFormatBC5RGUnorm,
	fourCC("BC5S"): gputypes.TextureFormatBC5RGSnorm,
}

// DXGI_FORMAT values used by the DX10 extension header.
var dxgiFormats = map[uint32]gputypes.TextureFormat{
	2:  gputypes.TextureFormatRGBA32Float,
	10: gputypes.TextureFormatRGBA16Float,
	28: gputypes.TextureFormatRGBA8Unorm,
	29: gputypes.TextureFormatRGBA8UnormSrgb,
	71: gputypes.TextureFormatBC1RGBAUnorm,
	72: gputypes.TextureFormatBC1RGBAUnormSrgb,
	74: gputypes.TextureFormatBC2RGBAUnorm,
	75: gputypes.TextureFormatBC2RGBAUnormSrgb,
	77: gputypes.TextureFormatBC3RGBAUnorm,
	78: gputypes.TextureFormatBC3RGBAUnormSrgb,
	80: gputypes.TextureFormatBC4RUnorm,
	81: gputypes.TextureFormatBC4RSnorm,
	83: gputypes.TextureFormatBC5RGUnorm,
	84: gputypes.TextureFormatBC5RGSnorm,
	87: gputypes.TextureFormatBGRA8Unorm,
	91: gputypes.TextureFormatBGRA8UnormSrgb,
	95: gputypes.TextureFormatBC6HRGBUfloat,
	96: gputypes.TextureFormatBC6HRGBFloat,
	98: gputypes.TextureFormatBC7RGBAUnorm,
	99: gputypes.TextureFormatBC7RGBAUnormSrgb,
}

// ParseDDS reads a DirectDraw Surface container.
//
// Legacy FourCC headers (DXT1/3/5, ATI1/2), the DX10 extension header and
// uncompressed 32-bit RGBA/BGRA surfaces are supported. DDS stores each
// face with its full mip chain; the payload is reordered to the canonical
// mip-major layout.
func ParseDDS(data []byte) (Params, error) {
	le := binary.LittleEndian
	if len(data) < 4+ddsHeaderSize || le.Uint32(data) != ddsMagic {
		return Params{}, fmt.Errorf("%w: not a DDS file", ErrInvalidHeader)
	}
	if le.Uint32(data[4:]) != ddsHeaderSize {
		return Params{}, fmt.Errorf("%w: DDS header size %d", ErrInvalidHeader, le.Uint32(data[4:]))
	}

	flags := le.Uint32(data[8:])
	p := Params{
		Height:     le.Uint32(data[12:]),
		Width:      le.Uint32(data[16:]),
		NumMipmaps: 1,
		FaceCount:  1,
	}
	if flags&ddsdMipmapCount != 0 {
		p.NumMipmaps = max(le.Uint32(data[28:]), 1)
	}

	pfFlags := le.Uint32(data[80:])
	cc := le.Uint32(data[84:])
	caps2 := le.Uint32(data[112:])
	if caps2&ddsCaps2Cubemap != 0 {
		p.FaceCount = 6
	}

	offset := 4 + ddsHeaderSize
	switch {
	case pfFlags&ddpfFourCC != 0 && cc == fourCC("DX10"):
		if len(data) < offset+ddsDX10Size {
			return Params{}, fmt.Errorf("%w: DX10 header", ErrTruncated)
		}
		dxgi := le.Uint32(data[offset:])
		f, ok := dxgiFormats[dxgi]
		if !ok {
			return Params{}, fmt.Errorf("%w: DXGI format %d", ErrUnsupportedFormat, dxgi)
		}
		p.PixelFormat = f
		if le.Uint32(data[offset+8:])&dx10MiscCube != 0 {
			p.FaceCount = 6
		}
		if n := le.Uint32(data[offset+12:]); n > 1 {
			return Params{}, fmt.Errorf("%w: texture arrays (%d layers)", ErrUnsupportedFormat, n)
		}
		offset += ddsDX10Size
	case pfFlags&ddpfFourCC != 0:
		f, ok := ddsFourCC[cc]
		if !ok {
			return Params{}, fmt.Errorf("%w: FourCC %q", ErrUnsupportedFormat, le.AppendUint32(nil, cc))
		}
		p.PixelFormat = f
	case pfFlags&ddpfRGB != 0:
		f, err := ddsRGBFormat(data[88:], pfFlags)
		if err != nil {
			return Params{}, err
		}
		p.PixelFormat = f
	default:
		return Params{}, fmt.Errorf("%w: DDS pixel format flags %#x", ErrUnsupportedFormat, pfFlags)
	}

	if err := headerError(p); err != nil {
		return Params{}, err
	}
	payload, err := ddsReorder(p, data[offset:])
	if err != nil {
		return Params{}, err
	}
	p.Payload = payload
	return p, nil
}

// ddsRGBFormat maps an uncompressed DDS pixel format (bit count + masks).
func ddsRGBFormat(pf []byte, flags uint32) (gputypes.TextureFormat, error) {
	le := binary.LittleEndian
	bits := le.Uint32(pf)
	r, g, b := le.Uint32(pf[4:]), le.Uint32(pf[8:]), le.Uint32(pf[12:])
	if bits != 32 || flags&ddpfAlphaPixels == 0 {
		return 0, fmt.Errorf("%w: %d-bit RGB surface", ErrUnsupportedFormat, bits)
	}
	switch {
	case r == 0x000000ff && g == 0x0000ff00 && b == 0x00ff0000:
		return gputypes.TextureFormatRGBA8Unorm, nil
	case r == 0x00ff0000 && g == 0x0000ff00 && b == 0x000000ff:
		return gputypes.TextureFormatBGRA8Unorm, nil
	}
	return 0, fmt.Errorf("%w: RGB masks %#x/%#x/%#x", ErrUnsupportedFormat, r, g, b)
}

// ddsReorder converts face-major storage to mip-major storage.
func ddsReorder(p Params, src []byte) ([]byte, error) {
	mips, faces := p.Mips(), p.Faces()
	sizes := make([]int, mips)
	chain := 0
	for l := range mips {
		w, h := p.LevelExtent(l)
		_, _, size, err := Layout(p.PixelFormat, w, h)
		if err != nil {
			return nil, err
		}
		sizes[l] = size
		chain += size
	}
	total := chain * int(faces)
	if len(src) < total {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrTruncated, len(src), total)
	}
	if faces == 1 {
		return src[:total:total], nil
	}

	out := make([]byte, 0, total)
	levelOff := 0
	for l := range mips {
		for f := range faces {
			off := int(f)*chain + levelOff
			out = append(out, src[off:off+sizes[l]]...)
		}
		levelOff += sizes[l]
	}
	return out, nil
}
