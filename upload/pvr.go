package upload

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
)

const (
	pvrVersion        = 0x03525650 // "PVR\x03"
	pvrVersionSwapped = 0x50565203
	pvrHeaderSize     = 52
	pvrColourSRGB     = 1
)

// pvrCompressed maps PVR v3 compressed pixel format ids. Both entries are
// used for the linear and sRGB colour spaces.
var pvrCompressed = map[uint32][2]gputypes.TextureFormat{
	6:  {gputypes.TextureFormatETC2RGB8Unorm, gputypes.TextureFormatETC2RGB8UnormSrgb}, // ETC1
	7:  {gputypes.TextureFormatBC1RGBAUnorm, gputypes.TextureFormatBC1RGBAUnormSrgb},   // DXT1
	9:  {gputypes.TextureFormatBC2RGBAUnorm, gputypes.TextureFormatBC2RGBAUnormSrgb},   // DXT3
	11: {gputypes.TextureFormatBC3RGBAUnorm, gputypes.TextureFormatBC3RGBAUnormSrgb},   // DXT5
	12: {gputypes.TextureFormatBC4RUnorm, gputypes.TextureFormatBC4RUnorm},
	13: {gputypes.TextureFormatBC5RGUnorm, gputypes.TextureFormatBC5RGUnorm},
	14: {gputypes.TextureFormatBC6HRGBUfloat, gputypes.TextureFormatBC6HRGBUfloat},
	15: {gputypes.TextureFormatBC7RGBAUnorm, gputypes.TextureFormatBC7RGBAUnormSrgb},
	22: {gputypes.TextureFormatETC2RGB8Unorm, gputypes.TextureFormatETC2RGB8UnormSrgb},
	23: {gputypes.TextureFormatETC2RGBA8Unorm, gputypes.TextureFormatETC2RGBA8UnormSrgb},
	24: {gputypes.TextureFormatETC2RGB8A1Unorm, gputypes.TextureFormatETC2RGB8A1UnormSrgb},
	25: {gputypes.TextureFormatEACR11Unorm, gputypes.TextureFormatEACR11Unorm},
	26: {gputypes.TextureFormatEACRG11Unorm, gputypes.TextureFormatEACRG11Unorm},
}

// PVR ids 27..40 are the 2D ASTC block sizes in the same order as GL.
const (
	pvrASTCFirst = 27
	pvrPVRTCLast = 5
)

// ParsePVR reads a PowerVR texture container, version 3.
//
// PVRTC payloads (ids 0-5) are rejected: no supported backend samples
// them. Uncompressed 8-bit RGBA and BGRA surfaces are accepted.
func ParsePVR(data []byte) (Params, error) {
	if len(data) < pvrHeaderSize {
		return Params{}, fmt.Errorf("%w: PVR header", ErrTruncated)
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch binary.LittleEndian.Uint32(data) {
	case pvrVersion:
	case pvrVersionSwapped:
		order = binary.BigEndian
	default:
		return Params{}, fmt.Errorf("%w: not a PVR v3 file", ErrInvalidHeader)
	}

	pixelFormat := order.Uint64(data[8:])
	srgb := order.Uint32(data[16:]) == pvrColourSRGB
	p := Params{
		Height:     order.Uint32(data[24:]),
		Width:      order.Uint32(data[28:]),
		NumMipmaps: max(order.Uint32(data[44:]), 1),
		FaceCount:  max(order.Uint32(data[40:]), 1),
	}
	if depth, surfaces := order.Uint32(data[32:]), order.Uint32(data[36:]); depth > 1 || surfaces > 1 {
		return Params{}, fmt.Errorf("%w: 3D or array PVR textures", ErrUnsupportedFormat)
	}

	f, err := pvrFormat(pixelFormat, srgb)
	if err != nil {
		return Params{}, err
	}
	p.PixelFormat = f
	if err := headerError(p); err != nil {
		return Params{}, err
	}

	off := pvrHeaderSize + int(order.Uint32(data[48:]))
	if off > len(data) {
		return Params{}, fmt.Errorf("%w: PVR metadata", ErrTruncated)
	}
	want, err := p.Size()
	if err != nil {
		return Params{}, err
	}
	if len(data)-off < want {
		return Params{}, fmt.Errorf("%w: have %d bytes, need %d", ErrTruncated, len(data)-off, want)
	}
	p.Payload = data[off : off+want : off+want]
	return p, nil
}

func pvrFormat(pf uint64, srgb bool) (gputypes.TextureFormat, error) {
	idx := 0
	if srgb {
		idx = 1
	}
	if pf>>32 == 0 {
		id := uint32(pf)
		if f, ok := pvrCompressed[id]; ok {
			return f[idx], nil
		}
		if id >= pvrASTCFirst && id < pvrASTCFirst+astcFormatCount {
			return astcFormats[id-pvrASTCFirst][idx], nil
		}
		if id <= pvrPVRTCLast {
			return 0, fmt.Errorf("%w: PVRTC (id %d)", ErrUnsupportedFormat, id)
		}
		return 0, fmt.Errorf("%w: PVR format id %d", ErrUnsupportedFormat, id)
	}

	// Uncompressed: four channel names followed by four bit widths.
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], pf)
	if b[4] != 8 || b[5] != 8 || b[6] != 8 || b[7] != 8 {
		return 0, fmt.Errorf("%w: PVR channel widths %v", ErrUnsupportedFormat, b[4:])
	}
	switch string(b[:4]) {
	case "rgba":
		if srgb {
			return gputypes.TextureFormatRGBA8UnormSrgb, nil
		}
		return gputypes.TextureFormatRGBA8Unorm, nil
	case "bgra":
		if srgb {
			return gputypes.TextureFormatBGRA8UnormSrgb, nil
		}
		return gputypes.TextureFormatBGRA8Unorm, nil
	}
	return 0, fmt.Errorf("%w: PVR channel order %q", ErrUnsupportedFormat, b[:4])
}
