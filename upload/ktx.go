package upload

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
)

var ktxIdentifier = []byte{0xAB, 'K', 'T', 'X', ' ', '1', '1', 0xBB, '\r', '\n', 0x1A, '\n'}

const (
	ktxHeaderSize   = 64
	ktxEndianness   = 0x04030201
	glUnsignedByte  = 0x1401
	glRGBA          = 0x1908
	glBGRA          = 0x80E1
	glRGBA8         = 0x8058
	glSRGB8Alpha8   = 0x8C43
	glASTC4x4       = 0x93B0
	glSRGBASTC4x4   = 0x93D0
	astcFormatCount = 14
)

// ktxCompressed maps glInternalFormat values of compressed KTX textures.
var ktxCompressed = map[uint32]gputypes.TextureFormat{
	0x83F0: gputypes.TextureFormatBC1RGBAUnorm, // COMPRESSED_RGB_S3TC_DXT1
	0x83F1: gputypes.TextureFormatBC1RGBAUnorm, // COMPRESSED_RGBA_S3TC_DXT1
	0x83F2: gputypes.TextureFormatBC2RGBAUnorm,
	0x83F3: gputypes.TextureFormatBC3RGBAUnorm,
	0x8C4D: gputypes.TextureFormatBC1RGBAUnormSrgb,
	0x8C4E: gputypes.TextureFormatBC2RGBAUnormSrgb,
	0x8C4F: gputypes.TextureFormatBC3RGBAUnormSrgb,
	0x8DBB: gputypes.TextureFormatBC4RUnorm,
	0x8DBC: gputypes.TextureFormatBC4RSnorm,
	0x8DBD: gputypes.TextureFormatBC5RGUnorm,
	0x8DBE: gputypes.TextureFormatBC5RGSnorm,
	0x8E8C: gputypes.TextureFormatBC7RGBAUnorm,
	0x8E8D: gputypes.TextureFormatBC7RGBAUnormSrgb,
	0x8E8E: gputypes.TextureFormatBC6HRGBFloat,
	0x8E8F: gputypes.TextureFormatBC6HRGBUfloat,
	0x8D64: gputypes.TextureFormatETC2RGB8Unorm, // ETC1_RGB8_OES decodes as ETC2
	0x9270: gputypes.TextureFormatEACR11Unorm,
	0x9271: gputypes.TextureFormatEACR11Snorm,
	0x9272: gputypes.TextureFormatEACRG11Unorm,
	0x9273: gputypes.TextureFormatEACRG11Snorm,
	0x9274: gputypes.TextureFormatETC2RGB8Unorm,
	0x9275: gputypes.TextureFormatETC2RGB8UnormSrgb,
	0x9276: gputypes.TextureFormatETC2RGB8A1Unorm,
	0x9277: gputypes.TextureFormatETC2RGB8A1UnormSrgb,
	0x9278: gputypes.TextureFormatETC2RGBA8Unorm,
	0x9279: gputypes.TextureFormatETC2RGBA8UnormSrgb,
}

// astcFormats lists the 2D ASTC block sizes in GL enum order.
var astcFormats = [astcFormatCount][2]gputypes.TextureFormat{
	{gputypes.TextureFormatASTC4x4Unorm, gputypes.TextureFormatASTC4x4UnormSrgb},
	{gputypes.TextureFormatASTC5x4Unorm, gputypes.TextureFormatASTC5x4UnormSrgb},
	{gputypes.TextureFormatASTC5x5Unorm, gputypes.TextureFormatASTC5x5UnormSrgb},
	{gputypes.TextureFormatASTC6x5Unorm, gputypes.TextureFormatASTC6x5UnormSrgb},
	{gputypes.TextureFormatASTC6x6Unorm, gputypes.TextureFormatASTC6x6UnormSrgb},
	{gputypes.TextureFormatASTC8x5Unorm, gputypes.TextureFormatASTC8x5UnormSrgb},
	{gputypes.TextureFormatASTC8x6Unorm, gputypes.TextureFormatASTC8x6UnormSrgb},
	{gputypes.TextureFormatASTC8x8Unorm, gputypes.TextureFormatASTC8x8UnormSrgb},
	{gputypes.TextureFormatASTC10x5Unorm, gputypes.TextureFormatASTC10x5UnormSrgb},
	{gputypes.TextureFormatASTC10x6Unorm, gputypes.TextureFormatASTC10x6UnormSrgb},
	{gputypes.TextureFormatASTC10x8Unorm, gputypes.TextureFormatASTC10x8UnormSrgb},
	{gputypes.TextureFormatASTC10x10Unorm, gputypes.TextureFormatASTC10x10UnormSrgb},
	{gputypes.TextureFormatASTC12x10Unorm, gputypes.TextureFormatASTC12x10UnormSrgb},
	{gputypes.TextureFormatASTC12x12Unorm, gputypes.TextureFormatASTC12x12UnormSrgb},
}

func ktxFormat(glType, glFormat, internal uint32) (gputypes.TextureFormat, error) {
	if f, ok := ktxCompressed[internal]; ok {
		return f, nil
	}
	switch {
	case internal >= glASTC4x4 && internal < glASTC4x4+astcFormatCount:
		return astcFormats[internal-glASTC4x4][0], nil
	case internal >= glSRGBASTC4x4 && internal < glSRGBASTC4x4+astcFormatCount:
		return astcFormats[internal-glSRGBASTC4x4][1], nil
	}
	if glType == glUnsignedByte {
		switch {
		case glFormat == glRGBA && internal == glRGBA8:
			return gputypes.TextureFormatRGBA8Unorm, nil
		case glFormat == glRGBA && internal == glSRGB8Alpha8:
			return gputypes.TextureFormatRGBA8UnormSrgb, nil
		case glFormat == glBGRA:
			return gputypes.TextureFormatBGRA8Unorm, nil
		}
	}
	return 0, fmt.Errorf("%w: GL internal format %#x (type %#x, format %#x)",
		ErrUnsupportedFormat, internal, glType, glFormat)
}

// ParseKTX reads a KTX version 1 container. Both byte orders are accepted.
// Array textures and 3D textures are rejected.
func ParseKTX(data []byte) (Params, error) {
	if len(data) < ktxHeaderSize || !bytes.Equal(data[:12], ktxIdentifier) {
		return Params{}, fmt.Errorf("%w: not a KTX 1 file", ErrInvalidHeader)
	}

	var order binary.ByteOrder = binary.LittleEndian
	switch binary.LittleEndian.Uint32(data[12:]) {
	case ktxEndianness:
	case 0x01020304:
		order = binary.BigEndian
	default:
		return Params{}, fmt.Errorf("%w: KTX endianness marker", ErrInvalidHeader)
	}
	field := func(i int) uint32 { return order.Uint32(data[16+4*i:]) }

	glType, glFormat, internal := field(0), field(2), field(3)
	depth, arrayElems, faces, mips, kvBytes := field(7), field(8), field(9), field(10), field(11)
	if depth > 1 || arrayElems > 0 {
		return Params{}, fmt.Errorf("%w: 3D or array KTX textures", ErrUnsupportedFormat)
	}
	if faces != 1 && faces != 6 {
		return Params{}, fmt.Errorf("%w: KTX face count %d", ErrInvalidHeader, faces)
	}

	f, err := ktxFormat(glType, glFormat, internal)
	if err != nil {
		return Params{}, err
	}
	p := Params{
		PixelFormat: f,
		Width:       field(5),
		Height:      max(field(6), 1),
		NumMipmaps:  max(mips, 1),
		FaceCount:   faces,
	}

	if err := headerError(p); err != nil {
		return Params{}, err
	}

	off := ktxHeaderSize + int(kvBytes)
	if off > len(data) {
		return Params{}, fmt.Errorf("%w: key/value data", ErrTruncated)
	}

	want, err := p.Size()
	if err != nil {
		return Params{}, err
	}
	if want > len(data)-off {
		return Params{}, fmt.Errorf("%w: have %d bytes, need %d", ErrTruncated, len(data)-off, want)
	}
	payload := make([]byte, 0, want)
	for level := range p.Mips() {
		if off+4 > len(data) {
			return Params{}, fmt.Errorf("%w: level %d size", ErrTruncated, level)
		}
		imageSize := int(order.Uint32(data[off:]))
		off += 4
		w, h := p.LevelExtent(level)
		_, _, size, _ := Layout(f, w, h)
		if imageSize < size {
			return Params{}, fmt.Errorf("%w: level %d is %d bytes, need %d", ErrInvalidHeader, level, imageSize, size)
		}
		for range p.Faces() {
			if off+imageSize > len(data) {
				return Params{}, fmt.Errorf("%w: level %d data", ErrTruncated, level)
			}
			payload = append(payload, data[off:off+size]...)
			off += pad4(imageSize)
		}
	}
	p.Payload = payload
	return p, nil
}

func pad4(n int) int { return (n + 3) &^ 3 }
