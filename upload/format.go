package upload

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// FormatInfo describes the memory layout of a texture format.
//
// Uncompressed formats use a 1x1 block whose size is the pixel size.
type FormatInfo struct {
	BlockWidth  uint32
	BlockHeight uint32
	BlockBytes  uint32
}

// Compressed reports whether the format is block compressed.
func (fi FormatInfo) Compressed() bool {
	return fi.BlockWidth > 1 || fi.BlockHeight > 1
}

func pixel(n uint32) FormatInfo       { return FormatInfo{1, 1, n} }
func block(w, h, n uint32) FormatInfo { return FormatInfo{w, h, n} }

var formats = map[gputypes.TextureFormat]FormatInfo{
	gputypes.TextureFormatR8Unorm:          pixel(1),
	gputypes.TextureFormatRG8Unorm:         pixel(2),
	gputypes.TextureFormatR16Float:         pixel(2),
	gputypes.TextureFormatR32Float:         pixel(4),
	gputypes.TextureFormatRG16Float:        pixel(4),
	gputypes.TextureFormatRGBA8Unorm:       pixel(4),
	gputypes.TextureFormatRGBA8UnormSrgb:   pixel(4),
	gputypes.TextureFormatBGRA8Unorm:       pixel(4),
	gputypes.TextureFormatBGRA8UnormSrgb:   pixel(4),
	gputypes.TextureFormatRGBA16Float:      pixel(8),
	gputypes.TextureFormatRGBA32Float:      pixel(16),
	gputypes.TextureFormatDepth24Plus:      pixel(4),
	gputypes.TextureFormatDepth32Float:     pixel(4),
	gputypes.TextureFormatBC1RGBAUnorm:     block(4, 4, 8),
	gputypes.TextureFormatBC1RGBAUnormSrgb: block(4, 4, 8),
	gputypes.TextureFormatBC2RGBAUnorm:     block(4, 4, 16),
	gputypes.TextureFormatBC2RGBAUnormSrgb: block(4, 4, 16),
	gputypes.TextureFormatBC3RGBAUnorm:     block(4, 4, 16),
	gputypes.TextureFormatBC3RGBAUnormSrgb: block(4, 4, 16),
	gputypes.TextureFormatBC4RUnorm:        block(4, 4, 8),
	gputypes.TextureFormatBC4RSnorm:        block(4, 4, 8),
	gputypes.TextureFormatBC5RGUnorm:       block(4, 4, 16),
	gputypes.TextureFormatBC5RGSnorm:       block(4, 4, 16),
	gputypes.TextureFormatBC6HRGBUfloat:    block(4, 4, 16),
	gputypes.TextureFormatBC6HRGBFloat:     block(4, 4, 16),
	gputypes.TextureFormatBC7RGBAUnorm:     block(4, 4, 16),
	gputypes.TextureFormatBC7RGBAUnormSrgb: block(4, 4, 16),

	gputypes.TextureFormatETC2RGB8Unorm:       block(4, 4, 8),
	gputypes.TextureFormatETC2RGB8UnormSrgb:   block(4, 4, 8),
	gputypes.TextureFormatETC2RGB8A1Unorm:     block(4, 4, 8),
	gputypes.TextureFormatETC2RGB8A1UnormSrgb: block(4, 4, 8),
	gputypes.TextureFormatETC2RGBA8Unorm:      block(4, 4, 16),
	gputypes.TextureFormatETC2RGBA8UnormSrgb:  block(4, 4, 16),
	gputypes.TextureFormatEACR11Unorm:         block(4, 4, 8),
	gputypes.TextureFormatEACR11Snorm:         block(4, 4, 8),
	gputypes.TextureFormatEACRG11Unorm:        block(4, 4, 16),
	gputypes.TextureFormatEACRG11Snorm:        block(4, 4, 16),

	gputypes.TextureFormatASTC4x4Unorm:       block(4, 4, 16),
	gputypes.TextureFormatASTC4x4UnormSrgb:   block(4, 4, 16),
	gputypes.TextureFormatASTC5x4Unorm:       block(5, 4, 16),
	gputypes.TextureFormatASTC5x4UnormSrgb:   block(5, 4, 16),
	gputypes.TextureFormatASTC5x5Unorm:       block(5, 5, 16),
	gputypes.TextureFormatASTC5x5UnormSrgb:   block(5, 5, 16),
	gputypes.TextureFormatASTC6x5Unorm:       block(6, 5, 16),
	gputypes.TextureFormatASTC6x5UnormSrgb:   block(6, 5, 16),
	gputypes.TextureFormatASTC6x6Unorm:       block(6, 6, 16),
	gputypes.TextureFormatASTC6x6UnormSrgb:   block(6, 6, 16),
	gputypes.TextureFormatASTC8x5Unorm:       block(8, 5, 16),
	gputypes.TextureFormatASTC8x5UnormSrgb:   block(8, 5, 16),
	gputypes.TextureFormatASTC8x6Unorm:       block(8, 6, 16),
	gputypes.TextureFormatASTC8x6UnormSrgb:   block(8, 6, 16),
	gputypes.TextureFormatASTC8x8Unorm:       block(8, 8, 16),
	gputypes.TextureFormatASTC8x8UnormSrgb:   block(8, 8, 16),
	gputypes.TextureFormatASTC10x5Unorm:      block(10, 5, 16),
	gputypes.TextureFormatASTC10x5UnormSrgb:  block(10, 5, 16),
	gputypes.TextureFormatASTC10x6Unorm:      block(10, 6, 16),
	gputypes.TextureFormatASTC10x6UnormSrgb:  block(10, 6, 16),
	gputypes.TextureFormatASTC10x8Unorm:      block(10, 8, 16),
	gputypes.TextureFormatASTC10x8UnormSrgb:  block(10, 8, 16),
	gputypes.TextureFormatASTC10x10Unorm:     block(10, 10, 16),
	gputypes.TextureFormatASTC10x10UnormSrgb: block(10, 10, 16),
	gputypes.TextureFormatASTC12x10Unorm:     block(12, 10, 16),
	gputypes.TextureFormatASTC12x10UnormSrgb: block(12, 10, 16),
	gputypes.TextureFormatASTC12x12Unorm:     block(12, 12, 16),
	gputypes.TextureFormatASTC12x12UnormSrgb: block(12, 12, 16),
}

// Info returns the layout of format f.
func Info(f gputypes.TextureFormat) (FormatInfo, bool) {
	fi, ok := formats[f]
	return fi, ok
}

// Layout returns the row pitch, row count and byte size of one w x h image
// in format f. For compressed formats a row is a row of blocks. Extents
// above MaxDimension are rejected.
func Layout(f gputypes.TextureFormat, w, h uint32) (bytesPerRow, rows uint32, size int, err error) {
	fi, ok := formats[f]
	if !ok {
		return 0, 0, 0, unsupported(f)
	}
	if w > MaxDimension || h > MaxDimension {
		return 0, 0, 0, fmt.Errorf("%w: extent %dx%d exceeds %d", ErrInvalidParams, w, h, MaxDimension)
	}
	bw := (uint64(max(w, 1)) + uint64(fi.BlockWidth) - 1) / uint64(fi.BlockWidth)
	bh := (uint64(max(h, 1)) + uint64(fi.BlockHeight) - 1) / uint64(fi.BlockHeight)
	pitch := bw * uint64(fi.BlockBytes)
	return uint32(pitch), uint32(bh), int(pitch * bh), nil
}
