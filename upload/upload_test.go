package upload

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestLayout(t *testing.T) {
	tests := []struct {
		name     string
		format   gputypes.TextureFormat
		w, h     uint32
		wantRow  uint32
		wantRows uint32
		wantSize int
	}{
		{"rgba8", gputypes.TextureFormatRGBA8Unorm, 3, 2, 12, 2, 24},
		{"bc1 exact", gputypes.TextureFormatBC1RGBAUnorm, 8, 8, 16, 2, 32},
		{"bc3 partial block", gputypes.TextureFormatBC3RGBAUnorm, 5, 1, 32, 1, 32},
		{"etc2 1x1", gputypes.TextureFormatETC2RGB8Unorm, 1, 1, 8, 1, 8},
		{"astc 6x6", gputypes.TextureFormatASTC6x6Unorm, 13, 7, 48, 2, 96},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, rows, size, err := Layout(tt.format, tt.w, tt.h)
			if err != nil {
				t.Fatalf("Layout() error = %v", err)
			}
			if row != tt.wantRow || rows != tt.wantRows || size != tt.wantSize {
				t.Errorf("Layout() = (%d, %d, %d), want (%d, %d, %d)",
					row, rows, size, tt.wantRow, tt.wantRows, tt.wantSize)
			}
		})
	}

	if _, _, _, err := Layout(gputypes.TextureFormatUndefined, 1, 1); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Layout(undefined) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestParamsCloneIsDeep(t *testing.T) {
	p := Params{PixelFormat: gputypes.TextureFormatRGBA8Unorm, Width: 1, Height: 1, Payload: []byte{1, 2, 3, 4}}
	c := p.Clone()
	p.Payload[0] = 99
	if c.Payload[0] != 1 {
		t.Errorf("clone shares payload with original")
	}
}

func TestParamsLevel(t *testing.T) {
	// 4x4 RGBA8 cubemap with 3 mips: 64 + 16 + 4 bytes per face.
	p := Params{
		PixelFormat: gputypes.TextureFormatRGBA8Unorm,
		Width:       4,
		Height:      4,
		NumMipmaps:  3,
		FaceCount:   6,
	}
	size, err := p.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != (64+16+4)*6 {
		t.Fatalf("Size() = %d, want %d", size, (64+16+4)*6)
	}
	p.Payload = make([]byte, size)
	for i := range p.Payload {
		p.Payload[i] = byte(i)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	lvl, err := p.Level(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	wantOff := 64*6 + 16*2
	if len(lvl) != 16 || lvl[0] != byte(wantOff) {
		t.Errorf("Level(1, 2) = len %d first %d, want len 16 first %d", len(lvl), lvl[0], byte(wantOff))
	}

	if _, err := p.Level(3, 0); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Level(3, 0) error = %v, want ErrInvalidParams", err)
	}

	p.Payload = p.Payload[:10]
	if err := p.Validate(); !errors.Is(err, ErrTruncated) {
		t.Errorf("Validate() on short payload = %v, want ErrTruncated", err)
	}
}

func TestParamsValidateRejectsNonSquareCube(t *testing.T) {
	p := Params{PixelFormat: gputypes.TextureFormatRGBA8Unorm, Width: 4, Height: 2, FaceCount: 6}
	if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Validate() = %v, want ErrInvalidParams", err)
	}
}

// makeDDS builds a legacy DDS file. Each face holds its full mip chain.
func makeDDS(w, h, mips uint32, cc string, cube bool, payload []byte) []byte {
	hdr := make([]byte, 4+ddsHeaderSize)
	le := binary.LittleEndian
	le.PutUint32(hdr[0:], ddsMagic)
	le.PutUint32(hdr[4:], ddsHeaderSize)
	le.PutUint32(hdr[8:], 0x1|0x2|0x4|0x1000|ddsdMipmapCount)
	le.PutUint32(hdr[12:], h)
	le.PutUint32(hdr[16:], w)
	le.PutUint32(hdr[28:], mips)
	le.PutUint32(hdr[76:], 32)
	le.PutUint32(hdr[80:], ddpfFourCC)
	copy(hdr[84:], cc)
	if cube {
		le.PutUint32(hdr[112:], ddsCaps2Cubemap|0xFC00)
	}
	return append(hdr, payload...)
}

func TestParseDDS(t *testing.T) {
	// 8x8 DXT1 with 2 mips: 32 + 8 bytes.
	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	p, err := ParseDDS(makeDDS(8, 8, 2, "DXT1", false, payload))
	if err != nil {
		t.Fatalf("ParseDDS() error = %v", err)
	}
	if p.PixelFormat != gputypes.TextureFormatBC1RGBAUnorm {
		t.Errorf("format = %v, want BC1", p.PixelFormat)
	}
	if p.Width != 8 || p.Height != 8 || p.NumMipmaps != 2 || p.FaceCount != 1 {
		t.Errorf("header = %dx%d mips %d faces %d", p.Width, p.Height, p.NumMipmaps, p.FaceCount)
	}
	if !bytes.Equal(p.Payload, payload) {
		t.Error("payload differs")
	}
}

func TestParseDDSCubemapReorder(t *testing.T) {
	// 4x4 DXT5 cube with 2 mips: per face 16 + 16 bytes.
	var src []byte
	for face := range 6 {
		src = append(src, bytes.Repeat([]byte{byte(face)}, 16)...)      // mip 0
		src = append(src, bytes.Repeat([]byte{byte(0x10 + face)}, 16)...) // mip 1
	}
	p, err := ParseDDS(makeDDS(4, 4, 2, "DXT5", true, src))
	if err != nil {
		t.Fatalf("ParseDDS() error = %v", err)
	}
	if !p.IsCube() {
		t.Fatal("expected cubemap")
	}
	for face := range uint32(6) {
		l0, _ := p.Level(0, face)
		l1, _ := p.Level(1, face)
		if l0[0] != byte(face) || l1[0] != byte(0x10+face) {
			t.Errorf("face %d: level0 %#x level1 %#x", face, l0[0], l1[0])
		}
	}
}

func TestParseDDSErrors(t *testing.T) {
	if _, err := ParseDDS([]byte("nope")); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("short input error = %v, want ErrInvalidHeader", err)
	}
	if _, err := ParseDDS(makeDDS(4, 4, 1, "ABCD", false, make([]byte, 8))); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("unknown fourcc error = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := ParseDDS(makeDDS(8, 8, 1, "DXT1", false, make([]byte, 8))); !errors.Is(err, ErrTruncated) {
		t.Errorf("short payload error = %v, want ErrTruncated", err)
	}
}

func makeKTX(internal, w, h, faces, mips uint32, levels [][]byte) []byte {
	le := binary.LittleEndian
	buf := append([]byte{}, ktxIdentifier...)
	buf = le.AppendUint32(buf, ktxEndianness)
	fields := []uint32{0, 1, 0, internal, 0, w, h, 0, 0, faces, mips, 4}
	for _, f := range fields {
		buf = le.AppendUint32(buf, f)
	}
	buf = append(buf, 0, 0, 0, 0) // key/value data
	for _, lvl := range levels {
		buf = le.AppendUint32(buf, uint32(len(lvl)/int(faces)))
		buf = append(buf, lvl...)
	}
	return buf
}

func TestParseKTX(t *testing.T) {
	l0 := bytes.Repeat([]byte{0xAA}, 16)
	l1 := bytes.Repeat([]byte{0xBB}, 16)
	data := makeKTX(0x9278, 4, 4, 1, 2, [][]byte{l0, l1})
	p, err := ParseKTX(data)
	if err != nil {
		t.Fatalf("ParseKTX() error = %v", err)
	}
	if p.PixelFormat != gputypes.TextureFormatETC2RGBA8Unorm {
		t.Errorf("format = %v, want ETC2 RGBA8", p.PixelFormat)
	}
	if p.NumMipmaps != 2 || len(p.Payload) != 32 {
		t.Errorf("mips %d payload %d, want 2 and 32", p.NumMipmaps, len(p.Payload))
	}
}

func TestParseKTXASTCSRGB(t *testing.T) {
	data := makeKTX(glSRGBASTC4x4+7, 8, 8, 1, 1, [][]byte{make([]byte, 16)})
	p, err := ParseKTX(data)
	if err != nil {
		t.Fatalf("ParseKTX() error = %v", err)
	}
	if p.PixelFormat != gputypes.TextureFormatASTC8x8UnormSrgb {
		t.Errorf("format = %v, want ASTC 8x8 sRGB", p.PixelFormat)
	}
}

func TestParseKTXRejectsBadIdentifier(t *testing.T) {
	data := makeKTX(0x9278, 4, 4, 1, 1, [][]byte{make([]byte, 16)})
	data[1] = 'X'
	if _, err := ParseKTX(data); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("ParseKTX() error = %v, want ErrInvalidHeader", err)
	}
}

func makePVR(pixelFormat uint64, colour, w, h, faces, mips uint32, payload []byte) []byte {
	le := binary.LittleEndian
	buf := le.AppendUint32(nil, pvrVersion)
	buf = le.AppendUint32(buf, 0)
	buf = le.AppendUint64(buf, pixelFormat)
	for _, f := range []uint32{colour, 0, h, w, 1, 1, faces, mips, 0} {
		buf = le.AppendUint32(buf, f)
	}
	return append(buf, payload...)
}

func TestParsePVR(t *testing.T) {
	p, err := ParsePVR(makePVR(7, pvrColourSRGB, 4, 4, 1, 1, make([]byte, 8)))
	if err != nil {
		t.Fatalf("ParsePVR() error = %v", err)
	}
	if p.PixelFormat != gputypes.TextureFormatBC1RGBAUnormSrgb {
		t.Errorf("format = %v, want BC1 sRGB", p.PixelFormat)
	}

	rgba := uint64('r') | uint64('g')<<8 | uint64('b')<<16 | uint64('a')<<24 | 0x08080808<<32
	p, err = ParsePVR(makePVR(rgba, 0, 2, 2, 1, 1, make([]byte, 16)))
	if err != nil {
		t.Fatalf("ParsePVR(rgba8888) error = %v", err)
	}
	if p.PixelFormat != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("format = %v, want RGBA8", p.PixelFormat)
	}
}

func TestParsePVRRejectsPVRTC(t *testing.T) {
	_, err := ParsePVR(makePVR(2, 0, 4, 4, 1, 1, make([]byte, 8)))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ParsePVR(PVRTC) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestFromImageMipChain(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	for y := range 4 {
		for x := range 8 {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	p := FromImage(img, true)
	if p.NumMipmaps != 4 { // 8x4, 4x2, 2x1, 1x1
		t.Fatalf("NumMipmaps = %d, want 4", p.NumMipmaps)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	last, _ := p.Level(3, 0)
	if last[0] != 255 || last[3] != 255 {
		t.Errorf("1x1 level = %v, want opaque red", last)
	}
}

func TestLoadDispatchesByExtension(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	p, err := Load("sprite.png", buf.Bytes(), false)
	if err != nil {
		t.Fatalf("Load(png) error = %v", err)
	}
	if p.Width != 2 || p.NumMipmaps != 1 {
		t.Errorf("Load(png) = %dx%d mips %d", p.Width, p.Height, p.NumMipmaps)
	}
	if _, err := Load("tex.DDS", []byte("junk"), false); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Load(dds) error = %v, want ErrInvalidHeader", err)
	}
}

func TestParseRejectsHostileMipCounts(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"dds", makeDDS(4, 4, 0x7FFFFFFF, "DXT1", false, make([]byte, 8))},
		{"dds beyond chain", makeDDS(8, 8, 5, "DXT1", false, make([]byte, 64))},
		{"ktx", makeKTX(0x9278, 4, 4, 1, 0xFFFFFFFF, [][]byte{make([]byte, 16)})},
		{"pvr", makePVR(7, 0, 4, 4, 1, 0x7FFFFFFF, make([]byte, 8))},
	}
	parsers := map[string]func([]byte) (Params, error){
		"dds": ParseDDS, "dds beyond chain": ParseDDS, "ktx": ParseKTX, "pvr": ParsePVR,
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsers[tt.name](tt.data)
			if !errors.Is(err, ErrInvalidHeader) || !errors.Is(err, ErrInvalidParams) {
				t.Errorf("error = %v, want ErrInvalidHeader wrapping ErrInvalidParams", err)
			}
		})
	}
}

func TestParseRejectsHugeExtents(t *testing.T) {
	if _, err := ParseDDS(makeDDS(0xFFFFFFF0, 4, 1, "DXT1", false, make([]byte, 8))); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("DDS error = %v, want ErrInvalidHeader", err)
	}
	if _, err := ParseKTX(makeKTX(0x9278, MaxDimension+1, 4, 1, 1, [][]byte{make([]byte, 16)})); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("KTX error = %v, want ErrInvalidHeader", err)
	}
	if _, err := ParsePVR(makePVR(7, 0, 4, 0x80000000, 1, 1, make([]byte, 8))); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("PVR error = %v, want ErrInvalidHeader", err)
	}
}

func TestParseKTXTruncatedBeforeAllocation(t *testing.T) {
	// 4096x4096 ETC2 claims 16 MiB with only one level size present.
	data := makeKTX(0x9278, 4096, 4096, 1, 1, nil)
	data = binary.LittleEndian.AppendUint32(data, 1024*1024*16)
	if _, err := ParseKTX(data); !errors.Is(err, ErrTruncated) {
		t.Errorf("error = %v, want ErrTruncated", err)
	}
}

func TestLayoutRejectsHugeExtent(t *testing.T) {
	if _, _, _, err := Layout(gputypes.TextureFormatRGBA32Float, 0xFFFFFFFF, 1); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Layout(huge) error = %v, want ErrInvalidParams", err)
	}
	row, rows, size, err := Layout(gputypes.TextureFormatRGBA32Float, MaxDimension, MaxDimension)
	if err != nil {
		t.Fatal(err)
	}
	if row != MaxDimension*16 || rows != MaxDimension || size != MaxDimension*MaxDimension*16 {
		t.Errorf("Layout(max) = (%d, %d, %d)", row, rows, size)
	}
}

func TestValidateBoundsMips(t *testing.T) {
	if got := MaxMips(8, 4); got != 4 {
		t.Errorf("MaxMips(8, 4) = %d, want 4", got)
	}
	p := Params{PixelFormat: gputypes.TextureFormatRGBA8Unorm, Width: 8, Height: 4, NumMipmaps: 5, Payload: make([]byte, 1024)}
	if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Validate(5 mips of 8x4) = %v, want ErrInvalidParams", err)
	}
	p.NumMipmaps = 4
	if err := p.Validate(); err != nil {
		t.Errorf("Validate(full chain) = %v", err)
	}
}
