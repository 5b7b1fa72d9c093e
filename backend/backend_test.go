package backend

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

func openHeadless(t *testing.T, w, h uint32) *Device {
	t.Helper()
	d, err := NewHeadless().Open(Config{Width: w, Height: h})
	if err != nil {
		t.Fatalf("open headless: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{Auto, "auto"},
		{GLES2, "gles2"},
		{Vulkan, "vulkan"},
		{Metal, "metal"},
		{D3D11, "d3d11"},
		{Headless, "headless"},
		{Kind(42), "Kind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"", Auto},
		{"Vulkan", Vulkan},
		{"gles", GLES2},
		{"GL", GLES2},
		{"dx12", D3D11},
		{"metal", Metal},
		{" headless ", Headless},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseKind("glide"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ParseKind(glide) err = %v, want ErrUnknownKind", err)
	}
}

func TestKindText(t *testing.T) {
	var k Kind
	if err := k.UnmarshalText([]byte("metal")); err != nil || k != Metal {
		t.Fatalf("UnmarshalText = %v, %v", k, err)
	}
	b, err := k.MarshalText()
	if err != nil || string(b) != "metal" {
		t.Errorf("MarshalText = %q, %v", b, err)
	}
	if _, err := Kind(99).MarshalText(); err == nil {
		t.Error("MarshalText of unknown kind should fail")
	}
}

func TestKindVariant(t *testing.T) {
	tests := []struct {
		kind Kind
		want gputypes.Backend
	}{
		{GLES2, gputypes.BackendGL},
		{Vulkan, gputypes.BackendVulkan},
		{Metal, gputypes.BackendMetal},
		{D3D11, gputypes.BackendDX12},
		{Headless, gputypes.BackendEmpty},
	}
	for _, tt := range tests {
		if got := tt.kind.Variant(); got != tt.want {
			t.Errorf("%v.Variant() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestPolygonMode(t *testing.T) {
	tests := []struct {
		text string
		mode PolygonMode
		topo gputypes.PrimitiveTopology
	}{
		{"fill", PolygonFill, gputypes.PrimitiveTopologyTriangleList},
		{"line", PolygonLine, gputypes.PrimitiveTopologyLineList},
		{"wireframe", PolygonLine, gputypes.PrimitiveTopologyLineList},
		{"POINT", PolygonPoint, gputypes.PrimitiveTopologyPointList},
	}
	for _, tt := range tests {
		var m PolygonMode
		if err := m.UnmarshalText([]byte(tt.text)); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", tt.text, err)
		}
		if m != tt.mode {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tt.text, m, tt.mode)
		}
		if m.Topology() != tt.topo {
			t.Errorf("%v.Topology() = %v, want %v", m, m.Topology(), tt.topo)
		}
	}
	var m PolygonMode
	if err := m.UnmarshalText([]byte("dotted")); err == nil {
		t.Error("unknown polygon mode should fail")
	}
}

func TestRegistryHeadlessAlwaysRegistered(t *testing.T) {
	if !IsRegistered(Headless) {
		t.Fatal("headless backend should be auto-registered")
	}
	b := Get(Headless)
	if b == nil {
		t.Fatal("Get(Headless) returned nil")
	}
	if b.Kind() != Headless {
		t.Errorf("Get(Headless).Kind() = %v", b.Kind())
	}

	avail := Available()
	if len(avail) == 0 || avail[len(avail)-1] != Headless {
		t.Errorf("Available() = %v, want headless last", avail)
	}
}

func TestRegistryUnregister(t *testing.T) {
	const kind = Metal
	prev := Get(kind)
	t.Cleanup(func() {
		if prev != nil {
			Register(kind, func() Backend { return prev })
		} else {
			Unregister(kind)
		}
	})

	Register(kind, func() Backend { return NewHAL(kind, noop.API{}) })
	if !IsRegistered(kind) {
		t.Fatal("backend should be registered")
	}
	Unregister(kind)
	if IsRegistered(kind) {
		t.Error("backend should be unregistered")
	}
	if Get(kind) != nil {
		t.Error("Get after Unregister should return nil")
	}
}

func TestSelect(t *testing.T) {
	b, err := Select(Headless)
	if err != nil || b.Kind() != Headless {
		t.Fatalf("Select(Headless) = %v, %v", b, err)
	}
	if b, err := Select(Auto); err != nil || b == nil {
		t.Fatalf("Select(Auto) = %v, %v", b, err)
	}
	if _, err := Select(Kind(77)); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Select(unregistered) err = %v, want ErrBackendNotAvailable", err)
	}
}

// A HAL-driven backend runs the same open path as a real driver.
func TestHALBackendOpen(t *testing.T) {
	d, err := NewHAL(Vulkan, noop.API{}).Open(Config{Width: 64, Height: 32})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if d.Kind() != Vulkan {
		t.Errorf("Kind() = %v", d.Kind())
	}
	if w, h := d.Size(); w != 64 || h != 32 {
		t.Errorf("Size() = %dx%d", w, h)
	}
	if d.Info().Name == "" {
		t.Error("adapter name is empty")
	}
}

func TestHeadlessAdapterInfo(t *testing.T) {
	d := openHeadless(t, 8, 8)
	info := d.AdapterInfo()
	if info.Type != gpucontext.AdapterTypeSoftware {
		t.Errorf("adapter type = %v, want software", info.Type)
	}
	if d.ColorFormat() != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("offscreen color format = %v", d.ColorFormat())
	}
	if d.Backbuffer() == nil {
		t.Error("offscreen device has no backbuffer")
	}
}

func TestDeviceBufferRoundTrip(t *testing.T) {
	d := openHeadless(t, 8, 8)

	data := make([]byte, 36)
	for i := range data {
		data[i] = byte(i * 7)
	}
	buf, err := d.CreateBuffer("vb", uint64(len(data)), gputypes.BufferUsageVertex)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer d.HAL().DestroyBuffer(buf)

	if err := d.WriteBuffer(buf, 36, 0, data); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	got, err := d.ReadBuffer(buf, 36, 0, 36)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", got, data)
	}

	part, err := d.ReadBuffer(buf, 36, 4, 8)
	if err != nil {
		t.Fatalf("ReadBuffer(4, 8): %v", err)
	}
	if !bytes.Equal(part, data[4:12]) {
		t.Errorf("partial read = %v, want %v", part, data[4:12])
	}
}

func TestDeviceBufferBounds(t *testing.T) {
	d := openHeadless(t, 8, 8)
	buf, err := d.CreateBuffer("small", 16, gputypes.BufferUsageUniform)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.WriteBuffer(buf, 16, 12, make([]byte, 8)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("overflowing write err = %v, want ErrOutOfRange", err)
	}
	if err := d.WriteBuffer(buf, 16, 20, nil); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("write past end err = %v, want ErrOutOfRange", err)
	}
	if _, err := d.ReadBuffer(buf, 16, 8, 9); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("overflowing read err = %v, want ErrOutOfRange", err)
	}
	if got, err := d.ReadBuffer(buf, 16, 16, 0); err != nil || len(got) != 0 {
		t.Errorf("empty read = %v, %v", got, err)
	}
}

func TestDeviceResizeIdempotent(t *testing.T) {
	d := openHeadless(t, 800, 600)

	steps := []struct {
		w, h    uint32
		realloc bool
		count   int
	}{
		{800, 600, false, 0},
		{800, 600, false, 0},
		{1024, 768, true, 1},
		{1024, 768, false, 1},
		{0, 0, true, 2}, // clamped to 1x1
	}
	for _, s := range steps {
		got, err := d.Resize(s.w, s.h)
		if err != nil {
			t.Fatalf("Resize(%d, %d): %v", s.w, s.h, err)
		}
		if got != s.realloc {
			t.Errorf("Resize(%d, %d) reallocated = %v, want %v", s.w, s.h, got, s.realloc)
		}
		if d.Reallocations() != s.count {
			t.Errorf("after Resize(%d, %d) reallocations = %d, want %d", s.w, s.h, d.Reallocations(), s.count)
		}
	}
	if w, h := d.Size(); w != 1 || h != 1 {
		t.Errorf("Size() = %dx%d, want 1x1", w, h)
	}
}

func TestDeviceFrameLifecycle(t *testing.T) {
	d := openHeadless(t, 16, 16)

	if err := d.EndFrame(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("EndFrame outside frame err = %v, want ErrNoFrame", err)
	}
	if d.Pass() != nil {
		t.Error("Pass() outside frame should be nil")
	}

	for i := 0; i < 3; i++ {
		if err := d.BeginFrame(nil, gputypes.Color{R: 0.1, A: 1}); err != nil {
			t.Fatalf("frame %d: BeginFrame: %v", i, err)
		}
		if !d.InFrame() || d.Pass() == nil {
			t.Fatalf("frame %d: no pass after BeginFrame", i)
		}
		if err := d.BeginFrame(nil, gputypes.Color{}); !errors.Is(err, ErrFrameInProgress) {
			t.Errorf("nested BeginFrame err = %v, want ErrFrameInProgress", err)
		}
		att, ok := d.Target()
		if !ok || att.Width != 16 || att.DepthFormat != gputypes.TextureFormatDepth24Plus {
			t.Errorf("Target() = %+v, %v", att, ok)
		}
		if err := d.EndFrame(); err != nil {
			t.Fatalf("frame %d: EndFrame: %v", i, err)
		}
		if err := d.Present(); err != nil {
			t.Fatalf("frame %d: Present: %v", i, err)
		}
	}
	if n := len(d.inflight); n != 0 {
		t.Errorf("%d command buffers not reclaimed", n)
	}
}

func TestDeviceSurface(t *testing.T) {
	d, err := openHAL(Headless, noop.API{}, Config{WindowHandle: 1, Width: 20, Height: 10}, true, wrapHeadless)
	if err != nil {
		t.Fatalf("open with surface: %v", err)
	}
	defer d.Close()

	if d.ColorFormat() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("surface color format = %v", d.ColorFormat())
	}
	if err := d.BeginFrame(nil, gputypes.Color{A: 1}); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if d.presentable == nil {
		t.Fatal("no surface texture acquired")
	}
	if err := d.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	if err := d.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if d.presentable != nil {
		t.Error("surface texture still held after Present")
	}
	if changed, err := d.Resize(40, 30); err != nil || !changed {
		t.Errorf("Resize = %v, %v", changed, err)
	}

	// A surface image keeps its configuration until it is presented.
	if err := d.BeginFrame(nil, gputypes.Color{A: 1}); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if _, err := d.Resize(64, 48); err != nil {
		t.Fatalf("Resize during frame: %v", err)
	}
	if err := d.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	if w, h := d.Size(); w != 40 || h != 30 {
		t.Errorf("size before Present = %dx%d, want 40x30", w, h)
	}
	if err := d.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if w, h := d.Size(); w != 64 || h != 48 || d.ResizePending() {
		t.Errorf("size after Present = %dx%d, pending %v", w, h, d.ResizePending())
	}
}

func TestDeviceResizeDeferredDuringFrame(t *testing.T) {
	d := openHeadless(t, 16, 16)

	if err := d.BeginFrame(nil, gputypes.Color{}); err != nil {
		t.Fatal(err)
	}
	changed, err := d.Resize(32, 24)
	if err != nil || changed {
		t.Fatalf("Resize during frame = %v, %v; want deferred", changed, err)
	}
	if w, h := d.Size(); w != 16 || h != 16 || !d.ResizePending() {
		t.Fatalf("size during frame = %dx%d, pending %v", w, h, d.ResizePending())
	}
	if att, _ := d.Target(); att.Width != 16 {
		t.Errorf("open frame target width = %d, want 16", att.Width)
	}
	if err := d.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	if w, h := d.Size(); w != 32 || h != 24 || d.ResizePending() {
		t.Errorf("size after EndFrame = %dx%d, pending %v", w, h, d.ResizePending())
	}
	if d.Reallocations() != 1 {
		t.Errorf("reallocations = %d, want 1", d.Reallocations())
	}

	// Returning to the current size inside a frame drops the deferral.
	if err := d.BeginFrame(nil, gputypes.Color{}); err != nil {
		t.Fatal(err)
	}
	_, _ = d.Resize(100, 100)
	_, _ = d.Resize(32, 24)
	if d.ResizePending() {
		t.Error("resize back to the current size left a deferral")
	}
	if err := d.EndFrame(); err != nil {
		t.Fatal(err)
	}
	if d.Reallocations() != 1 {
		t.Errorf("reallocations = %d, want 1", d.Reallocations())
	}
}

func TestDeviceClose(t *testing.T) {
	d, err := NewHeadless().Open(Config{Width: 4, Height: 4})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.BeginFrame(nil, gputypes.Color{}); err != nil {
		t.Fatal(err)
	}
	d.Close()
	d.Close()

	if _, err := d.CreateBuffer("late", 4, gputypes.BufferUsageVertex); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("CreateBuffer after Close err = %v, want ErrNotInitialized", err)
	}
	if _, err := d.Resize(8, 8); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Resize after Close err = %v, want ErrNotInitialized", err)
	}
}

// isolate leaves only the given kinds registered for the duration of t.
func isolate(t *testing.T, keep ...Kind) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = make(map[Kind]Factory)
	for _, k := range keep {
		if f, ok := saved[k]; ok {
			backends[k] = f
		}
	}
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

type failingBackend struct{ kind Kind }

func (b failingBackend) Kind() Kind { return b.kind }

func (b failingBackend) Open(Config) (*Device, error) { return nil, ErrNoAdapter }

func TestOpenDefaultFallsBack(t *testing.T) {
	isolate(t, Headless)
	Register(Vulkan, func() Backend { return failingBackend{Vulkan} })

	d, err := OpenDefault(Config{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("OpenDefault: %v", err)
	}
	defer d.Close()
	if d.Kind() != Headless {
		t.Errorf("fell back to %v, want headless", d.Kind())
	}
}

func TestOpenDefaultNoneWork(t *testing.T) {
	isolate(t)
	if _, err := OpenDefault(Config{}); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("empty registry err = %v, want ErrBackendNotAvailable", err)
	}

	Register(Metal, func() Backend { return failingBackend{Metal} })
	_, err := OpenDefault(Config{})
	if !errors.Is(err, ErrBackendNotAvailable) || !errors.Is(err, ErrNoAdapter) {
		t.Errorf("err = %v, want ErrBackendNotAvailable wrapping ErrNoAdapter", err)
	}
	if Default().Kind() != Metal {
		t.Errorf("Default() = %v", Default().Kind())
	}
}

func TestHeadlessViewHandlesAreDistinct(t *testing.T) {
	d := openHeadless(t, 8, 8)
	desc := &hal.TextureDescriptor{
		Size:          hal.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding,
	}
	texA, viewA, err := d.CreateTexture(desc, gputypes.TextureViewDimension2D)
	if err != nil {
		t.Fatal(err)
	}
	texB, viewB, err := d.CreateTexture(desc, gputypes.TextureViewDimension2D)
	if err != nil {
		t.Fatal(err)
	}
	a, b := viewA.NativeHandle(), viewB.NativeHandle()
	if a == 0 || b == 0 || a == b {
		t.Errorf("view handles = %d, %d; want distinct and non-zero", a, b)
	}
	d.DestroyTexture(texA, viewA)
	d.DestroyTexture(texB, viewB)
}
