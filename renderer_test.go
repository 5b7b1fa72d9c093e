package gpuq

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/proxy"
	"github.com/gogpu/gpuq/shader"
	"github.com/gogpu/gpuq/task"
)

const flatVS = `
@vertex
fn vs_main(@location(0) position: vec2<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(position, 0.0, 1.0);
}
`

const flatFS = `
struct Params {
    color: vec4<f32>,
}

@group(0) @binding(0) var<uniform> params: Params;

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return params.color;
}
`

func testSettings(thread ThreadMode, debug bool) Settings {
	s := DefaultSettings()
	s.Backend = backend.Headless
	s.Width, s.Height = 320, 240
	s.Thread = thread
	s.Debug = debug
	return s
}

// newRenderer returns an initialized headless renderer that is shut down
// when the test ends.
func newRenderer(t *testing.T, s Settings) *Renderer {
	t.Helper()
	r, err := New(s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = r.Shutdown(task.ShutdownDiscard) })
	return r
}

// flush waits until the dedicated render thread has run everything
// queued before the call.
func flush(t *testing.T, r *Renderer) {
	t.Helper()
	done := make(chan struct{})
	if err := r.Do(func(*task.Exec) error { close(done); return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("render thread did not reach the flush task")
	}
}

func TestBufferUploadRoundTrip(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadDedicated, true))

	data := make([]byte, 36)
	for i := range data {
		data[i] = byte(i * 7)
	}
	buf, err := r.CreateBuffer(proxy.BufferVertex, proxy.UsageStatic, data)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if buf.State() != proxy.Uncreated && buf.State() != proxy.Created {
		t.Fatalf("state after factory = %v", buf.State())
	}
	want := bytes.Clone(data)
	data[0] = 0xFF // the factory copied data

	got := make(chan []byte, 1)
	err = r.ReadBuffer(buf, 0, 36, func(b []byte, err error) {
		if err != nil {
			t.Errorf("readback: %v", err)
		}
		got <- b
	})
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	select {
	case b := <-got:
		if !bytes.Equal(b, want) {
			t.Errorf("readback = %v, want %v", b, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("readback callback not called")
	}
	if buf.State() != proxy.Created {
		t.Errorf("state = %v, want Created", buf.State())
	}
}

func TestOnSizeIdempotent(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadDedicated, true))

	for _, sz := range [][2]uint32{{800, 600}, {800, 600}, {1024, 768}} {
		if err := r.OnSize(sz[0], sz[1]); err != nil {
			t.Fatalf("OnSize(%v): %v", sz, err)
		}
	}
	flush(t, r)

	st := r.Stats()
	if st.Reallocations != 2 {
		t.Errorf("Reallocations = %d, want 2", st.Reallocations)
	}
	// Two resizes plus the flush.
	if st.Pushed != 3 {
		t.Errorf("Pushed = %d, want 3", st.Pushed)
	}
}

func TestTwoTexturesAreIndependent(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadDedicated, true))

	desc := proxy.TextureDesc{Format: gputypes.TextureFormatRGBA8Unorm, Width: 4, Height: 4}
	a, err := r.CreateTexture(desc, make([]byte, 64))
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	b, err := r.CreateTexture(desc, nil)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	flush(t, r)

	if a.ID() == b.ID() {
		t.Errorf("both textures have ID %d", a.ID())
	}
	for _, tex := range []*proxy.Texture{a, b} {
		if tex.State() != proxy.Created || tex.View() == nil || tex.Sampler() == nil {
			t.Fatalf("%s: state %v, view %v, sampler %v", tex, tex.State(), tex.View(), tex.Sampler())
		}
	}
	if a.View() == b.View() || a.View().NativeHandle() == b.View().NativeHandle() {
		t.Errorf("textures share a native view (handle %d)", a.View().NativeHandle())
	}
	if got := r.Stats().Live; got != 2 {
		t.Errorf("Live = %d, want 2", got)
	}

	if err := r.Destroy(a); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	flush(t, r)
	if a.State() != proxy.Destroyed || b.State() != proxy.Created {
		t.Errorf("after destroying a: a %v, b %v", a.State(), b.State())
	}
	if got := r.Stats().Live; got != 1 {
		t.Errorf("Live = %d, want 1", got)
	}
}

func TestDestroyThenReferencePanicsInDebug(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadDedicated, true))
	buf, err := r.CreateBuffer(proxy.BufferUniform, proxy.UsageDynamic, make([]byte, 16))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Destroy(buf); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	defer func() {
		rec := recover()
		err, ok := rec.(error)
		if !ok || !errors.Is(err, proxy.ErrUseAfterDestroy) {
			t.Fatalf("recovered %v, want ErrUseAfterDestroy", rec)
		}
	}()
	_ = r.BufferData(buf, []byte{1})
	t.Fatal("reference after Destroy did not panic")
}

func TestDestroyThenReferenceRejectedOutsideDebug(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadDedicated, false))
	buf, err := r.CreateBuffer(proxy.BufferUniform, proxy.UsageDynamic, make([]byte, 16))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Destroy(buf); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	pushed := r.Stats().Pushed

	if err := r.BufferData(buf, []byte{1}); !errors.Is(err, proxy.ErrUseAfterDestroy) {
		t.Errorf("BufferData after Destroy = %v, want ErrUseAfterDestroy", err)
	}
	if err := r.Destroy(buf); !errors.Is(err, proxy.ErrUseAfterDestroy) {
		t.Errorf("second Destroy = %v, want ErrUseAfterDestroy", err)
	}
	if got := r.Stats().Pushed; got != pushed {
		t.Errorf("rejected calls queued %d tasks", got-pushed)
	}
}

func TestFrameThroughRenderer(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadDedicated, true))

	prog, err := r.CreateShaderProgram(flatVS, flatFS)
	if err != nil {
		t.Fatalf("CreateShaderProgram: %v", err)
	}
	verts, err := r.CreateBuffer(proxy.BufferVertex, proxy.UsageStatic, make([]byte, 3*8))
	if err != nil {
		t.Fatal(err)
	}
	calls := []error{
		r.SetUniform(prog, "params.color", make([]byte, 16)),
		r.BeginRender(nil, gputypes.Color{A: 1}),
		r.UseProgram(prog),
		r.BindVertexBuffer(verts, 0),
		r.DrawArrays(0, 3, 1),
		r.EndRender(),
		r.Present(),
	}
	if err := errors.Join(calls...); err != nil {
		t.Fatalf("frame calls: %v", err)
	}
	flush(t, r)

	st := r.Stats()
	if st.Draws != 1 || st.Frames != 1 || st.Skipped != 0 {
		t.Errorf("Stats = %+v, want 1 draw in 1 frame", st)
	}
	if prog.Links() != 1 || prog.Pipelines() != 1 {
		t.Errorf("links %d, pipelines %d", prog.Links(), prog.Pipelines())
	}
}

func TestCreateShaderProgramCompileError(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadCaller, true))
	_, err := r.CreateShaderProgram("this is not wgsl", flatFS)
	if !errors.Is(err, shader.ErrCompile) {
		t.Fatalf("CreateShaderProgram = %v, want ErrCompile", err)
	}
	var ce *shader.CompileError
	if !errors.As(err, &ce) || ce.Stage != shader.StageVertex {
		t.Errorf("error %v does not name the vertex stage", err)
	}
	if st := r.Stats(); st.Pushed != 0 || st.Live != 0 {
		t.Errorf("failed compile queued work: %+v", st)
	}
}

func TestCallerThreadDrain(t *testing.T) {
	r, err := New(testSettings(ThreadCaller, true))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Shutdown(task.ShutdownDiscard) })

	// Queued before the device exists.
	buf, err := r.CreateBuffer(proxy.BufferIndex, proxy.UsageStatic, []byte{0, 0, 1, 0, 2, 0})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Drain(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Drain before Initialize = %v", err)
	}
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := r.Initialize(context.Background()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize = %v", err)
	}
	if buf.State() != proxy.Uncreated {
		t.Fatalf("state before Drain = %v", buf.State())
	}

	n, err := r.Drain()
	if err != nil || n != 1 {
		t.Fatalf("Drain = %d, %v; want 1 task", n, err)
	}
	if buf.State() != proxy.Created || buf.Size() != 6 {
		t.Errorf("buffer %v, size %d", buf.State(), buf.Size())
	}
	if r.Backend() != backend.Headless {
		t.Errorf("Backend = %v", r.Backend())
	}
	if n, _ := r.Drain(); n != 0 {
		t.Errorf("empty Drain = %d", n)
	}
}

func TestDrainOnDedicatedThread(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadDedicated, true))
	if _, err := r.Drain(); !errors.Is(err, ErrWrongThread) {
		t.Errorf("Drain = %v, want ErrWrongThread", err)
	}
}

func TestShutdownDrainRunsPending(t *testing.T) {
	var logs bytes.Buffer
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })
	SetLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))

	r, err := New(testSettings(ThreadDedicated, true))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	buf, err := r.CreateBuffer(proxy.BufferStorage, proxy.UsageStream, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan []byte, 1)
	if err := r.ReadBuffer(buf, 0, 4, func(b []byte, _ error) { got <- b }); err != nil {
		t.Fatal(err)
	}

	if err := r.Shutdown(task.ShutdownDrain); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case b := <-got:
		if !bytes.Equal(b, []byte{1, 2, 3, 4}) {
			t.Errorf("readback = %v", b)
		}
	default:
		t.Fatal("pending readback did not run before shutdown returned")
	}
	if buf.State() != proxy.Destroyed {
		t.Errorf("leaked buffer state = %v, want Destroyed", buf.State())
	}
	if !strings.Contains(logs.String(), "leaked proxy") {
		t.Errorf("leak not logged: %q", logs.String())
	}
	if err := r.Shutdown(task.ShutdownDrain); !errors.Is(err, ErrShutdown) {
		t.Errorf("second Shutdown = %v", err)
	}
	if err := r.Present(); !errors.Is(err, task.ErrQueueClosed) {
		t.Errorf("Present after Shutdown = %v", err)
	}
}

func TestShutdownDiscardDropsPending(t *testing.T) {
	r, err := New(testSettings(ThreadCaller, true))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	buf, err := r.CreateBuffer(proxy.BufferVertex, proxy.UsageStatic, make([]byte, 8))
	if err != nil {
		t.Fatal(err)
	}
	var readErr error
	if err := r.ReadBuffer(buf, 0, 8, func(_ []byte, err error) { readErr = err }); err != nil {
		t.Fatal(err)
	}

	if err := r.Shutdown(task.ShutdownDiscard); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !errors.Is(readErr, task.ErrQueueClosed) {
		t.Errorf("discarded readback error = %v", readErr)
	}
	st := r.Stats()
	if st.Discarded != 2 || st.Executed != 0 || st.Live != 0 {
		t.Errorf("Stats = %+v", st)
	}
	if buf.State() != proxy.Destroyed {
		t.Errorf("buffer state = %v", buf.State())
	}
}

func TestInitializeCanceled(t *testing.T) {
	r, err := New(testSettings(ThreadDedicated, false))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The device may open before the canceled context is noticed.
	if err := r.Initialize(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Initialize = %v", err)
	}
	_ = r.Shutdown(task.ShutdownDiscard)
	if err := r.Initialize(context.Background()); !errors.Is(err, ErrShutdown) {
		t.Errorf("Initialize after Shutdown = %v", err)
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	s := testSettings(ThreadDedicated, false)
	s.Width = 0
	if _, err := New(s); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("zero width = %v", err)
	}
	s = testSettings(ThreadMode(9), false)
	if _, err := New(s); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("bad thread mode = %v", err)
	}
}

func TestWithBackend(t *testing.T) {
	s := testSettings(ThreadCaller, false)
	s.Backend = backend.Vulkan // ignored
	r, err := New(s, WithBackend(backend.NewHeadless()))
	if err != nil {
		t.Fatal(err)
	}
	if r.Backend() != backend.Headless {
		t.Errorf("Backend = %v", r.Backend())
	}
	_ = r.Shutdown(task.ShutdownDiscard)
}

const texturedFS = `
@group(0) @binding(0) var albedo: texture_2d<f32>;
@group(0) @binding(1) var albedo_sampler: sampler;

@fragment
fn fs_main(@builtin(position) pos: vec4<f32>) -> @location(0) vec4<f32> {
    return textureSample(albedo, albedo_sampler, pos.xy / 64.0);
}
`

type texturedScene struct {
	prog  *proxy.Program
	verts *proxy.Buffer
	tex   *proxy.Texture
}

// newTexturedScene creates a textured program and draws one frame with it
// on a caller-thread renderer.
func newTexturedScene(t *testing.T, r *Renderer) texturedScene {
	t.Helper()
	prog, err := r.CreateShaderProgram(flatVS, texturedFS)
	if err != nil {
		t.Fatalf("CreateShaderProgram: %v", err)
	}
	verts, err := r.CreateBuffer(proxy.BufferVertex, proxy.UsageStatic, make([]byte, 3*8))
	if err != nil {
		t.Fatal(err)
	}
	desc := proxy.TextureDesc{Format: gputypes.TextureFormatRGBA8Unorm, Width: 2, Height: 2}
	tex, err := r.CreateTexture(desc, make([]byte, 16))
	if err != nil {
		t.Fatal(err)
	}
	sc := texturedScene{prog, verts, tex}
	if err := r.SetTexture(prog, "albedo", tex); err != nil {
		t.Fatal(err)
	}
	sc.draw(t, r)
	if _, err := r.Drain(); err != nil {
		t.Fatal(err)
	}
	if st := r.Stats(); st.Draws != 1 || st.Skipped != 0 {
		t.Fatalf("first frame Stats = %+v", st)
	}
	return sc
}

func (sc texturedScene) draw(t *testing.T, r *Renderer) {
	t.Helper()
	err := errors.Join(
		r.BeginRender(nil, gputypes.Color{A: 1}),
		r.UseProgram(sc.prog),
		r.BindVertexBuffer(sc.verts, 0),
		r.DrawArrays(0, 3, 1),
		r.EndRender(),
	)
	if err != nil {
		t.Fatalf("frame calls: %v", err)
	}
}

func TestDestroyedTextureDrawPanicsInDebug(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadCaller, true))
	sc := newTexturedScene(t, r)
	if err := r.Destroy(sc.tex); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	sc.draw(t, r)

	defer func() {
		rec := recover()
		err, ok := rec.(error)
		if !ok || !errors.Is(err, proxy.ErrUseAfterDestroy) {
			t.Fatalf("recovered %v, want ErrUseAfterDestroy", rec)
		}
	}()
	_, _ = r.Drain()
	t.Fatal("drawing with a destroyed texture did not panic")
}

func TestDestroyedTextureDrawSkippedOutsideDebug(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadCaller, false))
	sc := newTexturedScene(t, r)
	if err := r.Destroy(sc.tex); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	sc.draw(t, r)
	if _, err := r.Drain(); err != nil {
		t.Fatal(err)
	}
	st := r.Stats()
	if st.Draws != 1 || st.Skipped != 1 || st.Frames != 2 {
		t.Errorf("Stats = %+v, want the second draw skipped", st)
	}
}

func TestSetTextureRejectsNil(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadCaller, false))
	prog, err := r.CreateShaderProgram(flatVS, texturedFS)
	if err != nil {
		t.Fatal(err)
	}
	pushed := r.Stats().Pushed

	var typed *proxy.Texture
	for _, tex := range []proxy.Sampled{nil, typed} {
		if err := r.SetTexture(prog, "albedo", tex); !errors.Is(err, ErrNilResource) {
			t.Errorf("SetTexture(%v) = %v, want ErrNilResource", tex, err)
		}
	}
	if err := r.Destroy(typed); !errors.Is(err, ErrNilResource) {
		t.Errorf("Destroy(nil) = %v, want ErrNilResource", err)
	}
	if got := r.Stats().Pushed; got != pushed {
		t.Errorf("rejected calls queued %d tasks", got-pushed)
	}
	if _, err := r.Drain(); err != nil {
		t.Fatal(err)
	}
}

func TestOnSizeDuringFrameIsApplied(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadCaller, false))
	err := errors.Join(
		r.BeginRender(nil, gputypes.Color{A: 1}),
		r.OnSize(1024, 768),
		r.EndRender(),
	)
	if err != nil {
		t.Fatalf("frame calls: %v", err)
	}
	if _, err := r.Drain(); err != nil {
		t.Fatal(err)
	}
	// Already requested, so nothing is queued.
	if err := r.OnSize(1024, 768); err != nil {
		t.Fatal(err)
	}

	var w, h uint32
	if err := r.Do(func(e *task.Exec) error { w, h = e.Device().Size(); return nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Drain(); err != nil {
		t.Fatal(err)
	}
	if w != 1024 || h != 768 {
		t.Errorf("device size = %dx%d, want 1024x768", w, h)
	}
	if st := r.Stats(); st.Reallocations != 1 {
		t.Errorf("Reallocations = %d, want 1", st.Reallocations)
	}
}

func TestDestroyAfterShutdownKeepsProxy(t *testing.T) {
	r := newRenderer(t, testSettings(ThreadCaller, false))
	buf, err := r.CreateBuffer(proxy.BufferVertex, proxy.UsageStatic, make([]byte, 8))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Shutdown(task.ShutdownDiscard); err != nil {
		t.Fatal(err)
	}
	if err := r.Destroy(buf); !errors.Is(err, ErrShutdown) {
		t.Errorf("Destroy after Shutdown = %v, want ErrShutdown", err)
	}
	if buf.DestroyQueued() {
		t.Error("proxy marked destroy-queued with no destroy task queued")
	}
	if err := r.Present(); !errors.Is(err, ErrShutdown) {
		t.Errorf("Present after Shutdown = %v, want ErrShutdown", err)
	}
}
