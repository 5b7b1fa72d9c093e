package gpuq

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/internal/logging"
	"github.com/gogpu/gpuq/proxy"
	"github.com/gogpu/gpuq/shader"
	"github.com/gogpu/gpuq/task"
)

type phase uint8

const (
	phaseNew phase = iota
	phaseRunning
	phaseShutdown
)

// Renderer turns calls from any goroutine into tasks executed on one
// render thread. Create it with New and start it with Initialize.
//
// All methods are safe for concurrent use, except Drain and Shutdown in
// ThreadCaller mode, which must be called from the render thread.
type Renderer struct {
	settings Settings
	opts     options
	backend  backend.Backend // nil: resolved from the registry at Initialize
	queue    *task.Queue

	// exec is published by the render thread once the device is open.
	exec atomic.Pointer[task.Exec]

	mu    sync.Mutex
	phase phase
	done  chan struct{} // closed when the dedicated thread exits
	live  map[uint64]proxy.Resource

	// sizeMu is held across a possibly blocking Push, so it must never
	// be taken by the render thread.
	sizeMu        sync.Mutex
	width, height uint32 // last requested framebuffer size
}

// New validates s and resolves its backend. No device is opened until
// Initialize. Tasks may be queued before that; they run once the render
// thread starts.
func New(s Settings, opts ...Option) (*Renderer, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	b := o.backend
	if b == nil && s.Backend != backend.Auto {
		var err error
		if b, err = backend.Select(s.Backend); err != nil {
			return nil, fmt.Errorf("gpuq: %w", err)
		}
	}

	w, h := s.size()
	r := &Renderer{
		settings: s,
		opts:     o,
		backend:  b,
		queue:    task.NewQueue(s.QueueCapacity, s.Overflow),
		width:    w,
		height:   h,
		live:     make(map[uint64]proxy.Resource),
	}
	logging.L().Info("gpuq: renderer created",
		"backend", s.Backend, "thread", s.Thread,
		"queue_capacity", r.queue.Capacity(), "overflow", r.queue.Policy(), "debug", s.Debug)
	return r, nil
}

// Settings returns the settings the renderer was created with.
func (r *Renderer) Settings() Settings { return r.settings }

// Initialize opens the backend device on the render thread.
//
// With ThreadDedicated it starts the render thread and waits until the
// device is open or ctx is done. If ctx ends first the renderer is shut
// down, discarding queued tasks. With ThreadCaller the calling goroutine
// becomes the render thread.
func (r *Renderer) Initialize(ctx context.Context) error {
	r.mu.Lock()
	switch r.phase {
	case phaseRunning:
		r.mu.Unlock()
		return ErrAlreadyInitialized
	case phaseShutdown:
		r.mu.Unlock()
		return ErrShutdown
	}
	r.phase = phaseRunning

	if r.settings.Thread == ThreadCaller {
		r.mu.Unlock()
		if _, err := r.open(); err != nil {
			r.setPhase(phaseNew)
			return err
		}
		return nil
	}

	ready := make(chan error, 1)
	r.done = make(chan struct{})
	r.mu.Unlock()
	go r.renderThread(ready)

	select {
	case err := <-ready:
		if err != nil {
			r.setPhase(phaseNew)
		}
		return err
	case <-ctx.Done():
		_ = r.Shutdown(task.ShutdownDiscard)
		return ctx.Err()
	}
}

func (r *Renderer) setPhase(p phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

// open opens the device on the current goroutine and publishes the
// render-thread state.
func (r *Renderer) open() (*task.Exec, error) {
	cfg := r.settings.config()
	var (
		dev *backend.Device
		err error
	)
	if r.backend != nil {
		dev, err = r.backend.Open(cfg)
	} else {
		dev, err = backend.OpenDefault(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("gpuq: open device: %w", err)
	}

	e := task.NewExec(dev, r.settings.Debug)
	e.SetPolygonMode(r.settings.PolygonMode)
	e.OnRelease = r.forget
	r.exec.Store(e)

	info := dev.AdapterInfo()
	logging.L().Info("gpuq: device opened",
		"backend", dev.Kind(), "adapter", info.Name, "width", cfg.Width, "height", cfg.Height)
	return e, nil
}

func (r *Renderer) renderThread(ready chan<- error) {
	defer close(r.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e, err := r.open()
	ready <- err
	if err != nil {
		return
	}
	if err := r.queue.Run(context.Background(), e); err != nil {
		logging.L().Warn("gpuq: render loop stopped", "err", err)
	}
	r.teardown(e)
}

// Drain executes the tasks queued so far on the calling goroutine and
// returns how many ran. It is the per-frame pump in ThreadCaller mode.
func (r *Renderer) Drain() (int, error) {
	if r.settings.Thread != ThreadCaller {
		return 0, ErrWrongThread
	}
	e := r.exec.Load()
	if e == nil {
		return 0, ErrNotInitialized
	}
	r.mu.Lock()
	p := r.phase
	r.mu.Unlock()
	if p == phaseShutdown {
		return 0, ErrShutdown
	}
	return r.queue.Drain(e), nil
}

// Shutdown stops the renderer. ShutdownDrain executes every queued task
// first; ShutdownDiscard drops them. Proxies still alive afterwards are
// released and logged as leaks, then the device is closed.
//
// A renderer that was never initialized has no device, so its queued
// tasks are always discarded. A second Shutdown returns ErrShutdown.
func (r *Renderer) Shutdown(mode task.ShutdownMode) error {
	r.mu.Lock()
	prev := r.phase
	r.phase = phaseShutdown
	done := r.done
	r.mu.Unlock()

	if prev == phaseShutdown {
		return ErrShutdown
	}
	if prev == phaseNew {
		mode = task.ShutdownDiscard
	}
	pending := r.queue.Close(mode)
	logging.L().Info("gpuq: shutting down", "mode", mode, "pending", pending)

	switch {
	case prev == phaseNew:
	case r.settings.Thread == ThreadDedicated:
		<-done
	default:
		e := r.exec.Load()
		r.queue.Drain(e)
		r.teardown(e)
	}
	return nil
}

type releaser interface {
	proxy.Resource
	Release(dev *backend.Device)
}

// teardown runs on the render thread after the queue has stopped.
func (r *Renderer) teardown(e *task.Exec) {
	r.mu.Lock()
	leaked := slices.SortedFunc(maps.Values(r.live), func(a, b proxy.Resource) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	clear(r.live)
	r.mu.Unlock()

	dev := e.Device()
	for _, res := range leaked {
		logging.L().Warn("gpuq: releasing leaked proxy", "proxy", res.String(), "state", res.State())
		if rel, ok := res.(releaser); ok {
			rel.Release(dev)
		}
	}
	dev.Close()
	logging.L().Info("gpuq: renderer shut down", "leaked", len(leaked))
}

func (r *Renderer) track(res proxy.Resource) {
	r.mu.Lock()
	r.live[res.ID()] = res
	r.mu.Unlock()
}

func (r *Renderer) forget(res proxy.Resource) {
	r.mu.Lock()
	delete(r.live, res.ID())
	r.mu.Unlock()
}

// push checks t for references to destroyed proxies and enqueues it.
func (r *Renderer) push(t task.Task) error {
	if err := task.CheckReferences(t); err != nil {
		return r.misuse(t.Kind(), err)
	}
	return r.enqueue(t)
}

// enqueue pushes t, reporting a closed queue as ErrShutdown.
func (r *Renderer) enqueue(t task.Task) error {
	err := r.queue.Push(t)
	if errors.Is(err, task.ErrQueueClosed) {
		return fmt.Errorf("%w: %w", ErrShutdown, err)
	}
	return err
}

// misuse panics in debug mode and logs otherwise.
func (r *Renderer) misuse(kind task.Kind, err error) error {
	if r.settings.Debug {
		panic(err)
	}
	logging.L().Error("gpuq: use after destroy", "task", kind, "err", err)
	return err
}

// create registers res as live and queues its creation task.
func (r *Renderer) create(res proxy.Resource, t task.Task) error {
	r.track(res)
	if err := r.queue.Push(t); err != nil {
		r.forget(res)
		return fmt.Errorf("gpuq: queue %v: %w", t.Kind(), err)
	}
	return nil
}

// CreateBuffer returns a buffer proxy and queues its creation with a
// copy of data.
func (r *Renderer) CreateBuffer(typ proxy.BufferType, usage proxy.BufferUsage, data []byte) (*proxy.Buffer, error) {
	buf := proxy.NewBuffer(typ, usage, "")
	if err := r.create(buf, task.NewCreateBuffer(buf, data)); err != nil {
		return nil, err
	}
	return buf, nil
}

// CreateTexture returns a texture proxy and queues its creation. data
// holds the base level of every face, or nothing.
func (r *Renderer) CreateTexture(desc proxy.TextureDesc, data []byte) (*proxy.Texture, error) {
	tex := proxy.NewTexture(desc)
	if err := r.create(tex, task.NewCreateTexture(tex, desc, data)); err != nil {
		return nil, err
	}
	return tex, nil
}

// CreateShaderProgram compiles vs and fs on the calling goroutine and
// queues linking. Compile errors are returned here and never reach the
// render thread. Identical sources reuse a cached compilation.
func (r *Renderer) CreateShaderProgram(vs, fs string) (*proxy.Program, error) {
	var (
		src *shader.Program
		err error
	)
	if r.opts.cache != nil {
		src, err = r.opts.cache.Compile(vs, fs, r.opts.compiler)
	} else {
		src, err = shader.Compile(vs, fs, r.opts.compiler)
	}
	if err != nil {
		return nil, err
	}
	prog := proxy.NewProgram(src, "")
	if err := r.create(prog, task.NewLinkProgram(prog, nil)); err != nil {
		return nil, err
	}
	return prog, nil
}

// CreateRenderTarget returns an offscreen target proxy. An undefined
// format uses the device color format.
func (r *Renderer) CreateRenderTarget(width, height uint32, format gputypes.TextureFormat, depth bool) (*proxy.Target, error) {
	rt := proxy.NewTarget("")
	if err := r.create(rt, task.NewCreateTarget(rt, width, height, format, depth)); err != nil {
		return nil, err
	}
	return rt, nil
}

// WatchShaderProgram recompiles prog from the two files whenever they
// change and queues a relink. A failed compile is logged and prog keeps
// its current shaders. Close the returned watcher to stop.
func (r *Renderer) WatchShaderProgram(prog *proxy.Program, vsPath, fsPath string) (*shader.Watcher, error) {
	return shader.Watch(vsPath, fsPath, r.opts.compiler, func(src *shader.Program, err error) {
		if err != nil {
			logging.L().Warn("gpuq: shader reload failed", "program", prog.String(), "err", err)
			return
		}
		if err := r.push(task.NewLinkProgram(prog, src)); err != nil {
			logging.L().Warn("gpuq: shader reload not queued", "program", prog.String(), "err", err)
		}
	})
}

// Destroy queues the release of res. The proxy must not be passed to
// later calls. Destroying twice is a use after destroy.
func (r *Renderer) Destroy(res proxy.Resource) error {
	if proxy.IsNil(res) {
		return fmt.Errorf("%w: destroy", ErrNilResource)
	}
	var t task.Task
	switch p := res.(type) {
	case *proxy.Buffer:
		t = task.NewDestroyBuffer(p)
	case *proxy.Texture:
		t = task.NewDestroyTexture(p)
	case *proxy.Program:
		t = task.NewDestroyProgram(p)
	case *proxy.Target:
		t = task.NewDestroyTarget(p)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedResource, res)
	}
	if !res.MarkDestroyQueued() {
		return r.misuse(t.Kind(), fmt.Errorf("%w: %s destroyed twice", proxy.ErrUseAfterDestroy, res))
	}
	if err := r.enqueue(t); err != nil {
		// Nothing will release it, so the proxy stays usable.
		res.ClearDestroyQueued()
		return err
	}
	return nil
}

// Stats combines queue and render-thread counters.
type Stats struct {
	task.Stats
	task.ExecStats

	// Live is the number of proxies created and not yet destroyed.
	Live int
}

// Stats returns a snapshot of the renderer counters.
func (r *Renderer) Stats() Stats {
	st := Stats{Stats: r.queue.Stats()}
	if e := r.exec.Load(); e != nil {
		st.ExecStats = e.Stats()
	}
	r.mu.Lock()
	st.Live = len(r.live)
	r.mu.Unlock()
	return st
}

// Backend returns the kind of the open device, or the configured kind
// before Initialize.
func (r *Renderer) Backend() backend.Kind {
	if e := r.exec.Load(); e != nil {
		return e.Device().Kind()
	}
	if r.backend != nil {
		return r.backend.Kind()
	}
	return r.settings.Backend
}

// AdapterInfo describes the GPU behind the open device. It is zero
// before Initialize.
func (r *Renderer) AdapterInfo() gpucontext.AdapterInfo {
	if e := r.exec.Load(); e != nil {
		return e.Device().AdapterInfo()
	}
	return gpucontext.AdapterInfo{}
}
