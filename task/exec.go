package task

import (
	"errors"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/internal/logging"
	"github.com/gogpu/gpuq/proxy"
)

// Exec is the render-thread state tasks execute against: the device and
// the current binding state. It must only be used by the goroutine that
// consumes the queue.
type Exec struct {
	dev   *backend.Device
	debug bool

	// OnRelease is called after a destroy task releases a proxy.
	OnRelease func(proxy.Resource)

	program *proxy.Program
	vertex  vertexBinding
	index   indexBinding
	layout  proxy.VertexLayout
	polygon backend.PolygonMode

	draws         atomic.Uint64
	skipped       atomic.Uint64
	frames        atomic.Uint64
	reallocations atomic.Uint64
}

type vertexBinding struct {
	buf    *proxy.Buffer
	offset uint64
}

type indexBinding struct {
	buf    *proxy.Buffer
	format gputypes.IndexFormat
	offset uint64
}

// NewExec returns render state bound to dev. In debug mode use of a
// destroyed proxy panics instead of being logged and skipped.
func NewExec(dev *backend.Device, debug bool) *Exec {
	return &Exec{dev: dev, debug: debug}
}

// Device returns the device tasks run against.
func (e *Exec) Device() *backend.Device { return e.dev }

// Debug reports whether debug checks panic.
func (e *Exec) Debug() bool { return e.debug }

// Program returns the program selected by UseProgram.
func (e *Exec) Program() *proxy.Program { return e.program }

// PolygonMode returns the current rasterization mode.
func (e *Exec) PolygonMode() backend.PolygonMode { return e.polygon }

// SetPolygonMode sets the rasterization mode for later draws.
func (e *Exec) SetPolygonMode(m backend.PolygonMode) { e.polygon = m }

// ExecStats counts render-thread events. It is safe to read from any
// goroutine.
type ExecStats struct {
	Draws         uint64
	Skipped       uint64
	Frames        uint64
	Reallocations uint64
}

// Stats returns the current counters.
func (e *Exec) Stats() ExecStats {
	return ExecStats{
		Draws:         e.draws.Load(),
		Skipped:       e.skipped.Load(),
		Frames:        e.frames.Load(),
		Reallocations: e.reallocations.Load(),
	}
}

// Use reports whether r may be used by kind. A destroyed proxy panics in
// debug mode and is logged at error level otherwise; a proxy that was
// never created, or failed to create, is skipped with a log entry.
func (e *Exec) Use(kind Kind, r proxy.Resource) bool {
	if proxy.IsNil(r) {
		e.skipped.Add(1)
		logging.L().Warn("task: nil proxy", "task", kind)
		return false
	}
	err := r.Usable()
	if err == nil {
		return true
	}
	e.skipped.Add(1)
	switch {
	case errors.Is(err, proxy.ErrUseAfterDestroy):
		if e.debug {
			panic(err)
		}
		logging.L().Error("task: use after destroy", "task", kind, "proxy", r.String())
	case errors.Is(err, proxy.ErrNotCreated):
		logging.L().Warn("task: proxy not created", "task", kind, "proxy", r.String())
	default:
		logging.L().Debug("task: skipped on invalid proxy", "task", kind, "proxy", r.String(), "err", err)
	}
	return false
}

// countResizes adds the framebuffer reallocations the device made since
// before, such as a resize deferred until a frame finished.
func (e *Exec) countResizes(before int) {
	if n := e.dev.Reallocations() - before; n > 0 {
		e.reallocations.Add(uint64(n))
		w, h := e.dev.Size()
		logging.L().Debug("task: framebuffer resized", "width", w, "height", h)
	}
}

// Fail logs a task failure. Failures never stop the queue.
func (e *Exec) Fail(kind Kind, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, proxy.ErrUseAfterDestroy) {
		if e.debug {
			panic(err)
		}
		logging.L().Error("task: use after destroy", "task", kind, "err", err)
		return
	}
	logging.L().Warn("task: failed", "task", kind, "err", err)
}

// release runs a proxy release and clears any binding that points at it.
func (e *Exec) release(r proxy.Resource, fn func(*backend.Device)) {
	fn(e.dev)
	if e.program != nil && r == proxy.Resource(e.program) {
		e.program = nil
	}
	// One buffer may be bound as both vertex and index source.
	if e.vertex.buf != nil && r == proxy.Resource(e.vertex.buf) {
		e.vertex = vertexBinding{}
	}
	if e.index.buf != nil && r == proxy.Resource(e.index.buf) {
		e.index = indexBinding{}
	}
	if e.OnRelease != nil {
		e.OnRelease(r)
	}
}

// prepareDraw binds the pipeline, bind groups and vertex buffer for a
// draw. It reports false when the draw must be skipped.
func (e *Exec) prepareDraw(kind Kind) bool {
	if !e.dev.InFrame() {
		e.skipped.Add(1)
		logging.L().Warn("task: draw outside a frame", "task", kind)
		return false
	}
	if e.program == nil {
		e.skipped.Add(1)
		logging.L().Warn("task: draw without a program", "task", kind)
		return false
	}
	if !e.Use(kind, e.program) {
		return false
	}

	target, _ := e.dev.Target()
	key := proxy.PipelineKey{
		Topology:    e.polygon.Topology(),
		ColorFormat: target.ColorFormat,
		Layout:      e.layout,
	}
	if target.Depth != nil {
		key.DepthFormat = target.DepthFormat
	}
	pipeline, err := e.program.Pipeline(e.dev, key)
	if err != nil {
		e.skipped.Add(1)
		e.Fail(kind, err)
		return false
	}
	pass := e.dev.Pass()
	if err := e.program.Bind(e.dev, pass); err != nil {
		e.skipped.Add(1)
		e.Fail(kind, err)
		return false
	}
	pass.SetPipeline(pipeline)

	if refl := e.program.Reflection(); len(refl.VertexInputs) > 0 {
		if e.vertex.buf == nil {
			e.skipped.Add(1)
			logging.L().Warn("task: draw without a vertex buffer", "task", kind, "program", e.program.String())
			return false
		}
		if !e.Use(kind, e.vertex.buf) {
			return false
		}
		pass.SetVertexBuffer(0, e.vertex.buf.HAL(), e.vertex.offset)
	}
	return true
}
