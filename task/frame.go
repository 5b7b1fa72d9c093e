package task

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/internal/logging"
	"github.com/gogpu/gpuq/proxy"
)

// BeginRender opens a frame on a render target or the default
// framebuffer, clearing it.
type BeginRender struct {
	target *proxy.Target
	clear  gputypes.Color
}

// NewBeginRender renders to target, or to the default framebuffer when
// target is nil.
func NewBeginRender(target *proxy.Target, clear gputypes.Color) *BeginRender {
	return &BeginRender{target: target, clear: clear}
}

func (t *BeginRender) Kind() Kind { return KindBeginRender }

func (t *BeginRender) References() []proxy.Resource {
	if t.target == nil {
		return nil
	}
	return []proxy.Resource{t.target}
}

func (t *BeginRender) Execute(e *Exec) {
	defer e.countResizes(e.dev.Reallocations())
	if t.target == nil {
		e.Fail(t.Kind(), e.dev.BeginFrame(nil, t.clear))
		return
	}
	if !e.Use(t.Kind(), t.target) {
		return
	}
	att := t.target.Attachments()
	e.Fail(t.Kind(), e.dev.BeginFrame(&att, t.clear))
}

// EndRender ends the frame and submits it.
type EndRender struct{}

// NewEndRender returns an EndRender task.
func NewEndRender() *EndRender { return &EndRender{} }

func (t *EndRender) Kind() Kind { return KindEndRender }

func (t *EndRender) Execute(e *Exec) {
	defer e.countResizes(e.dev.Reallocations())
	if err := e.dev.EndFrame(); err != nil {
		e.Fail(t.Kind(), err)
		return
	}
	e.frames.Add(1)
}

// Present shows the last submitted frame.
type Present struct{}

// NewPresent returns a Present task.
func NewPresent() *Present { return &Present{} }

func (t *Present) Kind() Kind { return KindPresent }
func (t *Present) Execute(e *Exec) {
	defer e.countResizes(e.dev.Reallocations())
	e.Fail(t.Kind(), e.dev.Present())
}

// Resize resizes the default framebuffer chain. The device only
// reallocates when the size actually changes. Inside a frame the device
// defers the reallocation until the frame is finished.
type Resize struct {
	width, height uint32
}

// NewResize resizes to width x height.
func NewResize(width, height uint32) *Resize { return &Resize{width: width, height: height} }

func (t *Resize) Kind() Kind { return KindResize }

func (t *Resize) Execute(e *Exec) {
	changed, err := e.dev.Resize(t.width, t.height)
	if err != nil {
		e.Fail(t.Kind(), err)
		return
	}
	if changed {
		e.reallocations.Add(1)
		logging.L().Debug("task: framebuffer resized", "width", t.width, "height", t.height)
	} else if e.dev.ResizePending() {
		logging.L().Debug("task: framebuffer resize deferred to end of frame", "width", t.width, "height", t.height)
	}
}
