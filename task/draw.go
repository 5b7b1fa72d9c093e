package task

import "github.com/gogpu/gpuq/internal/logging"

// DrawArrays draws count vertices of the bound vertex buffer.
type DrawArrays struct {
	first, count, instances uint32
}

// NewDrawArrays draws count vertices starting at first. instances
// below 1 draw one instance.
func NewDrawArrays(first, count, instances uint32) *DrawArrays {
	return &DrawArrays{first: first, count: count, instances: max(instances, 1)}
}

func (t *DrawArrays) Kind() Kind { return KindDrawArrays }

func (t *DrawArrays) Execute(e *Exec) {
	if t.count == 0 || !e.prepareDraw(t.Kind()) {
		return
	}
	e.dev.Pass().Draw(t.count, t.instances, t.first, 0)
	e.draws.Add(1)
}

// DrawElements draws count indices of the bound index buffer.
type DrawElements struct {
	count, firstIndex uint32
	baseVertex        int32
	instances         uint32
}

// NewDrawElements draws count indices starting at firstIndex.
func NewDrawElements(count, firstIndex uint32, baseVertex int32, instances uint32) *DrawElements {
	return &DrawElements{count: count, firstIndex: firstIndex, baseVertex: baseVertex, instances: max(instances, 1)}
}

func (t *DrawElements) Kind() Kind { return KindDrawElements }

func (t *DrawElements) Execute(e *Exec) {
	if t.count == 0 {
		return
	}
	if e.index.buf == nil {
		e.skipped.Add(1)
		logging.L().Warn("task: indexed draw without an index buffer")
		return
	}
	if !e.Use(t.Kind(), e.index.buf) || !e.prepareDraw(t.Kind()) {
		return
	}
	pass := e.dev.Pass()
	pass.SetIndexBuffer(e.index.buf.HAL(), e.index.format, e.index.offset)
	pass.DrawIndexed(t.count, t.instances, t.firstIndex, t.baseVertex, 0)
	e.draws.Add(1)
}
