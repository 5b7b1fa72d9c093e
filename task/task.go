// Package task defines the render tasks and the queue that carries them
// from producer goroutines to the render thread.
//
// A Task is a self-contained, immutable command: its constructor copies
// every variable-length operand, so the caller may reuse or mutate its
// buffers as soon as the constructor returns. Tasks run once, in FIFO
// order per producer, through Execute on the render thread.
package task

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuq/proxy"
)

// Task errors.
var (
	// ErrQueueFull is returned by Push under OverflowDrop when the queue
	// is at capacity. The task is not enqueued.
	ErrQueueFull = errors.New("task: queue is full")

	// ErrQueueClosed is returned by Push after Close, and passed to
	// readback callbacks of discarded tasks.
	ErrQueueClosed = errors.New("task: queue is closed")

	// ErrNilTask is returned when pushing a nil task.
	ErrNilTask = errors.New("task: nil task")
)

// Kind identifies the operation a task performs.
type Kind uint8

// Task kinds.
const (
	KindCreateBuffer Kind = iota
	KindCreateTexture
	KindLinkProgram
	KindCreateTarget

	KindBufferData
	KindBufferSubData
	KindUploadTexture
	KindUpdateSubTex2D
	KindSetUniform
	KindSetTexture

	KindBindVertexBuffer
	KindBindIndexBuffer
	KindVertexAttribPointer
	KindUseProgram
	KindSetViewport
	KindSetScissor
	KindSetPolygonMode

	KindDrawArrays
	KindDrawElements

	KindBeginRender
	KindEndRender
	KindPresent
	KindResize

	KindReadBuffer
	KindFunc

	KindDestroyBuffer
	KindDestroyTexture
	KindDestroyProgram
	KindDestroyTarget
)

var kindNames = [...]string{
	KindCreateBuffer:        "CreateBuffer",
	KindCreateTexture:       "CreateTexture",
	KindLinkProgram:         "LinkProgram",
	KindCreateTarget:        "CreateTarget",
	KindBufferData:          "BufferData",
	KindBufferSubData:       "BufferSubData",
	KindUploadTexture:       "UploadTexture",
	KindUpdateSubTex2D:      "UpdateSubTex2D",
	KindSetUniform:          "SetUniform",
	KindSetTexture:          "SetTexture",
	KindBindVertexBuffer:    "BindVertexBuffer",
	KindBindIndexBuffer:     "BindIndexBuffer",
	KindVertexAttribPointer: "VertexAttribPointer",
	KindUseProgram:          "UseProgram",
	KindSetViewport:         "SetViewport",
	KindSetScissor:          "SetScissor",
	KindSetPolygonMode:      "SetPolygonMode",
	KindDrawArrays:          "DrawArrays",
	KindDrawElements:        "DrawElements",
	KindBeginRender:         "BeginRender",
	KindEndRender:           "EndRender",
	KindPresent:             "Present",
	KindResize:              "Resize",
	KindReadBuffer:          "ReadBuffer",
	KindFunc:                "Func",
	KindDestroyBuffer:       "DestroyBuffer",
	KindDestroyTexture:      "DestroyTexture",
	KindDestroyProgram:      "DestroyProgram",
	KindDestroyTarget:       "DestroyTarget",
}

// String returns the task type name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// IsDestroy reports whether k releases a proxy.
func (k Kind) IsDestroy() bool { return k >= KindDestroyBuffer && k <= KindDestroyTarget }

// Task is one deferred render command.
type Task interface {
	// Execute runs the command on the render thread. It must not block on
	// producers and must not push new tasks.
	Execute(e *Exec)
	Kind() Kind
}

// Discarder is implemented by tasks that must observe being dropped
// by a discarding shutdown.
type Discarder interface {
	Discard()
}

// Referencer is implemented by tasks that operate on proxies.
type Referencer interface {
	References() []proxy.Resource
}

// CheckReferences returns an error wrapping proxy.ErrUseAfterDestroy if t
// references a proxy that is destroyed or whose destroy task is queued.
// Destroy tasks are exempt: they carry the reference being released.
func CheckReferences(t Task) error {
	if t.Kind().IsDestroy() {
		return nil
	}
	r, ok := t.(Referencer)
	if !ok {
		return nil
	}
	for _, res := range r.References() {
		if proxy.IsNil(res) {
			continue
		}
		if res.DestroyQueued() || res.State() == proxy.Destroyed {
			return fmt.Errorf("%w: %v references %s", proxy.ErrUseAfterDestroy, t.Kind(), res)
		}
	}
	return nil
}
