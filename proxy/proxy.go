// Package proxy holds the render-thread side of every GPU resource.
//
// A proxy is allocated synchronously by the Renderer on the caller's
// goroutine, in state Uncreated, and handed back immediately. The native
// objects behind it are created later on the render thread when the
// creation task executes. From then on every method that touches the
// device must run on the render thread; only ID, Kind, State and the
// destroy bookkeeping are safe from other goroutines.
//
// Lifecycle:
//
//	Uncreated --create ok--> Created --release--> Destroyed
//	Uncreated --create failed--> Invalid --release--> Destroyed
//
// There is no exit from Destroyed.
package proxy

import (
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
)

// Proxy errors.
var (
	// ErrUseAfterDestroy is returned (or panicked with, in debug mode) when a
	// destroyed proxy, or one whose destroy task is already queued, is used.
	ErrUseAfterDestroy = errors.New("proxy: use after destroy")

	// ErrCreationFailed wraps the native error of a failed creation.
	ErrCreationFailed = errors.New("proxy: resource creation failed")

	// ErrNotCreated is returned when a proxy is used before its creation
	// task has executed.
	ErrNotCreated = errors.New("proxy: resource not created")

	// ErrUnknownUniform is returned by Program.SetUniform and SetTexture
	// for names that the shader does not declare.
	ErrUnknownUniform = errors.New("proxy: unknown uniform")
)

// State is the lifecycle state of a proxy.
type State int32

const (
	// Uncreated means the creation task has not executed yet.
	Uncreated State = iota
	// Created means the native objects exist.
	Created
	// Invalid means creation failed. The proxy can only be released.
	Invalid
	// Destroyed means the native objects were released.
	Destroyed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Uncreated:
		return "uncreated"
	case Created:
		return "created"
	case Invalid:
		return "invalid"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Kind identifies the resource type behind a proxy.
type Kind uint8

const (
	// KindBuffer is a vertex, index, uniform or storage buffer.
	KindBuffer Kind = iota
	// KindTexture is a 2D texture or cubemap.
	KindTexture
	// KindProgram is a linked shader program.
	KindProgram
	// KindTarget is an offscreen render target.
	KindTarget
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindTexture:
		return "texture"
	case KindProgram:
		return "program"
	case KindTarget:
		return "target"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Resource is the part of a proxy that is safe to use from any goroutine.
type Resource interface {
	// ID is unique within the process.
	ID() uint64
	Kind() Kind
	Label() string
	State() State

	// MarkDestroyQueued records that a destroy task was enqueued. It
	// reports false if one already was.
	MarkDestroyQueued() bool
	DestroyQueued() bool
	// ClearDestroyQueued undoes MarkDestroyQueued when the destroy task
	// could not be enqueued.
	ClearDestroyQueued()

	// Usable returns nil when the proxy is Created, ErrNotCreated,
	// ErrUseAfterDestroy or an error wrapping ErrCreationFailed otherwise.
	Usable() error

	String() string
}

// IsNil reports whether r is nil or holds a nil pointer.
func IsNil(r Resource) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

var nextID atomic.Uint64

// base carries the identity and lifecycle shared by every proxy.
type base struct {
	id    uint64
	kind  Kind
	label string

	state         atomic.Int32
	destroyQueued atomic.Bool

	// err is the creation failure. Written on the render thread before
	// the state becomes Invalid.
	err error
}

func newBase(kind Kind, label string) base {
	return base{id: nextID.Add(1), kind: kind, label: label}
}

// ID returns the process-unique identifier.
func (b *base) ID() uint64 { return b.id }

// Kind returns the resource type.
func (b *base) Kind() Kind { return b.kind }

// Label returns the debug label.
func (b *base) Label() string { return b.label }

// State returns the lifecycle state.
func (b *base) State() State { return State(b.state.Load()) }

// MarkDestroyQueued records that a destroy task was enqueued.
func (b *base) MarkDestroyQueued() bool { return b.destroyQueued.CompareAndSwap(false, true) }

// ClearDestroyQueued undoes MarkDestroyQueued.
func (b *base) ClearDestroyQueued() { b.destroyQueued.Store(false) }

// DestroyQueued reports whether a destroy task was enqueued.
func (b *base) DestroyQueued() bool { return b.destroyQueued.Load() }

// Err returns the creation failure of an Invalid proxy.
func (b *base) Err() error {
	if b.State() != Invalid {
		return nil
	}
	return b.err
}

// Usable reports whether the proxy may be used by a task.
func (b *base) Usable() error {
	switch b.State() {
	case Created:
		return nil
	case Destroyed:
		return fmt.Errorf("%w: %s", ErrUseAfterDestroy, b)
	case Invalid:
		return fmt.Errorf("%s: %w", b, b.err)
	default:
		return fmt.Errorf("%w: %s", ErrNotCreated, b)
	}
}

func (b *base) String() string {
	if b.label != "" {
		return fmt.Sprintf("%s#%d(%s)", b.kind, b.id, b.label)
	}
	return fmt.Sprintf("%s#%d", b.kind, b.id)
}

func (b *base) created() { b.state.Store(int32(Created)) }

// fail moves the proxy to Invalid and returns the wrapped error.
func (b *base) fail(err error) error {
	b.err = fmt.Errorf("%w: %w", ErrCreationFailed, err)
	b.state.Store(int32(Invalid))
	return b.err
}

// released moves the proxy to Destroyed. It reports false if it already was.
func (b *base) released() bool {
	return State(b.state.Swap(int32(Destroyed))) != Destroyed
}

// canCreate rejects creation on a destroyed proxy.
func (b *base) canCreate() error {
	if b.State() == Destroyed {
		return fmt.Errorf("%w: %s", ErrUseAfterDestroy, b)
	}
	return nil
}
