package backend

import (
	"errors"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownKind is returned when a backend name cannot be parsed.
	ErrUnknownKind = errors.New("backend: unknown kind")

	// ErrNotInitialized is returned when a device is used after Close.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrNoAdapter is returned when the instance exposes no adapter.
	ErrNoAdapter = errors.New("backend: no GPU adapter found")

	// ErrFrameInProgress is returned by BeginFrame when a frame is open.
	ErrFrameInProgress = errors.New("backend: frame already in progress")

	// ErrNoFrame is returned by EndFrame outside a frame.
	ErrNoFrame = errors.New("backend: no frame in progress")

	// ErrOutOfRange is returned for buffer accesses past the end.
	ErrOutOfRange = errors.New("backend: access out of range")
)

// Backend opens devices for one graphics API.
//
// Backends must be registered via Register() and are selected via
// Get() or Default().
type Backend interface {
	// Kind returns the API this backend drives.
	Kind() Kind

	// Open creates a device. It must be called on the goroutine that will
	// issue all subsequent device calls.
	Open(cfg Config) (*Device, error)
}

// Config describes the device to open.
type Config struct {
	// WindowHandle and DisplayHandle are native handles (HWND, NSView
	// layer, X11 window + Display, ...). A zero WindowHandle renders to
	// an offscreen backbuffer.
	WindowHandle  uintptr
	DisplayHandle uintptr

	// Width and Height are the initial framebuffer size in pixels.
	Width, Height uint32

	// VSync selects FIFO presentation, otherwise immediate when supported.
	VSync bool

	// Debug enables API validation layers where available.
	Debug bool
}

func (c Config) size() (uint32, uint32) {
	return max(c.Width, 1), max(c.Height, 1)
}
