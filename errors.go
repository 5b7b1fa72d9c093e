package gpuq

import "errors"

// Renderer errors.
var (
	// ErrInvalidSettings is wrapped by every Settings validation failure.
	ErrInvalidSettings = errors.New("gpuq: invalid settings")

	// ErrNotInitialized is returned by calls that need the render thread
	// before Initialize succeeded.
	ErrNotInitialized = errors.New("gpuq: renderer not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("gpuq: renderer already initialized")

	// ErrShutdown is returned by calls made after Shutdown.
	ErrShutdown = errors.New("gpuq: renderer is shut down")

	// ErrWrongThread is returned by Drain on a renderer that owns its
	// render thread.
	ErrWrongThread = errors.New("gpuq: renderer runs a dedicated render thread")

	// ErrNilResource is returned when a call that needs a proxy is given
	// nil.
	ErrNilResource = errors.New("gpuq: nil resource")

	// ErrUnsupportedResource is returned by Destroy for a proxy type the
	// renderer did not create.
	ErrUnsupportedResource = errors.New("gpuq: unsupported resource")
)
