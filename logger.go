package gpuq

import (
	"log/slog"

	"github.com/gogpu/gpuq/internal/logging"
)

// SetLogger configures the logger for gpuq and all its sub-packages.
// By default, gpuq produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by gpuq:
//   - [slog.LevelDebug]: task and pipeline diagnostics (skipped tasks, pipeline cache misses)
//   - [slog.LevelInfo]: lifecycle events (backend selected, device opened, shutdown)
//   - [slog.LevelWarn]: non-fatal issues (creation failures, leaked proxies, queue growth)
//   - [slog.LevelError]: use of a destroyed proxy outside debug mode
//
// Example:
//
//	// Enable info-level logging to stderr:
//	gpuq.SetLogger(slog.Default())
//
//	// Enable debug-level logging for full diagnostics:
//	gpuq.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger used by gpuq.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.L()
}
