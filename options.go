package gpuq

import (
	"log/slog"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/shader"
)

// Option configures a Renderer during creation.
//
// Example:
//
//	// Backend chosen from settings through the registry
//	r, err := gpuq.New(settings)
//
//	// Explicit backend (dependency injection, tests)
//	r, err := gpuq.New(settings, gpuq.WithBackend(backend.NewHeadless()))
type Option func(*options)

// options holds optional configuration for Renderer creation.
type options struct {
	backend  backend.Backend
	compiler shader.Options
	cache    *shader.Cache
	logger   *slog.Logger
}

// defaultOptions returns the default renderer options.
func defaultOptions() options {
	return options{
		backend:  nil, // Resolved from Settings.Backend if nil
		compiler: shader.DefaultOptions(),
		cache:    shader.NewCache(shader.DefaultCacheCapacity),
	}
}

// WithBackend bypasses the backend registry and uses b.
// Settings.Backend is ignored when this option is given.
func WithBackend(b backend.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithCompilerOptions sets the options CreateShaderProgram and
// WatchShaderProgram compile with.
//
// Example:
//
//	opts := shader.DefaultOptions()
//	opts.Debug = true
//	r, err := gpuq.New(settings, gpuq.WithCompilerOptions(opts))
func WithCompilerOptions(opts shader.Options) Option {
	return func(o *options) {
		o.compiler = opts
	}
}

// WithShaderCache shares c between renderers, so programs compiled by
// one are reused by the others. Nil disables caching.
func WithShaderCache(c *shader.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithLogger installs l as the package logger when the renderer is
// created. It is shorthand for calling SetLogger before New.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
