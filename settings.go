package gpuq

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/gpucontext"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/task"
)

// ThreadMode selects which goroutine executes tasks.
type ThreadMode uint8

const (
	// ThreadDedicated starts a goroutine locked to its own OS thread that
	// executes tasks as they arrive.
	ThreadDedicated ThreadMode = iota

	// ThreadCaller makes the goroutine that calls Initialize the render
	// thread. It must call Drain once per frame.
	ThreadCaller
)

var threadModeNames = [...]string{
	ThreadDedicated: "dedicated",
	ThreadCaller:    "caller",
}

// String returns the configuration name of the mode.
func (m ThreadMode) String() string {
	if int(m) < len(threadModeNames) {
		return threadModeNames[m]
	}
	return fmt.Sprintf("ThreadMode(%d)", m)
}

// MarshalText implements encoding.TextMarshaler.
func (m ThreadMode) MarshalText() ([]byte, error) {
	if int(m) >= len(threadModeNames) {
		return nil, fmt.Errorf("gpuq: unknown thread mode %d", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ThreadMode) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range threadModeNames {
		if name == s {
			*m = ThreadMode(i)
			return nil
		}
	}
	return fmt.Errorf("gpuq: unknown thread mode %q", text)
}

// Settings configures a Renderer.
//
// Settings can be loaded from YAML or TOML with LoadSettings. Native
// handles and the window provider are runtime values and are never read
// from files.
type Settings struct {
	// Backend selects the graphics API. Auto picks the best registered one.
	Backend backend.Kind `yaml:"backend" toml:"backend"`

	// WindowHandle and DisplayHandle are native handles for presentation.
	// Zero renders offscreen.
	WindowHandle  uintptr `yaml:"-" toml:"-"`
	DisplayHandle uintptr `yaml:"-" toml:"-"`

	// Window, when set, supplies the framebuffer size if Width or Height
	// is zero.
	Window gpucontext.WindowProvider `yaml:"-" toml:"-"`

	// Width and Height are the initial framebuffer size in pixels.
	Width  uint32 `yaml:"width" toml:"width"`
	Height uint32 `yaml:"height" toml:"height"`

	// PolygonMode is the initial rasterization mode.
	PolygonMode backend.PolygonMode `yaml:"polygon_mode" toml:"polygon_mode"`

	// VSync selects FIFO presentation.
	VSync bool `yaml:"vsync" toml:"vsync"`

	// Thread selects the render thread model.
	Thread ThreadMode `yaml:"thread" toml:"thread"`

	// QueueCapacity bounds the task queue. Zero is unbounded.
	QueueCapacity int `yaml:"queue_capacity" toml:"queue_capacity"`

	// Overflow is applied when a bounded queue is full.
	Overflow task.OverflowPolicy `yaml:"overflow" toml:"overflow"`

	// Debug turns use of a destroyed proxy into a panic and enables
	// backend validation layers.
	Debug bool `yaml:"debug" toml:"debug"`
}

// DefaultSettings returns settings for a 1280x720 window on the best
// available backend with a dedicated render thread.
func DefaultSettings() Settings {
	return Settings{
		Backend:  backend.Auto,
		Width:    1280,
		Height:   720,
		VSync:    true,
		Thread:   ThreadDedicated,
		Overflow: task.OverflowBlock,
	}
}

// Validate reports the first problem with s.
func (s Settings) Validate() error {
	if _, err := s.Backend.MarshalText(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if _, err := s.PolygonMode.MarshalText(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if _, err := s.Thread.MarshalText(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if _, err := s.Overflow.MarshalText(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if s.QueueCapacity < 0 {
		return fmt.Errorf("%w: negative queue capacity %d", ErrInvalidSettings, s.QueueCapacity)
	}
	if s.Window == nil && (s.Width == 0 || s.Height == 0) {
		return fmt.Errorf("%w: framebuffer size %dx%d", ErrInvalidSettings, s.Width, s.Height)
	}
	return nil
}

// size resolves the framebuffer size, asking the window provider for any
// zero dimension.
func (s Settings) size() (uint32, uint32) {
	w, h := s.Width, s.Height
	if s.Window == nil || (w != 0 && h != 0) {
		return w, h
	}
	ww, wh := s.Window.Size()
	scale := s.Window.ScaleFactor()
	if scale <= 0 {
		scale = 1
	}
	if w == 0 {
		w = uint32(max(float64(ww)*scale, 1))
	}
	if h == 0 {
		h = uint32(max(float64(wh)*scale, 1))
	}
	return w, h
}

func (s Settings) config() backend.Config {
	w, h := s.size()
	return backend.Config{
		WindowHandle:  s.WindowHandle,
		DisplayHandle: s.DisplayHandle,
		Width:         w,
		Height:        h,
		VSync:         s.VSync,
		Debug:         s.Debug,
	}
}

// LoadSettings reads settings from a YAML (.yaml, .yml) or TOML (.toml)
// file. Keys missing from the file keep their DefaultSettings values;
// unknown keys are an error.
func LoadSettings(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("gpuq: load settings: %w", err)
	}
	defer f.Close()

	s := DefaultSettings()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(f, &s)
	case ".toml":
		err = toml.NewDecoder(f).DisallowUnknownFields().Decode(&s)
	default:
		return Settings{}, fmt.Errorf("%w: unknown settings file type %q", ErrInvalidSettings, ext)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("gpuq: load settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func decodeYAML(r io.Reader, s *Settings) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
