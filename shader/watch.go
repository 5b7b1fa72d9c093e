package shader

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/gpuq/internal/logging"
)

// WatchDebounce is how long the watcher waits after the last write before
// recompiling. Editors often save a file in several steps.
var WatchDebounce = 100 * time.Millisecond

// Watcher recompiles a program whenever its source files change.
type Watcher struct {
	vsPath, fsPath string
	opts           Options
	onChange       func(*Program, error)

	fw   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64 // bumped by every schedule

	// reloadMu serializes reloads so callbacks arrive in schedule order.
	reloadMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Watch starts watching the vertex and fragment source files. onChange is
// called from the watcher goroutine with the recompiled program, or with
// the error when the new sources fail to compile.
func Watch(vsPath, fsPath string, opts Options, onChange func(*Program, error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("shader: watch: nil callback")
	}
	vsAbs, err := filepath.Abs(vsPath)
	if err != nil {
		return nil, err
	}
	fsAbs, err := filepath.Abs(fsPath)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("shader: watch: %w", err)
	}
	// Directories are watched rather than files so that editors that
	// replace the file by renaming keep triggering events.
	for _, dir := range uniqueDirs(vsAbs, fsAbs) {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("shader: watch %s: %w", dir, err)
		}
	}

	w := &Watcher{
		vsPath:   filepath.Clean(vsAbs),
		fsPath:   filepath.Clean(fsAbs),
		opts:     opts,
		onChange: onChange,
		fw:       fw,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func uniqueDirs(paths ...string) []string {
	var dirs []string
	seen := make(map[string]bool)
	for _, p := range paths {
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Clean(event.Name)
			if name != w.vsPath && name != w.fsPath {
				continue
			}
			w.schedule()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logging.L().Warn("shader: watch error", "err", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(WatchDebounce, func() { w.reload(gen) })
}

// current reports whether gen is the latest scheduled reload of an open
// watcher.
func (w *Watcher) current(gen uint64) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return gen == w.gen
}

// reload recompiles the sources. A reload superseded by a later change
// drops its result.
func (w *Watcher) reload(gen uint64) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if !w.current(gen) {
		return
	}

	vs, err := os.ReadFile(w.vsPath)
	if err != nil {
		w.onChange(nil, err)
		return
	}
	fs, err := os.ReadFile(w.fsPath)
	if err != nil {
		w.onChange(nil, err)
		return
	}
	p, err := Compile(string(vs), string(fs), w.opts)
	if !w.current(gen) {
		return
	}
	if err != nil {
		logging.L().Warn("shader: reload failed", "vs", w.vsPath, "fs", w.fsPath, "err", err)
	} else {
		logging.L().Debug("shader: reloaded", "vs", w.vsPath, "fs", w.fsPath)
	}
	w.onChange(p, err)
}

// Close stops watching. Pending reloads are cancelled. It is safe to call
// more than once and from several goroutines.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.closeErr = w.fw.Close()
		w.wg.Wait()
	})
	return w.closeErr
}
