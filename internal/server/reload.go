package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/trustgate/internal/logging"
)

// DefaultDebounce is how long the reloader waits after the last write.
const DefaultDebounce = 500 * time.Millisecond

// Reloadable re-reads its policy files. *engine.Engine implements it.
type Reloadable interface {
	Reload() error
}

// Reloader watches policy and denylist files for changes and triggers hot-reload.
type Reloader struct {
	watcher  *fsnotify.Watcher
	target   Reloadable
	files    map[string]bool
	log      logging.Logger
	debounce time.Duration
}

// NewReloader creates a file watcher for the given paths. The parent
// directory of each path is watched so that files created later, or replaced
// by editors that rename over the original, are still picked up.
func NewReloader(target Reloadable, paths []string, log logging.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if log == nil {
		log = logging.Nop()
	}

	r := &Reloader{
		watcher:  watcher,
		target:   target,
		files:    make(map[string]bool),
		log:      log,
		debounce: DefaultDebounce,
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		dir := filepath.Dir(abs)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		r.files[abs] = true
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		dirs[dir] = true
	}
	return r, nil
}

// Watched returns the number of files being watched.
func (r *Reloader) Watched() int {
	return len(r.files)
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("file watcher error", "error", err)
		}
	}
}

func (r *Reloader) reload() {
	if err := r.target.Reload(); err != nil {
		r.log.Error("hot-reload failed, keeping previous policy", "error", err)
		return
	}
	r.log.Info("hot-reload: policy reloaded")
}
