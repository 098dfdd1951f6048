package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/orangebricks/autodash/internal/framework"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 500 * time.Millisecond

// Watch restarts dashboards whose framework does not reload on its own when
// their source file changes. It blocks until ctx is cancelled or the
// registry is closed.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	logger := r.logger.With("watcher", "source")
	watched := make(map[string]bool)

	resync := func() {
		dirs := r.watchDirs()
		for dir := range dirs {
			if watched[dir] {
				continue
			}
			if err := watcher.Add(dir); err != nil {
				logger.Warn("cannot watch directory", "dir", dir, "error", err)
				continue
			}
			watched[dir] = true
			logger.Debug("watching directory", "dir", dir)
		}
		for dir := range watched {
			if !dirs[dir] {
				watcher.Remove(dir)
				delete(watched, dir)
			}
		}
	}
	resync()

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.ctx.Done():
			return nil

		case <-r.changed:
			resync()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(event.Name)
			if !r.reloadable(path) {
				continue
			}

			mu.Lock()
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(reloadDebounce, func() {
				mu.Lock()
				delete(timers, path)
				mu.Unlock()

				logger.Info("source changed, restarting dashboard", "path", path)
				rctx := WithOrigin(ctx, "watcher", "file_change")
				if err := r.Restart(rctx, path); err != nil {
					logger.Error("restart after change failed", "path", path, "error", err)
				}
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}

// watchDirs returns the directories holding tracked source files.
func (r *Registry) watchDirs() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	dirs := make(map[string]bool, len(r.active))
	for path := range r.active {
		dirs[filepath.Dir(path)] = true
	}
	return dirs
}

// reloadable reports whether path is tracked by a dashboard that needs an
// explicit restart to pick up edits.
func (r *Registry) reloadable(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[path]
	return ok && !framework.ReloadsOnSave(t.d.Kind())
}
