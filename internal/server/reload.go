package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDebounce is how long the config file must stay quiet before a
// reload.
const ReloadDebounce = 500 * time.Millisecond

// Reloader applies config file edits to a running server.
type Reloader struct {
	watcher  *fsnotify.Watcher
	server   *Server
	path     string
	debounce time.Duration
}

// NewReloader watches the directory holding path, so a file replaced by
// rename is still picked up. A path that does not exist yet is not watched.
func NewReloader(server *Server, path string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := watcher.Add(filepath.Dir(path)); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to watch %q: %w", path, err)
			}
		}
	}
	return &Reloader{
		watcher:  watcher,
		server:   server,
		path:     filepath.Clean(path),
		debounce: ReloadDebounce,
	}, nil
}

// Run reloads the server after each burst of writes to the config file.
// It blocks until ctx is cancelled or the watcher closes.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()
	logger := r.server.logger

	timer := time.NewTimer(r.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == r.path && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				timer.Reset(r.debounce)
			}

		case <-timer.C:
			if err := r.server.Reload(); err != nil {
				logger.Error("config reload failed, keeping previous config", "path", r.path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", r.path, "config_hash", r.server.ConfigHash())

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "path", r.path, "error", err)
		}
	}
}
