package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called when the watched desired-state file changes.
type ChangeCallback func()

// Watcher watches a desired-state file and invokes a callback when it is
// rewritten. Editors and CI steps typically replace the file rather than
// write in place, so the parent directory is watched and events are
// filtered by name.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	stopCh   chan struct{}
}

// NewWatcher creates a watcher for the given file.
func NewWatcher(path string, callback ChangeCallback) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  watcher,
		callback: callback,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for changes.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	go w.watchLoop()
	slog.Info("Watching desired state file", "path", w.path)
	return nil
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

// watchLoop processes file system events.
func (w *Watcher) watchLoop() {
	// Debounce rapid file changes (editors may write multiple times)
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer
	needsReload := false

	defer debounceTimer.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				slog.Debug("Desired state file changed", "file", event.Name, "op", event.Op)
				needsReload = true
				debounceTimer.Reset(500 * time.Millisecond)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)

		case <-debounceTimer.C:
			if needsReload {
				w.callback()
				needsReload = false
			}
		}
	}
}
