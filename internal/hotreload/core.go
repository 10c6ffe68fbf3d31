// Package hotreload watches config files and calls a handler, debounced, when
// one changes on disk.
package hotreload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler is called with the changed file's path.
type ReloadHandler func(ctx context.Context, path string) error

const DefaultDebounce = 300 * time.Millisecond

// Watcher maps individual files to handlers. It watches the parent directory
// so editors that replace files by rename are still seen.
type Watcher struct {
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mutex      sync.Mutex
	handlers   map[string]ReloadHandler
	dirs       map[string]bool
	debouncers map[string]*time.Timer
}

func New(debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		logger:     logger,
		watcher:    w,
		debounce:   debounce,
		handlers:   map[string]ReloadHandler{},
		dirs:       map[string]bool{},
		debouncers: map[string]*time.Timer{},
	}, nil
}

// Add registers handler for path.
func (hr *Watcher) Add(path string, handler ReloadHandler) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	hr.mutex.Lock()
	defer hr.mutex.Unlock()
	if !hr.dirs[dir] {
		if err := hr.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		hr.dirs[dir] = true
	}
	hr.handlers[abs] = handler
	hr.logger.Info("hot reload registered", "file", abs)
	return nil
}

// Run dispatches file events until ctx ends, then releases the watcher.
func (hr *Watcher) Run(ctx context.Context) {
	defer hr.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-hr.watcher.Events:
			if !ok {
				return
			}
			hr.handleFileEvent(ctx, event)
		case err, ok := <-hr.watcher.Errors:
			if !ok {
				return
			}
			hr.logger.Error("file watcher error", "error", err)
		}
	}
}

func (hr *Watcher) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	hr.mutex.Lock()
	defer hr.mutex.Unlock()
	handler, ok := hr.handlers[abs]
	if !ok {
		return
	}
	hr.logger.Debug("file event", "event", event.Op.String(), "file", abs)
	if timer, exists := hr.debouncers[abs]; exists {
		timer.Stop()
	}
	hr.debouncers[abs] = time.AfterFunc(hr.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := handler(ctx, abs); err != nil {
			hr.logger.Error("failed to reload file", "file", abs, "error", err)
			return
		}
		hr.logger.Info("file reloaded", "file", abs)
	})
}

func (hr *Watcher) stop() {
	hr.mutex.Lock()
	for _, t := range hr.debouncers {
		t.Stop()
	}
	hr.mutex.Unlock()
	_ = hr.watcher.Close()
}
