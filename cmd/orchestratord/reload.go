package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opscore/orchestrator/internal/config"
	"github.com/opscore/orchestrator/internal/observability"
)

// configWatcher watches a config file's parent directory for writes and
// live-applies the subset of settings safe to change without a restart
// (logging.level). fsnotify watches directories rather than individual
// files since editors and config-management tools commonly replace a file
// (rename-over-write) instead of writing it in place, which a bare
// single-file watch would miss.
type configWatcher struct {
	watcher   *fsnotify.Watcher
	path      string
	debounce  time.Duration
	logger    *observability.Logger
	onReload  func(*config.Config)
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	lastTimer *time.Timer
}

// newConfigWatcher returns nil (a no-op) if cfg.Reload.Enabled is false.
func newConfigWatcher(cfg *config.Config, path string, logger *observability.Logger, onReload func(*config.Config)) (*configWatcher, error) {
	if !cfg.Reload.Enabled {
		return nil, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &configWatcher{
		watcher:  watcher,
		path:     filepath.Clean(path),
		debounce: cfg.Reload.DebounceInterval,
		logger:   logger,
		onReload: onReload,
	}, nil
}

func (w *configWatcher) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
}

func (w *configWatcher) stop() {
	if w == nil || w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	_ = w.watcher.Close()
}

func (w *configWatcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "config watch error", "error", err)
		}
	}
}

func (w *configWatcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastTimer != nil {
		w.lastTimer.Stop()
	}
	w.lastTimer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
}

func (w *configWatcher) reload(ctx context.Context) {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn(ctx, "config reload failed, keeping previous configuration", "error", err)
		return
	}
	w.logger.Info(ctx, "configuration file changed, applying reloadable settings", "logging_level", cfg.Logging.Level)
	w.onReload(cfg)
}
