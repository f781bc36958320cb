package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/raeldev/apihub/internal/secrets"
)

// ReloadFunc receives the freshly loaded configuration after a change on
// disk. A reload that fails validation is logged and never delivered.
type ReloadFunc func(*Config)

// Watcher reloads the config file when it changes.
type Watcher struct {
	path     string
	resolver secrets.Resolver
	logger   *slog.Logger
	onReload ReloadFunc
	debounce time.Duration

	fw *fsnotify.Watcher
}

// NewWatcher creates a watcher for path. Events are debounced because
// editors tend to fire several writes per save.
func NewWatcher(path string, resolver secrets.Resolver, logger *slog.Logger, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: rename-and-replace saves drop the
	// watch on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		resolver: resolver,
		logger:   logger,
		onReload: onReload,
		debounce: 200 * time.Millisecond,
		fw:       fw,
	}, nil
}

// Run blocks until ctx is cancelled, delivering reloads as the file
// changes.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fw.Close() }()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path, w.resolver)
	if err != nil {
		w.logger.Error("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	w.onReload(cfg)
}
