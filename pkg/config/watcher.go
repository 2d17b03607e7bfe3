package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// Watcher refreshes the refreshable config subset (feature flags,
// thresholds) when files in the config directory change. Changes are
// debounced so an editor save or ConfigMap rollover triggers one reload.
type Watcher struct {
	cfg      *Config
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   bool
}

// NewWatcher creates a watcher over the config's directory.
func NewWatcher(cfg *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:      cfg,
		watcher:  fsw,
		debounce: 500 * time.Millisecond,
		logger:   slog.With("component", "config-watcher"),
	}, nil
}

// Start begins watching. It returns after registering the watch; reload
// work happens on a background goroutine until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.cfg.ConfigDir()); err != nil {
		return err
	}
	go w.processEvents(ctx)
	w.logger.Info("Config watcher started", "dir", w.cfg.ConfigDir())
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.pendingMu.Lock()
			w.pending = true
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// relevant filters events down to the files the refreshable subset
// reads: casepilot.yaml and .env. Kubernetes ConfigMap updates arrive
// as symlink swaps, so Create and Rename count as changes too.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	return base == ConfigFileName || base == ".env" || base == "..data"
}

func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	dirty := w.pending
	w.pending = false
	w.pendingMu.Unlock()
	if !dirty {
		return
	}

	// Re-read .env so flag changes made there are visible to LoadFlags.
	envPath := filepath.Join(w.cfg.ConfigDir(), ".env")
	if err := godotenv.Overload(envPath); err == nil {
		w.logger.Debug("Reloaded .env", "path", envPath)
	}

	if err := w.cfg.Refresh(); err != nil {
		w.logger.Error("Config refresh failed, keeping previous snapshot", "error", err)
		return
	}

	stats := w.cfg.Stats()
	w.logger.Info("Config refreshed",
		"repositories_rollout_pct", stats.RolloutPct)
}
