package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// HotReloader reloads the config file once it has been quiet on disk for the
// cooldown and hands the validated result to the reload handler. Invalid or
// empty files are logged and skipped.
type HotReloader struct {
	path     string
	cooldown time.Duration
	watcher  *fsnotify.Watcher
	onReload func(AppConfig) error
	logger   *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewHotReloader(path string, cooldown time.Duration, onReload func(AppConfig) error, logger *zap.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &HotReloader{
		path:     filepath.Clean(path),
		cooldown: cooldown,
		watcher:  watcher,
		onReload: onReload,
		logger:   logger.With(zap.String("component", "config-reloader")),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start watches the directory of the config file, so replacing the file
// (as editors and config maps do) is noticed too.
func (h *HotReloader) Start(ctx context.Context) error {
	if err := h.watcher.Add(filepath.Dir(h.path)); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go h.watch(ctx)
	return nil
}

func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})

	select {
	case <-h.doneChan:
	case <-time.After(time.Second):
	}
	return h.watcher.Close()
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	var (
		debounce *time.Timer
		reload   <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case <-reload:
			reload = nil
			h.handleConfigChange()
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.path {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				// every write restarts the quiet period
				if debounce == nil {
					debounce = time.NewTimer(h.cooldown)
				} else {
					debounce.Stop()
					debounce.Reset(h.cooldown)
				}
				reload = debounce.C
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (h *HotReloader) handleConfigChange() {
	cfg, err := LoadWithEnvOverrides(h.path)
	if err != nil {
		h.logger.Error("failed to reload config", zap.Error(err))
		return
	}
	if err := h.onReload(cfg); err != nil {
		h.logger.Error("failed to apply config", zap.Error(err))
		return
	}

	h.logger.Info("config reloaded", zap.Strings("symbols", cfg.Symbols))
}
