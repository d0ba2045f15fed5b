package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/metrics"
)

const reloadDebounce = 500 * time.Millisecond

// Holder owns the live configuration and swaps it atomically on reload.
// A reload that fails to parse or validate keeps the previous config.
type Holder struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	logger    zerolog.Logger
	listeners []func(*Config)
}

func NewHolder(initial *Config, path string) *Holder {
	return &Holder{
		current: initial,
		path:    path,
		logger:  clog.WithComponent("config"),
	}
}

// Get returns the current config. Callers must not mutate it.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnReload registers fn to run after every successful reload.
func (h *Holder) OnReload(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload re-reads the config file.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	next, err := Load(h.path)
	if err != nil {
		metrics.RecordConfigReload(false)
		h.logger.Error().Err(err).Str(clog.FieldEvent, "config.reload_failed").Msg("keeping previous configuration")
		return fmt.Errorf("reload %s: %w", h.path, err)
	}

	h.mu.Lock()
	h.current = next
	listeners := append([]func(*Config){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	metrics.RecordConfigReload(true)
	h.logger.Info().Str(clog.FieldEvent, "config.reloaded").Str("path", h.path).Msg("configuration reloaded")
	return nil
}

// Watch reloads on file writes until ctx is done. The parent directory is
// watched so a save that renames a temp file over the config still counts.
// Bursts of events from editors are debounced into one reload.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}
	target := filepath.Clean(h.path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() { _ = h.Reload() })
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
