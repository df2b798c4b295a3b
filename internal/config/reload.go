package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the config file and reloads it on change, so retry
// budgets and drain knobs can be tuned without restarting the sidecar.
// Immutable settings (port, upstream endpoint) changed on disk are reported
// but not applied.
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	logger    *slog.Logger
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewReloader creates a Reloader for the given config file path.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		current: initial,
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Current returns the active configuration (thread-safe).
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback invoked with the new config after each
// successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start begins watching the config file. Must be called once after
// NewReloader.
func (r *Reloader) Start() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Error("failed to create config file watcher", "error", err)
		return
	}
	r.watcher = watcher

	if err := watcher.Add(r.path); err != nil {
		r.logger.Error("failed to watch config file", "path", r.path, "error", err)
		watcher.Close()
		r.watcher = nil
		return
	}

	r.logger.Info("config file watcher started", "path", r.path)
	go r.watchLoop()
}

// Stop terminates the file watcher.
func (r *Reloader) Stop() {
	close(r.stopCh)
	if r.watcher != nil {
		r.watcher.Close()
	}
}

// Reload loads the config from disk, validates it, and if valid swaps it in
// and notifies registered callbacks. Returns true on success. Exported so
// tests can drive it directly.
func (r *Reloader) Reload() bool {
	newCfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed, keeping current config",
			"path", r.path, "error", err)
		return false
	}

	r.mu.Lock()
	old := r.current
	r.current = newCfg
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logChanges(old, newCfg)

	for _, cb := range callbacks {
		cb(newCfg)
	}

	r.logger.Info("configuration reloaded", "path", r.path)
	return true
}

// watchLoop processes fsnotify events with debouncing; editors often emit
// several events per save.
func (r *Reloader) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					r.Reload()
				})
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("config file watcher error", "error", err)
		case <-r.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// logChanges summarizes what changed between the old and new config.
func (r *Reloader) logChanges(old, new *Config) {
	if old.Fetch != new.Fetch {
		r.logger.Info("fetch settings changed",
			"old_max_attempts", old.Fetch.MaxAttempts,
			"new_max_attempts", new.Fetch.MaxAttempts,
			"old_retry_delay", old.Fetch.RetryDelay.Std(),
			"new_retry_delay", new.Fetch.RetryDelay.Std(),
			"old_cache_ttl", old.Fetch.CacheTTL.Std(),
			"new_cache_ttl", new.Fetch.CacheTTL.Std(),
		)
	}
	if old.Drain != new.Drain {
		r.logger.Info("drain settings changed",
			"old_grace_period", old.Drain.GracePeriod.Std(),
			"new_grace_period", new.Drain.GracePeriod.Std(),
		)
	}
	if old.Upstream.Endpoint != new.Upstream.Endpoint {
		r.logger.Warn("upstream.endpoint changed on disk; a restart is required for it to take effect",
			"current", old.Upstream.Endpoint,
			"new", new.Upstream.Endpoint,
		)
	}
	if old.Server.Port != new.Server.Port {
		r.logger.Warn("server.port changed on disk; a restart is required for it to take effect",
			"current", old.Server.Port,
			"new", new.Server.Port,
		)
	}
}
