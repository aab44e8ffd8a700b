// Package config provides hot-reload functionality for the downloader
// settings YAML overlay. Credentials and their env-var loading live in
// internal/config; this package only watches an optional YAML file for
// the tunable rotation settings (max sessions, rotation interval,
// timeout, retries, strategy, blacklist TTL) and notifies subscribers
// when it changes.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Overlay is the subset of internal/config.Settings that can be tuned via
// the YAML file and hot-reloaded without restarting the process.
type Overlay struct {
	MaxSessions      int    `yaml:"max_sessions"`
	RotationInterval int    `yaml:"rotation_interval_seconds"`
	Timeout          int    `yaml:"timeout_seconds"`
	MaxRetries       int    `yaml:"max_retries"`
	RotationStrategy string `yaml:"rotation_strategy"`
	BlacklistTTL     int    `yaml:"blacklist_ttl_seconds"`
}

// ChangeCallback is invoked with the newly loaded overlay whenever the
// watched file changes.
type ChangeCallback func(newOverlay *Overlay)

// Logger is the minimal logging capability the reloader needs.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type noopLogger struct{}

func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

// Reloader watches a YAML file for changes and reloads its Overlay.
type Reloader struct {
	path string

	mu      sync.RWMutex
	overlay *Overlay

	watcher   *fsnotify.Watcher
	cbMu      sync.RWMutex
	callbacks []ChangeCallback

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger Logger
}

// NewReloader builds a Reloader for the given YAML file path. The file
// need not exist yet — Load/Start treat a missing file as an empty
// overlay rather than an error, since the overlay is optional.
func NewReloader(path string) *Reloader {
	return &Reloader{
		path:          path,
		debounceDelay: time.Second,
		logger:        noopLogger{},
	}
}

// SetLogger overrides the no-op default logger.
func (r *Reloader) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// OnChange registers a callback fired after every successful reload.
func (r *Reloader) OnChange(cb ChangeCallback) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Overlay returns the most recently loaded overlay, or nil before the
// first Load.
func (r *Reloader) Overlay() *Overlay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overlay
}

func (r *Reloader) loadFile() (*Overlay, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Overlay{}, nil
		}
		return nil, fmt.Errorf("config: reading overlay file: %w", err)
	}
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("config: parsing overlay YAML: %w", err)
	}
	return &o, nil
}

// Load performs the initial synchronous load.
func (r *Reloader) Load() error {
	o, err := r.loadFile()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.overlay = o
	r.mu.Unlock()
	r.logger.Info("overlay_loaded", "path", r.path)
	return nil
}

// Start loads the file and begins watching its directory for changes.
func (r *Reloader) Start() error {
	if r.ctx != nil {
		return fmt.Errorf("config: reloader already started")
	}
	if err := r.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	r.watcher = watcher

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watching directory %s: %w", dir, err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.watch()

	r.logger.Info("reloader_started", "path", r.path)
	return nil
}

// Stop cancels the watch loop and releases the watcher.
func (r *Reloader) Stop() error {
	if r.ctx == nil {
		return nil
	}
	r.cancel()
	if r.watcher != nil {
		r.watcher.Close()
	}
	r.debounceMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceMu.Unlock()
	r.wg.Wait()
	r.logger.Info("reloader_stopped")
	return nil
}

func (r *Reloader) watch() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.triggerReload()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("watcher_error", "error", err)
		}
	}
}

func (r *Reloader) triggerReload() {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.debounceDelay, r.reload)
}

func (r *Reloader) reload() {
	newOverlay, err := r.loadFile()
	if err != nil {
		r.logger.Error("overlay_reload_failed", "error", err)
		return
	}

	r.mu.Lock()
	r.overlay = newOverlay
	r.mu.Unlock()

	r.logger.Info("overlay_reloaded", "path", r.path)

	r.cbMu.RLock()
	callbacks := make([]ChangeCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()

	for _, cb := range callbacks {
		go func(cb ChangeCallback) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("callback_panic", "recover", rec)
				}
			}()
			cb(newOverlay)
		}(cb)
	}
}
