// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/reactloop/pkg/engine"
)

// Watcher polls configuration files and reloads them when they change.
// A reload that fails to parse, or whose engine section does not validate,
// is logged and dropped; the previous configuration stays current.
type Watcher struct {
	paths    []string
	profile  string
	interval time.Duration
	logger   *slog.Logger

	current atomic.Pointer[Config]
	stamps  map[string]fileStamp // touched only by the polling goroutine

	mu        sync.Mutex
	listeners []func(*Config)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
}

// fileStamp identifies one version of a file on disk.
type fileStamp struct {
	modTime time.Time
	size    int64
	exists  bool
}

func stampOf(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size(), exists: true}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatchProfile reloads with the given profile overlay applied.
func WithWatchProfile(profile string) WatcherOption {
	return func(w *Watcher) {
		w.profile = profile
	}
}

// NewWatcher loads the configuration at paths[0] and prepares to watch every
// path. Later paths are overlays that only trigger reloads.
func NewWatcher(paths []string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		paths:    paths,
		interval: time.Second,
		logger:   slog.Default(),
		stamps:   make(map[string]fileStamp, len(paths)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, path := range paths {
		w.stamps[path] = stampOf(path)
	}

	cfg, err := w.load()
	if err != nil {
		return nil, err
	}
	w.current.Store(cfg)
	return w, nil
}

// OnChange registers fn to run after every accepted reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	return w.current.Load()
}

// Start polls in the background until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.watch(ctx)
}

// Stop ends polling and waits for the goroutine to exit. It is safe to call
// more than once, and on a watcher that never started.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if w.changed() {
				w.reload()
			}
		}
	}
}

// changed refreshes the stamps and reports whether any file differs,
// including one that appeared or disappeared.
func (w *Watcher) changed() bool {
	changed := false
	for _, path := range w.paths {
		stamp := stampOf(path)
		if stamp != w.stamps[path] {
			w.stamps[path] = stamp
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Warn("config.reload.rejected", "error", err)
		return
	}
	w.current.Store(cfg)
	w.logger.Info("config.reload.applied", "paths", w.paths)

	w.mu.Lock()
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

func (w *Watcher) load() (*Config, error) {
	path := ""
	if len(w.paths) > 0 {
		path = w.paths[0]
	}
	cfg, err := LoadWithProfile(path, w.profile)
	if err != nil {
		return nil, err
	}
	if err := cfg.EngineConfig().Validate(); err != nil {
		return nil, fmt.Errorf("engine section: %w", err)
	}
	return cfg, nil
}

// WatchConfig watches configPath and its profile overlay, if present, and
// starts polling. It returns the watcher and the initial config.
func WatchConfig(ctx context.Context, configPath, profile string, opts ...WatcherOption) (*Watcher, *Config, error) {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
		if overlay := profileConfigPath(configPath, profile); overlay != "" {
			paths = append(paths, overlay)
		}
	}

	watcher, err := NewWatcher(paths, append(opts, WithWatchProfile(profile))...)
	if err != nil {
		return nil, nil, err
	}
	watcher.Start(ctx)
	return watcher, watcher.Config(), nil
}

// ReloadableConfig is a Config that a watcher can swap while runs read it.
// Each accessor reads one consistent snapshot.
type ReloadableConfig struct {
	config atomic.Pointer[Config]
}

// NewReloadableConfig wraps cfg.
func NewReloadableConfig(cfg *Config) *ReloadableConfig {
	r := &ReloadableConfig{}
	r.config.Store(cfg)
	return r
}

// Get returns the current configuration.
func (r *ReloadableConfig) Get() *Config {
	return r.config.Load()
}

// Update replaces the configuration.
func (r *ReloadableConfig) Update(cfg *Config) {
	r.config.Store(cfg)
}

func (r *ReloadableConfig) LLM() LLMConfig {
	return r.Get().LLM
}

// Engine returns the run configuration for the next task.
func (r *ReloadableConfig) Engine() engine.Config {
	return r.Get().EngineConfig()
}

func (r *ReloadableConfig) Telemetry() TelemetryConfig {
	return r.Get().Telemetry
}

func (r *ReloadableConfig) Log() LogConfig {
	return r.Get().Log
}
