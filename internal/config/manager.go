package config

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// OverrideSource supplies database-stored section overrides, keyed by
// section name ("agent", "notify", ...). Values are deep-merged over the
// file configuration on every reload.
type OverrideSource interface {
	ConfigOverrides(ctx context.Context) (map[string]map[string]any, error)
}

// Manager holds the live configuration snapshot. Readers always see the
// latest merged view on the next Current call; writers swap the snapshot
// atomically so a turn in flight keeps the view it started with.
type Manager struct {
	path      string
	logger    *slog.Logger
	overrides OverrideSource

	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(*Config)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithOverrideSource attaches the database override layer.
func WithOverrideSource(src OverrideSource) ManagerOption {
	return func(m *Manager) {
		m.overrides = src
	}
}

// NewManager loads the initial snapshot from path.
func NewManager(path string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		path:   path,
		logger: slog.Default().With("component", "config"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.Reload(context.Background()); err != nil {
		return nil, err
	}
	return m, nil
}

// Current returns the live snapshot. The returned value must be treated as
// read-only.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Subscribe registers a callback invoked after every successful reload.
func (m *Manager) Subscribe(fn func(*Config)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Reload re-reads the file, applies database overrides, and swaps the
// snapshot. Invoked at boot, on admin mutation, and on file change.
func (m *Manager) Reload(ctx context.Context) error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}
	if m.overrides != nil {
		sections, err := m.overrides.ConfigOverrides(ctx)
		if err != nil {
			m.logger.Warn("config overrides unavailable", "error", err)
		} else if len(sections) > 0 {
			cfg, err = applyOverrides(cfg, sections)
			if err != nil {
				return err
			}
		}
	}
	m.current.Store(cfg)

	m.mu.Lock()
	listeners := make([]func(*Config), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Invalidate forces a re-merge. It is the hook ambient clients call after
// mutating stored overrides.
func (m *Manager) Invalidate(ctx context.Context) {
	if err := m.Reload(ctx); err != nil {
		m.logger.Warn("config reload failed", "error", err)
	}
}

// Watch re-merges on file modification until the context is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(m.path); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := m.Reload(ctx); err != nil {
				m.logger.Warn("config reload failed", "path", m.path, "error", err)
				continue
			}
			m.logger.Info("config reloaded", "path", m.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("config watch error", "error", err)
		}
	}
}

func applyOverrides(cfg *Config, sections map[string]map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	raw, err := parseRawBytes(payload)
	if err != nil {
		return nil, err
	}
	for section, values := range sections {
		if existing, ok := raw[section].(map[string]any); ok {
			raw[section] = mergeMaps(existing, values)
		} else {
			raw[section] = values
		}
	}
	return decodeRaw(raw)
}
