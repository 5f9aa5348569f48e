package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Listener receives the new snapshot after a successful Update. Listeners
// run synchronously in registration order; a panic inside one is recovered
// and logged, never propagated.
type Listener func(*Config)

// Store owns the on-disk configuration document and publishes immutable
// snapshots. Get is lock-cheap; Update validates, persists atomically,
// swaps the snapshot, then fans out to listeners.
type Store struct {
	mu        sync.RWMutex
	path      string
	current   *Config
	listeners []Listener
	logger    *zap.Logger

	// onListenerPanic, when set, records listener failures as gateway
	// events. Wired by cmd after the event store is open.
	onListenerPanic func(recovered any)
}

// NewStore creates a store for the document at path. Call Load before Get.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		logger: logger.With(zap.String("component", "config")),
	}
}

// Load reads the document, creating a default one when absent. Launch-time
// environment overrides (PORT) are applied to the in-memory snapshot only.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		cfg := Default()
		if err := s.persist(cfg); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		s.logger.Info("created default config", zap.String("path", s.path))
		normalize(cfg)
		applyEnvOverrides(cfg)
		s.mu.Lock()
		s.current = cfg
		s.mu.Unlock()
		return nil
	case err != nil:
		return fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return err
	}
	applyEnvOverrides(&cfg)

	s.mu.Lock()
	s.current = &cfg
	s.mu.Unlock()
	s.logger.Info("config loaded",
		zap.String("path", s.path),
		zap.Int("providers", len(cfg.Providers)),
	)
	return nil
}

// Get returns the current snapshot. Snapshots are immutable by convention:
// callers must not mutate the returned value.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates next, persists it atomically, installs it as the current
// snapshot, and notifies listeners. On any failure the previous snapshot
// stays in place.
func (s *Store) Update(next *Config) error {
	next = next.Clone()
	normalize(next)
	if err := Validate(next); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}

	s.mu.Lock()
	s.current = next
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		s.notifySafe(fn, next)
	}
	s.logger.Info("config updated", zap.Int("providers", len(next.Providers)))
	return nil
}

// OnChange registers a listener for future updates.
func (s *Store) OnChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetPanicHook installs a callback invoked with the recovered value when a
// listener panics.
func (s *Store) SetPanicHook(hook func(recovered any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onListenerPanic = hook
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

func (s *Store) notifySafe(fn Listener, cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("config listener panicked", zap.Any("panic", r))
			s.mu.RLock()
			hook := s.onListenerPanic
			s.mu.RUnlock()
			if hook != nil {
				hook(r)
			}
		}
	}()
	fn(cfg)
}

// persist writes the document with write-temp-then-rename so a crash never
// leaves a torn file.
func (s *Store) persist(cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
