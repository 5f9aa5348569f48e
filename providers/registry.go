package providers

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/config"
	"github.com/ccgw/cc-gw/types"
)

// Registry holds one connector per configured provider and rebuilds the
// table whenever the config snapshot changes. Connectors never look up
// live config during a send; they carry the snapshot they were built from.
type Registry struct {
	mu       sync.RWMutex
	table    map[string]*Connector
	timeouts Timeouts
	logger   *zap.Logger
}

// NewRegistry builds connectors for the initial snapshot. Wire Rebuild to
// config.Store.OnChange for hot reload.
func NewRegistry(cfg *config.Config, t Timeouts, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		timeouts: t,
		logger:   logger.With(zap.String("component", "providers")),
	}
	r.Rebuild(cfg)
	return r
}

// Rebuild replaces the connector table from a fresh snapshot. In-flight
// requests keep the connector they already resolved.
func (r *Registry) Rebuild(cfg *config.Config) {
	table := make(map[string]*Connector, len(cfg.Providers))
	for _, p := range cfg.Providers {
		table[p.ID] = NewConnector(p, r.timeouts, r.logger)
	}
	r.mu.Lock()
	r.table = table
	r.mu.Unlock()
	r.logger.Debug("connector table rebuilt", zap.Int("providers", len(table)))
}

// Get returns the connector for a provider id.
func (r *Registry) Get(providerID string) (*Connector, error) {
	r.mu.RLock()
	c, ok := r.table[providerID]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrRouteUnresolved, "no connector for provider "+providerID)
	}
	return c, nil
}

// Count reports the number of configured connectors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}
