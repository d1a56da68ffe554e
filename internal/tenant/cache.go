package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrUnavailable signals that the configuration store could not be reached.
// Callers fail the current event and leave the cache untouched.
var ErrUnavailable = errors.New("tenant configuration unavailable")

// Store loads a tenant configuration bundle by tenant security key.
type Store interface {
	LoadConfig(ctx context.Context, key string) (*Config, error)
}

// Cache lazily loads and memoizes tenant configuration bundles.
type Cache struct {
	store  Store
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*Config
}

// NewCache creates a tenant config cache backed by the given store.
func NewCache(store Store, logger zerolog.Logger) *Cache {
	return &Cache{
		store:   store,
		logger:  logger.With().Str("component", "tenant_cache").Logger(),
		entries: make(map[string]*Config),
	}
}

// Get returns the cached bundle for the key, loading and memoizing it on
// first access.
func (c *Cache) Get(ctx context.Context, key string) (*Config, error) {
	c.mu.RLock()
	cfg, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := c.store.LoadConfig(ctx, key)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to load tenant config")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	// Another event may have loaded it meanwhile; the store is the single
	// source of truth, so either copy is fine.
	if existing, ok := c.entries[key]; ok {
		cfg = existing
	} else {
		c.entries[key] = cfg
	}
	c.mu.Unlock()

	return cfg, nil
}

// Invalidate drops the cached entry for one tenant key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.logger.Debug().Msg("Tenant config invalidated")
}

// InvalidateAll clears every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*Config)
	c.mu.Unlock()
	c.logger.Debug().Msg("Tenant config cache cleared")
}
