// Package registry rebuilds the per-tenant card registry: the flattened
// "id: value" listing of the card form register that the fuzzy card matcher
// runs against. Rebuilt nightly and once at startup.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ncreasor/triago/internal/tenant"
	"github.com/ncreasor/triago/internal/tracker"
)

// Source enumerates tenants and loads their configuration bundles.
type Source interface {
	TenantKeys(ctx context.Context) ([]string, error)
	LoadConfig(ctx context.Context, key string) (*tenant.Config, error)
}

// Saver persists a rebuilt registry string.
type Saver interface {
	SaveRegistry(ctx context.Context, key, parsed string) error
}

// Invalidator drops cached tenant bundles so the fresh registry is picked up.
type Invalidator interface {
	InvalidateAll()
}

// Refresher rebuilds card registries for every card-mode tenant.
type Refresher struct {
	source  Source
	saver   Saver
	cache   Invalidator
	tracker *tracker.Client
	logger  zerolog.Logger
}

// NewRefresher creates a registry refresher.
func NewRefresher(source Source, saver Saver, cache Invalidator, trk *tracker.Client, logger zerolog.Logger) *Refresher {
	return &Refresher{
		source:  source,
		saver:   saver,
		cache:   cache,
		tracker: trk,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// RefreshAll rebuilds the registry of every tenant configured for card
// lookup, then invalidates the whole config cache so the next event loads
// the fresh registry. One tenant's failure does not stop the others.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	keys, err := r.source.TenantKeys(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list tenants for registry refresh")
		return err
	}

	var firstErr error
	for _, key := range keys {
		cfg, err := r.source.LoadConfig(ctx, key)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to load tenant for registry refresh")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if cfg.Form.Mode != tenant.LookupCard {
			continue
		}
		if err := r.refresh(ctx, key, cfg); err != nil {
			r.logger.Error().Err(err).Msg("Registry refresh failed for tenant")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	r.cache.InvalidateAll()
	r.logger.Info().Int("tenants", len(keys)).Msg("Registry refresh finished")
	return firstErr
}

// refresh rebuilds one tenant's registry from the card form register.
func (r *Refresher) refresh(ctx context.Context, key string, cfg *tenant.Config) error {
	if cfg.Card.CardID == 0 || cfg.Card.FieldID == 0 {
		r.logger.Warn().Msg("Card form or field id missing, skipping registry refresh")
		return nil
	}

	token, err := r.tracker.Auth(ctx, cfg.Behavior.BotLogin, key)
	if err != nil {
		return fmt.Errorf("tracker auth: %w", err)
	}

	tasks, err := r.tracker.Register(ctx, token, cfg.Card.CardID, cfg.Card.FieldID)
	if err != nil {
		return fmt.Errorf("fetch register: %w", err)
	}

	parsed := flatten(tasks, cfg.Card.FieldID)
	if err := r.saver.SaveRegistry(ctx, key, parsed); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}

	r.logger.Info().Int("cards", len(tasks)).Msg("Registry rebuilt")
	return nil
}

// flatten renders register rows as "id: value" lines, skipping rows whose
// configured field is empty.
func flatten(tasks []tracker.RegisterTask, fieldID int64) string {
	var b strings.Builder
	for _, t := range tasks {
		for _, f := range t.Fields {
			if f.ID != fieldID {
				continue
			}
			value := tracker.FieldValueString(f.Value)
			if strings.TrimSpace(value) == "" {
				break
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d: %s", t.ID, value)
			break
		}
	}
	return b.String()
}
