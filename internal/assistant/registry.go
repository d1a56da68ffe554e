// Package assistant caches provisioned assistant handles per tenant and
// flavor. Provisioning happens at most once per (tenant, flavor) for the
// process lifetime; a per-key singleflight guard serializes concurrent
// first requests without blocking unrelated tenants.
package assistant

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ncreasor/triago/internal/provider"
	"github.com/ncreasor/triago/internal/tenant"
)

// preamble pins the reply language and tone for every assistant flavor.
const preamble = "ВНИМАНИЕ! ВСЕ ОТВЕТЫ ТОЛЬКО НА РУССКОМ. Ты — сотрудник техподдержки. Отвечай вежливо и кратко."

// Registry caches assistant handles keyed by (tenant, flavor).
type Registry struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	byKey  map[string]string
	flight singleflight.Group
}

// NewRegistry creates an empty assistant registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "assistant_registry").Logger(),
		byKey:  make(map[string]string),
	}
}

// GetOrCreate returns the cached assistant handle for (tenantID, flavor),
// provisioning it on first use. The instructions template is combined with
// the fixed preamble; the assistant is bound to the tenant's model.
func (r *Registry) GetOrCreate(ctx context.Context, prov provider.Provisioner, tenantID string, flavor tenant.Flavor, template, model string) (string, error) {
	key := tenantID + "/" + string(flavor)

	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := r.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a previous flight may have filled it.
		r.mu.RLock()
		id, ok := r.byKey[key]
		r.mu.RUnlock()
		if ok {
			return id, nil
		}

		name := assistantName(tenantID, flavor)
		instructions := fmt.Sprintf("%s\n\n[ИНСТРУКЦИЯ]\n%s", preamble, template)

		created, err := prov.CreateAssistant(ctx, name, instructions, model)
		if err != nil {
			return "", fmt.Errorf("failed to provision assistant %s: %w", key, err)
		}

		r.mu.Lock()
		r.byKey[key] = created
		r.mu.Unlock()

		r.logger.Info().
			Str("tenant", tenantID).
			Str("flavor", string(flavor)).
			Str("assistant", created).
			Msg("Assistant provisioned")

		return created, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func assistantName(tenantID string, flavor tenant.Flavor) string {
	if flavor == tenant.FlavorIntegrations {
		return fmt.Sprintf("Integrations Bot - %s", tenantID)
	}
	return fmt.Sprintf("Support Bot - %s", tenantID)
}
