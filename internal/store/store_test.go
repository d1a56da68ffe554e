package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncreasor/triago/internal/tenant"
)

func openTestStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "triago.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTenant(t *testing.T, s *Store, tenantID, key string) {
	_, err := s.db.Exec(
		`INSERT INTO tenants (tenant_id, secret_key, model) VALUES (?, ?, ?)`,
		tenantID, key, "gpt-4o")
	require.NoError(t, err)
}

func TestStore_TenantByID(t *testing.T) {
	s := openTestStore(t)
	seedTenant(t, s, "acme", "sk-acme")

	key, model, err := s.TenantByID(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "sk-acme", key)
	assert.Equal(t, "gpt-4o", model)

	_, _, err = s.TenantByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_TenantKeys(t *testing.T) {
	s := openTestStore(t)
	seedTenant(t, s, "a", "sk-a")
	seedTenant(t, s, "b", "sk-b")

	keys, err := s.TenantKeys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sk-a", "sk-b"}, keys)
}

func TestStore_LoadConfig_EmptyTenant(t *testing.T) {
	s := openTestStore(t)

	cfg, err := s.LoadConfig(context.Background(), "sk-new")
	require.NoError(t, err)

	assert.False(t, cfg.OFD.Enabled)
	assert.False(t, cfg.Form.Enabled)
	assert.Empty(t, cfg.Registry)
	assert.Equal(t, tenant.LookupNone, cfg.Form.Mode)
}

func TestStore_LoadConfig_FullBundle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustExec := func(query string, args ...interface{}) {
		_, err := s.db.Exec(query, args...)
		require.NoError(t, err)
	}

	mustExec(`INSERT INTO tenant_ofd VALUES ('sk', 1, 15, 'Добрый день!', 'Готово')`)
	mustExec(`INSERT INTO tenant_features VALUES ('sk', 1, 1, 0, '')`)
	mustExec(`INSERT INTO tenant_behavior VALUES
		('sk', 'bot@acme', 0.7, 'спасибо,решено', 'anydesk', 3,
		 '09:00', '18:00', '10:00', '16:00', 'Мы ответим утром')`)
	mustExec(`INSERT INTO tenant_form VALUES
		('sk', 1, 'card', 'Извлеки поля', '[{"id":11,"type":"phone"},{"id":12,"type":"money"}]')`)
	mustExec(`INSERT INTO tenant_catalog VALUES ('sk', 77, 5, 2, 3, 'Москва')`)
	mustExec(`INSERT INTO tenant_card VALUES ('sk', 100, 9, 14, 20)`)
	mustExec(`INSERT INTO tenant_credentials VALUES ('sk', 'api-key', 'Ты ассистент')`)

	require.NoError(t, s.SaveRegistry(ctx, "sk", "500: Teremok"))

	cfg, err := s.LoadConfig(ctx, "sk")
	require.NoError(t, err)

	assert.True(t, cfg.OFD.Enabled)
	assert.Equal(t, 15, cfg.OFD.Day)
	assert.True(t, cfg.Features.AttachmentsEnabled)
	assert.True(t, cfg.Features.MultiChannelEnabled)
	assert.Equal(t, 0.7, cfg.Behavior.Temperature)
	assert.Equal(t, 3, cfg.Behavior.TimeZoneOffset)
	assert.Equal(t, tenant.LookupCard, cfg.Form.Mode)
	require.Len(t, cfg.Form.Fields, 2)
	assert.Equal(t, tenant.KindPhone, cfg.Form.Fields[0].Kind)
	assert.Equal(t, int64(12), cfg.Form.Fields[1].ID)
	assert.Equal(t, int64(77), cfg.Catalog.DictionaryID)
	assert.Equal(t, int64(14), cfg.Card.CardFieldID)
	assert.Equal(t, "api-key", cfg.ProviderKey)
	assert.Equal(t, "500: Teremok", cfg.Registry)
}

func TestStore_SaveRegistry_Replaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRegistry(ctx, "sk", "old"))
	require.NoError(t, s.SaveRegistry(ctx, "sk", "new"))

	cfg, err := s.LoadConfig(ctx, "sk")
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.Registry)
}

func TestStore_MergeAndResetStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MergeStats(ctx, "acme", "2024-04-03", 10, 2))
	require.NoError(t, s.MergeStats(ctx, "acme", "2024-04-03", 5, 1))
	require.NoError(t, s.MergeStats(ctx, "acme", "2024-04-04", 1, 0))

	var reqs, tasks int64
	err := s.db.QueryRow(
		`SELECT request_count, task_count FROM statistics WHERE tenant_id = 'acme' AND day = '2024-04-03'`).
		Scan(&reqs, &tasks)
	require.NoError(t, err)
	assert.Equal(t, int64(15), reqs)
	assert.Equal(t, int64(3), tasks)

	require.NoError(t, s.ResetStats(ctx))

	var total int64
	err = s.db.QueryRow(`SELECT SUM(request_count) + SUM(task_count) FROM statistics`).Scan(&total)
	require.NoError(t, err)
	assert.Zero(t, total)
}
