// Package store persists tenant configuration, daily statistics and the
// nightly card registry in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
	"github.com/rs/zerolog"

	"github.com/ncreasor/triago/internal/tenant"
)

// ErrNotFound is returned when a tenant is unknown.
var ErrNotFound = errors.New("not found")

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
    tenant_id  TEXT PRIMARY KEY,
    secret_key TEXT NOT NULL UNIQUE,
    model      TEXT NOT NULL DEFAULT 'gpt-4o'
);

CREATE TABLE IF NOT EXISTS tenant_ofd (
    secret_key TEXT PRIMARY KEY,
    enabled    INTEGER DEFAULT 0,
    day        INTEGER DEFAULT 0,
    greeting   TEXT DEFAULT '',
    template   TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tenant_features (
    secret_key            TEXT PRIMARY KEY,
    attachments_enabled   INTEGER DEFAULT 0,
    multi_channel_enabled INTEGER DEFAULT 0,
    emergency_enabled     INTEGER DEFAULT 0,
    emergency_template    TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tenant_behavior (
    secret_key        TEXT PRIMARY KEY,
    bot_login         TEXT DEFAULT '',
    temperature       REAL DEFAULT 1.0,
    stop_words        TEXT DEFAULT '',
    bot_stop_words    TEXT DEFAULT '',
    time_zone         INTEGER DEFAULT 0,
    work_from         TEXT DEFAULT '',
    work_to           TEXT DEFAULT '',
    work_from_weekend TEXT DEFAULT '',
    work_to_weekend   TEXT DEFAULT '',
    off_hours_message TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tenant_form (
    secret_key TEXT PRIMARY KEY,
    enabled    INTEGER DEFAULT 0,
    mode       TEXT DEFAULT '',
    template   TEXT DEFAULT '',
    fields     TEXT DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS tenant_catalog (
    secret_key    TEXT PRIMARY KEY,
    dictionary_id INTEGER DEFAULT 0,
    dict_field_id INTEGER DEFAULT 0,
    name_column   INTEGER DEFAULT 0,
    filter_column INTEGER DEFAULT 0,
    filter_words  TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tenant_card (
    secret_key    TEXT PRIMARY KEY,
    card_id       INTEGER DEFAULT 0,
    field_id      INTEGER DEFAULT 0,
    card_field_id INTEGER DEFAULT 0,
    group_id      INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tenant_credentials (
    secret_key      TEXT PRIMARY KEY,
    provider_key    TEXT DEFAULT '',
    system_template TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS card_registry (
    secret_key TEXT PRIMARY KEY,
    parsed     TEXT DEFAULT '',
    updated_at TEXT
);

CREATE TABLE IF NOT EXISTS statistics (
    tenant_id     TEXT NOT NULL,
    day           TEXT NOT NULL,
    request_count INTEGER DEFAULT 0,
    task_count    INTEGER DEFAULT 0,
    PRIMARY KEY (tenant_id, day)
);
`

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// TenantByID resolves a public tenant id to its secret key and model.
func (s *Store) TenantByID(ctx context.Context, tenantID string) (key, model string, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT secret_key, model FROM tenants WHERE tenant_id = ?`, tenantID)
	if err := row.Scan(&key, &model); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", fmt.Errorf("tenant %q: %w", tenantID, ErrNotFound)
		}
		return "", "", fmt.Errorf("failed to look up tenant: %w", err)
	}
	return key, model, nil
}

// TenantKeys returns the secret keys of all registered tenants.
func (s *Store) TenantKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT secret_key FROM tenants`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan tenant key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// LoadConfig assembles the full configuration bundle for a tenant key.
// Missing per-section rows fall back to zero values, matching a tenant that
// has not filled in that part of the admin panel yet.
func (s *Store) LoadConfig(ctx context.Context, key string) (*tenant.Config, error) {
	cfg := &tenant.Config{}

	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, day, greeting, template FROM tenant_ofd WHERE secret_key = ?`, key).
		Scan(&enabled, &cfg.OFD.Day, &cfg.OFD.Greeting, &cfg.OFD.Template)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load ofd config: %w", err)
	}
	cfg.OFD.Enabled = enabled != 0

	var attach, multi, emergency int
	err = s.db.QueryRowContext(ctx,
		`SELECT attachments_enabled, multi_channel_enabled, emergency_enabled, emergency_template
		 FROM tenant_features WHERE secret_key = ?`, key).
		Scan(&attach, &multi, &emergency, &cfg.Features.EmergencyTemplate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load feature flags: %w", err)
	}
	cfg.Features.AttachmentsEnabled = attach != 0
	cfg.Features.MultiChannelEnabled = multi != 0
	cfg.Features.EmergencyEnabled = emergency != 0

	err = s.db.QueryRowContext(ctx,
		`SELECT bot_login, temperature, stop_words, bot_stop_words, time_zone,
		        work_from, work_to, work_from_weekend, work_to_weekend, off_hours_message
		 FROM tenant_behavior WHERE secret_key = ?`, key).
		Scan(&cfg.Behavior.BotLogin, &cfg.Behavior.Temperature, &cfg.Behavior.StopWords,
			&cfg.Behavior.BotStopWords, &cfg.Behavior.TimeZoneOffset,
			&cfg.Behavior.WorkFrom, &cfg.Behavior.WorkTo,
			&cfg.Behavior.WorkFromWeekend, &cfg.Behavior.WorkToWeekend,
			&cfg.Behavior.OffHoursMessage)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load behavior config: %w", err)
	}

	var formEnabled int
	var mode, fieldsJSON string
	err = s.db.QueryRowContext(ctx,
		`SELECT enabled, mode, template, fields FROM tenant_form WHERE secret_key = ?`, key).
		Scan(&formEnabled, &mode, &cfg.Form.Template, &fieldsJSON)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load form config: %w", err)
	}
	cfg.Form.Enabled = formEnabled != 0
	cfg.Form.Mode = tenant.LookupMode(mode)
	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &cfg.Form.Fields); err != nil {
			return nil, fmt.Errorf("failed to parse field descriptors: %w", err)
		}
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT dictionary_id, dict_field_id, name_column, filter_column, filter_words
		 FROM tenant_catalog WHERE secret_key = ?`, key).
		Scan(&cfg.Catalog.DictionaryID, &cfg.Catalog.DictFieldID, &cfg.Catalog.NameColumn,
			&cfg.Catalog.FilterColumn, &cfg.Catalog.FilterWords)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load catalog config: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT card_id, field_id, card_field_id, group_id FROM tenant_card WHERE secret_key = ?`, key).
		Scan(&cfg.Card.CardID, &cfg.Card.FieldID, &cfg.Card.CardFieldID, &cfg.Card.GroupID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load card config: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT provider_key, system_template FROM tenant_credentials WHERE secret_key = ?`, key).
		Scan(&cfg.ProviderKey, &cfg.SystemTemplate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT parsed FROM card_registry WHERE secret_key = ?`, key).
		Scan(&cfg.Registry)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load card registry: %w", err)
	}

	return cfg, nil
}

// SaveRegistry replaces the flattened card registry for a tenant key.
func (s *Store) SaveRegistry(ctx context.Context, key, parsed string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO card_registry (secret_key, parsed, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(secret_key) DO UPDATE SET parsed = excluded.parsed, updated_at = excluded.updated_at`,
		key, parsed, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save card registry: %w", err)
	}
	return nil
}

// MergeStats adds the deltas into the per-tenant-per-day statistics record.
func (s *Store) MergeStats(ctx context.Context, tenantID, day string, requests, tasks int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO statistics (tenant_id, day, request_count, task_count) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id, day) DO UPDATE SET
		     request_count = request_count + excluded.request_count,
		     task_count    = task_count + excluded.task_count`,
		tenantID, day, requests, tasks)
	if err != nil {
		return fmt.Errorf("failed to merge statistics: %w", err)
	}
	return nil
}

// ResetStats zeroes every persisted counter.
func (s *Store) ResetStats(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE statistics SET request_count = 0, task_count = 0`); err != nil {
		return fmt.Errorf("failed to reset statistics: %w", err)
	}
	return nil
}
