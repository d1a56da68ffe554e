package config

import (
	"fmt"
	"time"
)

// Config is the service-level configuration. Tenant-level settings live in
// the tenant store and are loaded per key at runtime.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	Provider  ProviderConfig  `mapstructure:"provider" json:"provider"`
	Tracker   TrackerConfig   `mapstructure:"tracker" json:"tracker"`
	Ledger    LedgerConfig    `mapstructure:"ledger" json:"ledger"`
	Routing   RoutingConfig   `mapstructure:"routing" json:"routing"`
	Schedules ScheduleConfig  `mapstructure:"schedules" json:"schedules"`
	Extractor ExtractorConfig `mapstructure:"extractor" json:"extractor"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
	DataDir   string          `mapstructure:"data_dir" json:"data_dir"`
}

// ServerConfig holds webhook server settings
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

// ProviderConfig holds conversation-provider tuning knobs
type ProviderConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	RunTimeout    time.Duration `mapstructure:"run_timeout" json:"run_timeout"`
	MaxRetries    int           `mapstructure:"max_retries" json:"max_retries"`
	LatinRatioMax float64       `mapstructure:"latin_ratio_max" json:"latin_ratio_max"`
}

// TrackerConfig holds the external task system endpoint
type TrackerConfig struct {
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// LedgerConfig bounds the idempotency sets
type LedgerConfig struct {
	TTL        time.Duration `mapstructure:"ttl" json:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" json:"max_entries"`
}

// RoutingConfig maps tenant ids to the form id served by the
// integrations assistant flavor
type RoutingConfig struct {
	Integrations map[string]int64 `mapstructure:"integrations" json:"integrations"`

	// IntegrationsTemplate seeds the integrations assistant instructions.
	IntegrationsTemplate string `mapstructure:"integrations_template" json:"integrations_template"`
}

// ScheduleConfig holds cron expressions for the background jobs
type ScheduleConfig struct {
	StatsFlush      string `mapstructure:"stats_flush" json:"stats_flush"`
	StatsReset      string `mapstructure:"stats_reset" json:"stats_reset"`
	RegistryRefresh string `mapstructure:"registry_refresh" json:"registry_refresh"`
}

// ExtractorConfig points at the external attachment text-extraction service.
// An empty endpoint disables extraction.
type ExtractorConfig struct {
	Endpoint string        `mapstructure:"endpoint" json:"endpoint"`
	Token    string        `mapstructure:"token" json:"token"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level   string `mapstructure:"level" json:"level"`
	File    string `mapstructure:"file" json:"file"`
	Console bool   `mapstructure:"console" json:"console"`
	Pretty  bool   `mapstructure:"pretty" json:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8085,
		},
		Database: DatabaseConfig{},
		Provider: ProviderConfig{
			PollInterval:  300 * time.Millisecond,
			RunTimeout:    90 * time.Second,
			MaxRetries:    2,
			LatinRatioMax: 0.5,
		},
		Tracker: TrackerConfig{
			BaseURL: "https://api.pyrus.com/v4",
			Timeout: 20 * time.Second,
		},
		Ledger: LedgerConfig{
			TTL:        72 * time.Hour,
			MaxEntries: 100000,
		},
		Routing: RoutingConfig{
			Integrations: map[string]int64{},
		},
		Schedules: ScheduleConfig{
			StatsFlush:      "59 23 * * *",
			StatsReset:      "0 0 1 * *",
			RegistryRefresh: "0 3 * * *",
		},
		Extractor: ExtractorConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Provider.PollInterval <= 0 {
		return fmt.Errorf("provider poll interval must be positive")
	}
	if c.Provider.RunTimeout <= 0 {
		return fmt.Errorf("provider run timeout must be positive")
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider max retries cannot be negative")
	}
	if c.Provider.LatinRatioMax <= 0 || c.Provider.LatinRatioMax > 1 {
		return fmt.Errorf("latin ratio threshold must be in (0, 1]")
	}
	if c.Tracker.BaseURL == "" {
		return fmt.Errorf("tracker base URL is required")
	}
	if c.Ledger.MaxEntries <= 0 {
		return fmt.Errorf("ledger max entries must be positive")
	}
	return nil
}
