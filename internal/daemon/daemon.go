// Package daemon wires the triage service together: storage, tenant cache,
// assistant registry, orchestrator, webhook transport and the scheduled
// jobs, with a graceful start/stop lifecycle.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ncreasor/triago/internal/assistant"
	"github.com/ncreasor/triago/internal/attach"
	"github.com/ncreasor/triago/internal/config"
	"github.com/ncreasor/triago/internal/extract"
	"github.com/ncreasor/triago/internal/ledger"
	"github.com/ncreasor/triago/internal/logger"
	"github.com/ncreasor/triago/internal/metrics"
	"github.com/ncreasor/triago/internal/ofd"
	"github.com/ncreasor/triago/internal/orchestrator"
	"github.com/ncreasor/triago/internal/provider"
	"github.com/ncreasor/triago/internal/registry"
	"github.com/ncreasor/triago/internal/runner"
	"github.com/ncreasor/triago/internal/session"
	"github.com/ncreasor/triago/internal/stats"
	"github.com/ncreasor/triago/internal/store"
	"github.com/ncreasor/triago/internal/tenant"
	"github.com/ncreasor/triago/internal/tracker"
	"github.com/ncreasor/triago/internal/webhook"
)

// Daemon is the triage service.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store     *store.Store
	cache     *tenant.Cache
	stats     *stats.Aggregator
	refresher *registry.Refresher
	webhook   *webhook.Server
	scheduler *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.Mutex
}

// New builds a daemon from configuration.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	zl := log.GetZerolog()

	db, err := store.Open(cfg.Database.Path, zl)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	trk := tracker.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Timeout, zl)

	cache := tenant.NewCache(db, zl)
	sessions := session.NewStore()
	ldg := ledger.New(cfg.Ledger.TTL, cfg.Ledger.MaxEntries)
	gate := ofd.NewGate(zl)
	assistants := assistant.NewRegistry(zl)
	exec := runner.NewExecutor(cfg.Provider.PollInterval, cfg.Provider.RunTimeout, cfg.Provider.MaxRetries, cfg.Provider.LatinRatioMax, zl)
	engine := extract.NewEngine(trk, zl)
	aggregator := stats.NewAggregator(db, zl)
	refresher := registry.NewRefresher(db, db, cache, trk, zl)

	var extractor attach.Extractor = attach.Noop{}
	if cfg.Extractor.Endpoint != "" {
		extractor = attach.NewHTTPExtractor(cfg.Extractor.Endpoint, cfg.Extractor.Token, cfg.Extractor.Timeout, zl)
	}

	m := metrics.NewMetrics()

	orch := orchestrator.New(orchestrator.Deps{
		Cache:       cache,
		Sessions:    sessions,
		Ledger:      ldg,
		Gate:        gate,
		Assistants:  assistants,
		Runner:      exec,
		Extractor:   engine,
		Attachments: extractor,
		Stats:       aggregator,
		Clients:     provider.NewOpenAIClient,
		Routing:     cfg.Routing,
		Metrics:     m,
	}, zl)

	srv := webhook.NewServer(webhook.ServerOptions{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Metrics:      m,
		SessionCount: sessions.Len,
	}, db, orch, aggregator, zl)

	d := &Daemon{
		config:    cfg,
		logger:    log,
		store:     db,
		cache:     cache,
		stats:     aggregator,
		refresher: refresher,
		webhook:   srv,
		scheduler: cron.New(),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := d.scheduleJobs(); err != nil {
		cancel()
		db.Close()
		return nil, err
	}
	return d, nil
}

// scheduleJobs registers the calendar jobs: daily stats flush, monthly
// stats reset and the nightly registry rebuild.
func (d *Daemon) scheduleJobs() error {
	zl := d.logger.GetZerolog()

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"stats_flush", d.config.Schedules.StatsFlush, d.stats.Flush},
		{"stats_reset", d.config.Schedules.StatsReset, d.stats.Reset},
		{"registry_refresh", d.config.Schedules.RegistryRefresh, d.refresher.RefreshAll},
	}

	for _, job := range jobs {
		job := job
		_, err := d.scheduler.AddFunc(job.spec, func() {
			if err := job.run(d.ctx); err != nil {
				zl.Error().Err(err).Str("job", job.name).Msg("Scheduled job failed")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s (%q): %w", job.name, job.spec, err)
		}
	}
	return nil
}

// Start brings the daemon up: registries are rebuilt once, the scheduler
// starts and the webhook server begins serving. Start does not block.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Starting triago daemon")

	// Startup registry rebuild mirrors the nightly job.
	if err := d.refresher.RefreshAll(d.ctx); err != nil {
		zl.Warn().Err(err).Msg("Startup registry refresh failed")
	}

	d.scheduler.Start()
	zl.Info().Msg("Scheduler started")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.webhook.Start(); err != nil {
			zl.Error().Err(err).Msg("Webhook server exited")
			d.cancel()
		}
	}()

	zl.Info().Msg("Daemon started successfully")
	return nil
}

// Stop shuts the daemon down: the webhook server drains, pending counters
// are flushed and the store closes.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Stopping triago daemon")

	stopCtx := d.scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		zl.Warn().Msg("Scheduler jobs still running at shutdown")
	}

	if err := d.webhook.Stop(); err != nil {
		zl.Error().Err(err).Msg("Failed to stop webhook server")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.stats.Flush(flushCtx); err != nil {
		zl.Error().Err(err).Msg("Final statistics flush failed")
	}

	d.cancel()
	d.wg.Wait()

	if err := d.store.Close(); err != nil {
		zl.Error().Err(err).Msg("Failed to close store")
	}

	zl.Info().Msg("Daemon stopped")
	return nil
}

// Done is closed when the daemon stops on its own, e.g. when the webhook
// server fails to bind.
func (d *Daemon) Done() <-chan struct{} {
	return d.ctx.Done()
}

// Uptime reports how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}
