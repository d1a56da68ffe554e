// Package stats accumulates per-tenant request and auto-resolution counters
// in memory and merges them into durable storage on a schedule.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink persists accumulated counters.
type Sink interface {
	MergeStats(ctx context.Context, tenantID, day string, requests, tasks int64) error
	ResetStats(ctx context.Context) error
}

type counters struct {
	requests int64
	tasks    int64
}

// Aggregator counts inbound requests and auto-resolved tasks per tenant.
type Aggregator struct {
	sink   Sink
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.Mutex
	byTenant map[string]*counters
}

// NewAggregator creates an aggregator flushing into sink.
func NewAggregator(sink Sink, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		sink:     sink,
		now:      time.Now,
		logger:   logger.With().Str("component", "stats").Logger(),
		byTenant: make(map[string]*counters),
	}
}

// IncRequest counts one inbound event for the tenant.
func (a *Aggregator) IncRequest(tenantID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.get(tenantID).requests++
}

// IncTask counts one auto-resolved task for the tenant.
func (a *Aggregator) IncTask(tenantID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.get(tenantID).tasks++
}

// get assumes a.mu is held.
func (a *Aggregator) get(tenantID string) *counters {
	c, ok := a.byTenant[tenantID]
	if !ok {
		c = &counters{}
		a.byTenant[tenantID] = c
	}
	return c
}

// Flush merges the accumulated counters into the sink under today's date and
// clears them. A tenant whose merge fails keeps its counters for the next
// flush.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	pending := a.byTenant
	a.byTenant = make(map[string]*counters)
	a.mu.Unlock()

	day := a.now().Format("2006-01-02")
	var firstErr error
	for tenantID, c := range pending {
		if c.requests == 0 && c.tasks == 0 {
			continue
		}
		if err := a.sink.MergeStats(ctx, tenantID, day, c.requests, c.tasks); err != nil {
			a.logger.Error().Err(err).Str("tenant", tenantID).Msg("Failed to flush statistics")
			if firstErr == nil {
				firstErr = err
			}
			a.mu.Lock()
			kept := a.get(tenantID)
			kept.requests += c.requests
			kept.tasks += c.tasks
			a.mu.Unlock()
			continue
		}
		a.logger.Info().
			Str("tenant", tenantID).
			Str("day", day).
			Int64("requests", c.requests).
			Int64("tasks", c.tasks).
			Msg("Statistics flushed")
	}
	return firstErr
}

// Reset zeroes both the durable counters and the in-memory ones. Runs on
// the monthly schedule.
func (a *Aggregator) Reset(ctx context.Context) error {
	a.mu.Lock()
	a.byTenant = make(map[string]*counters)
	a.mu.Unlock()

	if err := a.sink.ResetStats(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to reset statistics")
		return err
	}
	a.logger.Info().Msg("Statistics reset")
	return nil
}
