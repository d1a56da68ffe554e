// Package webhook is the HTTP transport: it receives task events from the
// tracker, hands them to the orchestrator and serializes the resulting
// action back into the tracker's bot-response shape.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ncreasor/triago/internal/metrics"
	"github.com/ncreasor/triago/internal/orchestrator"
	"github.com/ncreasor/triago/internal/store"
	"github.com/ncreasor/triago/internal/tenant"
	"github.com/ncreasor/triago/internal/tracker"
)

// Tenants resolves a public tenant id to its security key and model.
type Tenants interface {
	TenantByID(ctx context.Context, tenantID string) (key, model string, err error)
}

// Handler processes one task event.
type Handler interface {
	Handle(ctx context.Context, task *tracker.Task, tenantID, tenantKey, model string) (orchestrator.Action, error)
}

// Counter records inbound events.
type Counter interface {
	IncRequest(tenantID string)
}

// ServerOptions configures the webhook server.
type ServerOptions struct {
	Host string
	Port int

	// Metrics, when set, is served on /metrics and fed per-event counters.
	Metrics *metrics.Metrics
	// SessionCount feeds the active-sessions gauge.
	SessionCount func() int
}

// Server is the webhook HTTP server.
type Server struct {
	options ServerOptions
	server  *http.Server
	tenants Tenants
	handler Handler
	stats   Counter
	logger  zerolog.Logger

	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a webhook server.
func NewServer(options ServerOptions, tenants Tenants, handler Handler, stats Counter, logger zerolog.Logger) *Server {
	if options.Port == 0 {
		options.Port = 8085
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	return &Server{
		options:   options,
		tenants:   tenants,
		handler:   handler,
		stats:     stats,
		logger:    logger.With().Str("component", "webhook").Logger(),
		startTime: time.Now(),
	}
}

// Start runs the server until Stop is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/webhook/", s.handleWebhook)
	if s.options.Metrics != nil {
		mux.Handle("/metrics", s.options.Metrics.Handler())
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: mux,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting webhook server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start webhook server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down webhook server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown webhook server: %w", err)
	}

	s.logger.Info().Msg("Webhook server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// event is the tracker webhook payload.
type event struct {
	Task *tracker.Task `json:"task"`
}

// channelRef addresses the reply channel in the bot response.
type channelRef struct {
	Type string `json:"type"`
}

// botResponse is the tracker's expected response shape. An empty object
// means "do nothing".
type botResponse struct {
	ApprovalChoice string                `json:"approval_choice,omitempty"`
	Text           string                `json:"text,omitempty"`
	Channel        *channelRef           `json:"channel,omitempty"`
	FieldUpdates   []tracker.FieldUpdate `json:"field_updates,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := strings.TrimPrefix(r.URL.Path, "/webhook/")
	if tenantID == "" || strings.Contains(tenantID, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown tenant"})
		return
	}

	requestID := uuid.NewString()
	log := s.logger.With().Str("request_id", requestID).Str("tenant", tenantID).Logger()

	key, model, err := s.tenants.TenantByID(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown tenant"})
			return
		}
		log.Error().Err(err).Msg("Tenant lookup failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Tenant store unavailable"})
		return
	}

	s.stats.IncRequest(tenantID)
	if m := s.options.Metrics; m != nil {
		m.EventsTotal.WithLabelValues(tenantID).Inc()
	}

	var ev event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Task == nil {
		log.Warn().Err(err).Msg("Malformed webhook payload")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Malformed payload"})
		return
	}

	started := time.Now()
	action, err := s.handler.Handle(r.Context(), ev.Task, tenantID, key, model)
	if err != nil {
		if errors.Is(err, tenant.ErrUnavailable) {
			log.Error().Err(err).Msg("Tenant configuration unavailable")
			s.countError(tenantID, "config_unavailable")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Configuration unavailable"})
			return
		}
		log.Error().Err(err).Msg("Event handling failed")
		s.countError(tenantID, "internal")
		writeJSON(w, http.StatusOK, botResponse{})
		return
	}

	if m := s.options.Metrics; m != nil {
		m.EventDuration.WithLabelValues(tenantID).Observe(time.Since(started).Seconds())
		if action.Text != "" {
			m.RepliesTotal.WithLabelValues(tenantID).Inc()
		}
		if action.Resolve {
			m.ResolutionsTotal.WithLabelValues(tenantID).Inc()
		}
		if s.options.SessionCount != nil {
			m.SessionsActive.Set(float64(s.options.SessionCount()))
		}
	}

	log.Info().
		Int64("task", ev.Task.ID).
		Bool("resolve", action.Resolve).
		Bool("reply", action.Text != "").
		Dur("took", time.Since(started)).
		Msg("Event handled")

	writeJSON(w, http.StatusOK, toBotResponse(action))
}

func (s *Server) countError(tenantID, errorType string) {
	if m := s.options.Metrics; m != nil {
		m.EventErrorsTotal.WithLabelValues(tenantID, errorType).Inc()
	}
}

// toBotResponse maps an orchestrator action onto the tracker wire shape.
func toBotResponse(action orchestrator.Action) botResponse {
	resp := botResponse{
		Text:         action.Text,
		FieldUpdates: action.Updates,
	}
	if action.Resolve {
		resp.ApprovalChoice = "approved"
	}
	if action.Text != "" && action.Channel != "" {
		resp.Channel = &channelRef{Type: action.Channel}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
