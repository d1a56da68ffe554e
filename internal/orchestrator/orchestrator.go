// Package orchestrator triages inbound task events and drives the assistant
// conversation that answers them. Every event ends in exactly one outbound
// action; recoverable failures end in silence, never in a transport error.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ncreasor/triago/internal/attach"
	"github.com/ncreasor/triago/internal/config"
	"github.com/ncreasor/triago/internal/ledger"
	"github.com/ncreasor/triago/internal/metrics"
	"github.com/ncreasor/triago/internal/ofd"
	"github.com/ncreasor/triago/internal/provider"
	"github.com/ncreasor/triago/internal/session"
	"github.com/ncreasor/triago/internal/tenant"
	"github.com/ncreasor/triago/internal/tracker"
)

// designatedChannel is the single channel honored when multi-channel
// delivery is disabled.
const designatedChannel = "telegram"

// Action is the outbound result of one inbound event. The zero value means
// no reply and no resolution.
type Action struct {
	Text    string
	Channel string
	Resolve bool
	Updates []tracker.FieldUpdate
}

// IsNoOp reports whether the action carries nothing to send.
func (a Action) IsNoOp() bool {
	return a.Text == "" && !a.Resolve
}

// Asker runs one prompt exchange on a thread.
type Asker interface {
	Ask(ctx context.Context, conv provider.Conversation, threadID, assistantID, prompt string, temperature float64) (string, error)
}

// Provisioner resolves the assistant handle for a tenant flavor.
type Provisioner interface {
	GetOrCreate(ctx context.Context, prov provider.Provisioner, tenantID string, flavor tenant.Flavor, template, model string) (string, error)
}

// Extractor produces field updates from a finished dialog.
type Extractor interface {
	Extract(ctx context.Context, client provider.Client, cfg *tenant.Config, tenantKey, threadID string, task *tracker.Task) []tracker.FieldUpdate
}

// Counter records auto-resolutions.
type Counter interface {
	IncTask(tenantID string)
}

// Orchestrator owns the triage and conversation pipeline.
type Orchestrator struct {
	cache       *tenant.Cache
	sessions    *session.Store
	ledger      *ledger.Ledger
	gate        *ofd.Gate
	assistants  Provisioner
	runner      Asker
	extractor   Extractor
	attachments attach.Extractor
	stats       Counter
	clients     provider.Factory
	routing     config.RoutingConfig
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      zerolog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Cache       *tenant.Cache
	Sessions    *session.Store
	Ledger      *ledger.Ledger
	Gate        *ofd.Gate
	Assistants  Provisioner
	Runner      Asker
	Extractor   Extractor
	Attachments attach.Extractor
	Stats       Counter
	Clients     provider.Factory
	Routing     config.RoutingConfig

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// New creates an orchestrator from its collaborators.
func New(deps Deps, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cache:       deps.Cache,
		sessions:    deps.Sessions,
		ledger:      deps.Ledger,
		gate:        deps.Gate,
		assistants:  deps.Assistants,
		runner:      deps.Runner,
		extractor:   deps.Extractor,
		attachments: deps.Attachments,
		stats:       deps.Stats,
		clients:     deps.Clients,
		routing:     deps.Routing,
		metrics:     deps.Metrics,
		now:         time.Now,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Handle processes one inbound task event for a tenant. The returned error
// is non-nil only when the tenant configuration cannot be loaded; every
// other failure degrades to a no-op action.
func (o *Orchestrator) Handle(ctx context.Context, task *tracker.Task, tenantID, tenantKey, model string) (Action, error) {
	cfg, err := o.cache.Get(ctx, tenantKey)
	if err != nil {
		return Action{}, err
	}

	log := o.logger.With().Str("tenant", tenantID).Int64("task", task.ID).Logger()

	if o.gate.Eligible(cfg, task.ID, o.now()) {
		return o.handleGate(ctx, log, cfg, task, tenantID, tenantKey), nil
	}
	return o.handleConversation(ctx, log, cfg, task, tenantID, tenantKey, model), nil
}

// triageVerdict is the outcome of the shared pre-conversation checks.
type triageVerdict int

const (
	triageProceed triageVerdict = iota
	triageSkip
	triageResolve
)

// triage applies the checks shared by the gate and conversation paths:
// closed or already-resolved tasks are skipped, the custom channel and
// staff authors and stop words resolve immediately, and the reply channel
// is settled.
func (o *Orchestrator) triage(log zerolog.Logger, cfg *tenant.Config, task *tracker.Task) (string, triageVerdict) {
	if task.IsClosed || o.ledger.IsResolved(task.ID) {
		return "", triageSkip
	}

	comment := task.LastComment()
	if comment == nil {
		log.Warn().Msg("Task event without comments")
		return "", triageSkip
	}

	channelType := comment.Channel.Type
	if channelType == "custom" {
		return "", triageResolve
	}

	var channel string
	switch {
	case cfg.Features.MultiChannelEnabled:
		channel = channelType
	case channelType == designatedChannel:
		channel = designatedChannel
	}
	if channel == "" {
		return "", triageSkip
	}

	if o.containsStopWord(cfg, task) {
		log.Info().Msg("Stop word matched, auto-resolving")
		return channel, triageResolve
	}

	if comment.Author.IsStaff() {
		log.Info().Msg("Staff comment, auto-resolving")
		return channel, triageResolve
	}

	return channel, triageProceed
}

// containsStopWord matches the configured stop words against the whole
// serialized task, not just the latest comment.
func (o *Orchestrator) containsStopWord(cfg *tenant.Config, task *tracker.Task) bool {
	words := cfg.Behavior.StopWordList()
	if len(words) == 0 {
		return false
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return false
	}
	haystack := strings.ToLower(string(raw))
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}

// handleGate routes the event through the day-gated yes/no flow. Any
// attachment bypasses the gate straight to resolution.
func (o *Orchestrator) handleGate(ctx context.Context, log zerolog.Logger, cfg *tenant.Config, task *tracker.Task, tenantID, tenantKey string) Action {
	channel, verdict := o.triage(log, cfg, task)
	switch verdict {
	case triageSkip:
		return Action{}
	case triageResolve:
		return o.autoResolve(ctx, log, cfg, task, tenantID, tenantKey)
	}

	if len(task.Attachments) > 0 {
		return o.autoResolve(ctx, log, cfg, task, tenantID, tenantKey)
	}

	reply := o.gate.Step(cfg, task.ID, task.LastComment().Text)
	action := Action{Text: reply.Text, Channel: channel}
	if reply.Resolve {
		action.Resolve = true
		o.ledger.MarkResolved(task.ID)
		o.stats.IncTask(tenantID)
	}
	return action
}

// handleConversation is the main assistant flow.
func (o *Orchestrator) handleConversation(ctx context.Context, log zerolog.Logger, cfg *tenant.Config, task *tracker.Task, tenantID, tenantKey, model string) Action {
	channel, verdict := o.triage(log, cfg, task)
	switch verdict {
	case triageSkip:
		return Action{}
	case triageResolve:
		return o.autoResolve(ctx, log, cfg, task, tenantID, tenantKey)
	}

	text := task.LastComment().Text

	attachText := ""
	if len(task.Attachments) > 0 {
		if !cfg.Features.AttachmentsEnabled {
			return o.autoResolve(ctx, log, cfg, task, tenantID, tenantKey)
		}
		attachText = o.extractAttachment(ctx, log, task)
	}

	if text == "" && attachText == "" {
		return o.autoResolve(ctx, log, cfg, task, tenantID, tenantKey)
	}
	prompt := strings.TrimSpace(attachText + "\n" + text)

	flavor := tenant.FlavorMain
	template := cfg.SystemTemplate
	if formID, ok := o.routing.Integrations[tenantID]; ok && formID != 0 && formID == task.FormID {
		flavor = tenant.FlavorIntegrations
		template = o.routing.IntegrationsTemplate
	}

	client := o.clients(cfg.ProviderKey)

	threadID, ok := o.sessions.Thread(task.ID)
	if !ok {
		created, err := client.CreateThread(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create thread")
			return Action{}
		}
		o.sessions.Bind(task.ID, created)
		threadID = created
		if o.metrics != nil {
			o.metrics.ThreadsTotal.Inc()
		}
	}

	assistantID, err := o.assistants.GetOrCreate(ctx, client, tenantID, flavor, template, model)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve assistant")
		return Action{}
	}

	reply, err := o.runner.Ask(ctx, client, threadID, assistantID, prompt, cfg.Behavior.Temperature)
	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return Action{}
	}
	if reply == "" {
		return Action{}
	}

	action := Action{Text: reply, Channel: channel}
	if !cfg.Behavior.WorkingAt(o.now()) {
		action.Text += "\n\n" + cfg.Behavior.OffHoursMessage
	}
	if flavor == tenant.FlavorMain && cfg.Features.EmergencyEnabled {
		action.Text += "\n\n" + cfg.Features.EmergencyTemplate
	}

	if o.containsBotStopWord(cfg, reply) {
		action.Resolve = true
		if flavor == tenant.FlavorMain && cfg.Form.Enabled {
			action.Updates = o.extractUpdates(ctx, client, cfg, tenantID, tenantKey, threadID, task)
		}
		o.sessions.Drop(task.ID)
		o.ledger.MarkResolved(task.ID)
		o.stats.IncTask(tenantID)
		log.Info().Msg("Conversation resolved by bot stop word")
	}
	return action
}

// extractUpdates invokes the extraction engine and counts the run.
func (o *Orchestrator) extractUpdates(ctx context.Context, client provider.Client, cfg *tenant.Config, tenantID, tenantKey, threadID string, task *tracker.Task) []tracker.FieldUpdate {
	if o.metrics != nil {
		o.metrics.ExtractionsTotal.WithLabelValues(tenantID).Inc()
	}
	return o.extractor.Extract(ctx, client, cfg, tenantKey, threadID, task)
}

// containsBotStopWord matches the configured bot stop words against the
// assistant's reply.
func (o *Orchestrator) containsBotStopWord(cfg *tenant.Config, reply string) bool {
	low := strings.ToLower(reply)
	for _, w := range cfg.Behavior.BotStopWordList() {
		if strings.Contains(low, w) {
			return true
		}
	}
	return false
}

// extractAttachment runs the external text extraction for the latest
// attachment, at most once per URL across all events.
func (o *Orchestrator) extractAttachment(ctx context.Context, log zerolog.Logger, task *tracker.Task) string {
	att := task.LastAttachment()
	if att == nil || att.URL == "" || o.ledger.IsProcessed(att.URL) {
		return ""
	}
	o.ledger.MarkProcessed(att.URL)

	text, err := o.attachments.ExtractText(ctx, att.URL, att.Name)
	if err != nil {
		log.Warn().Err(err).Str("url", att.URL).Msg("Attachment extraction failed")
		return ""
	}
	return text
}

// autoResolve closes out the task without a reply: field updates are
// attached when a dialog exists and extraction is enabled, the session is
// dropped and the task is recorded as resolved.
func (o *Orchestrator) autoResolve(ctx context.Context, log zerolog.Logger, cfg *tenant.Config, task *tracker.Task, tenantID, tenantKey string) Action {
	action := Action{Resolve: true}

	if threadID, ok := o.sessions.Thread(task.ID); ok && cfg.Form.Enabled {
		client := o.clients(cfg.ProviderKey)
		action.Updates = o.extractUpdates(ctx, client, cfg, tenantID, tenantKey, threadID, task)
	}

	o.sessions.Drop(task.ID)
	o.ledger.MarkResolved(task.ID)
	o.stats.IncTask(tenantID)
	log.Info().Msg("Task auto-resolved")
	return action
}
