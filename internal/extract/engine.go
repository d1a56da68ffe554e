// Package extract turns a finished support dialog into structured field
// updates: a low-temperature completion over the dialog history produces
// quoted values that are coerced per the tenant's typed field descriptors,
// optionally followed by a catalog or card lookup for the first value.
package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ncreasor/triago/internal/provider"
	"github.com/ncreasor/triago/internal/tenant"
	"github.com/ncreasor/triago/internal/tracker"
)

const historyPlaceholder = "Нет истории диалога"

const (
	extractMaxTokens   = 80
	extractTemperature = 0.1
)

var quoted = regexp.MustCompile(`"(.*?)"`)

// Engine extracts field updates from a task's dialog.
type Engine struct {
	tracker *tracker.Client
	logger  zerolog.Logger
}

// NewEngine creates an extraction engine backed by the tracker connector.
func NewEngine(trk *tracker.Client, logger zerolog.Logger) *Engine {
	return &Engine{
		tracker: trk,
		logger:  logger.With().Str("component", "extract").Logger(),
	}
}

// Extract runs the tenant's extraction prompt over the thread's dialog
// history and returns the coerced field updates, extended with a catalog or
// card binding when the tenant configures one. Every failure degrades to
// whatever was collected so far; a broken extraction never blocks the
// resolution it accompanies.
func (e *Engine) Extract(ctx context.Context, client provider.Client, cfg *tenant.Config, tenantKey, threadID string, task *tracker.Task) []tracker.FieldUpdate {
	turns := e.dialogTurns(ctx, client, cfg, threadID)

	raw, err := client.Complete(ctx, turns, extractMaxTokens, extractTemperature)
	if err != nil {
		e.logger.Error().Err(err).Int64("task", task.ID).Msg("Extraction completion failed")
		return nil
	}

	values := quotedValues(raw)
	updates := coerceFields(cfg.Form.Fields, values)

	if cfg.Form.Mode == tenant.LookupNone || len(values) == 0 {
		return updates
	}
	keyword := strings.TrimSpace(values[0])
	if keyword == "" {
		return updates
	}

	switch cfg.Form.Mode {
	case tenant.LookupForm:
		updates = append(updates, e.catalogLookup(ctx, client, cfg, tenantKey, keyword)...)
	case tenant.LookupCard:
		updates = append(updates, e.cardLookup(ctx, client, cfg, tenantKey, keyword, task)...)
	}
	return updates
}

// dialogTurns reconstructs the extraction conversation: the tenant prompt
// as the system turn followed by the full thread history, or a single
// placeholder turn when the task never had a thread.
func (e *Engine) dialogTurns(ctx context.Context, client provider.Client, cfg *tenant.Config, threadID string) []provider.Turn {
	turns := []provider.Turn{{Role: provider.RoleSystem, Content: cfg.Form.Template}}

	if threadID != "" {
		history, err := client.History(ctx, threadID)
		if err != nil {
			e.logger.Warn().Err(err).Str("thread", threadID).Msg("Failed to fetch dialog history")
		} else if len(history) > 0 {
			return append(turns, history...)
		}
	}
	return append(turns, provider.Turn{Role: provider.RoleUser, Content: historyPlaceholder})
}

// catalogLookup resolves the keyword against the tenant's catalog and binds
// the matched item to the configured dictionary field.
func (e *Engine) catalogLookup(ctx context.Context, client provider.Completer, cfg *tenant.Config, tenantKey, keyword string) []tracker.FieldUpdate {
	token, err := e.tracker.Auth(ctx, cfg.Behavior.BotLogin, tenantKey)
	if err != nil {
		e.logger.Error().Err(err).Msg("Tracker auth failed for catalog lookup")
		return nil
	}

	catalog, err := e.tracker.Catalog(ctx, token, cfg.Catalog.DictionaryID)
	if err != nil {
		e.logger.Error().Err(err).Int64("catalog", cfg.Catalog.DictionaryID).Msg("Catalog fetch failed")
		return nil
	}

	rows := catalogRows(catalog, cfg.Catalog)
	id, ok := e.fuzzyMatch(ctx, client, keyword, rows)
	if !ok {
		return nil
	}

	itemID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		e.logger.Warn().Str("match", id).Msg("Catalog match is not a numeric id")
		return nil
	}
	e.logger.Info().Int64("item", itemID).Str("keyword", keyword).Msg("Catalog item matched")
	return []tracker.FieldUpdate{{ID: cfg.Catalog.DictFieldID, Value: tracker.CatalogRef{ItemID: itemID}}}
}

// cardLookup resolves the keyword against the pre-built registry string,
// binds the matched card and optionally propagates its fields into the
// current task's linked group.
func (e *Engine) cardLookup(ctx context.Context, client provider.Completer, cfg *tenant.Config, tenantKey, keyword string, task *tracker.Task) []tracker.FieldUpdate {
	if strings.TrimSpace(cfg.Registry) == "" {
		return nil
	}

	id, ok := e.fuzzyMatch(ctx, client, keyword, cfg.Registry)
	if !ok {
		return nil
	}
	cardID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		e.logger.Warn().Str("match", id).Msg("Card match is not a numeric id")
		return nil
	}
	e.logger.Info().Int64("card", cardID).Str("keyword", keyword).Msg("Card matched")

	updates := []tracker.FieldUpdate{{ID: cfg.Card.CardFieldID, Value: tracker.CardRef{TaskID: cardID}}}
	if cfg.Card.GroupID == 0 {
		return updates
	}

	token, err := e.tracker.Auth(ctx, cfg.Behavior.BotLogin, tenantKey)
	if err != nil {
		e.logger.Error().Err(err).Msg("Tracker auth failed for group propagation")
		return updates
	}
	cardFields, err := e.tracker.TaskFields(ctx, token, cardID)
	if err != nil {
		e.logger.Error().Err(err).Int64("card", cardID).Msg("Card fields fetch failed")
		return updates
	}
	return append(updates, propagateGroup(cfg.Card.GroupID, cardFields, task.Fields)...)
}

// propagateGroup maps same-named card fields into the task's grouped field.
func propagateGroup(groupID int64, cardFields, taskFields []tracker.Field) []tracker.FieldUpdate {
	var group *tracker.GroupValue
	for _, f := range taskFields {
		if f.ID == groupID {
			var gv tracker.GroupValue
			if err := jsonUnmarshal(f.Value, &gv); err == nil {
				group = &gv
			}
			break
		}
	}
	if group == nil {
		return nil
	}

	targets := make(map[string]int64, len(group.Fields))
	for _, f := range group.Fields {
		targets[f.Name] = f.ID
	}

	var updates []tracker.FieldUpdate
	for _, src := range cardFields {
		targetID, ok := targets[src.Name]
		if !ok || emptyValue(src.Value) {
			continue
		}
		if src.Type == "catalog" {
			var cv tracker.CatalogValue
			if err := jsonUnmarshal(src.Value, &cv); err != nil || cv.ItemID == 0 {
				continue
			}
			updates = append(updates, tracker.FieldUpdate{ID: targetID, Value: tracker.CatalogRef{ItemID: cv.ItemID}})
			continue
		}
		updates = append(updates, tracker.FieldUpdate{ID: targetID, Value: src.Value})
	}
	return updates
}

// quotedValues returns every double-quoted substring of the completion.
func quotedValues(raw string) []string {
	matches := quoted.FindAllStringSubmatch(raw, -1)
	values := make([]string, 0, len(matches))
	for _, m := range matches {
		values = append(values, m[1])
	}
	return values
}
