package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ncreasor/triago/internal/provider"
	"github.com/ncreasor/triago/internal/tenant"
	"github.com/ncreasor/triago/internal/tracker"
)

const matchSystemPrompt = "Твоя задача - проанализировать входящее значение и найти наиболее похожее в предоставленном списке. " +
	"Верни ТОЛЬКО числовой ID найденного элемента. " +
	"Если подходящих элементов нет или их несколько — верни '-'"

// noMatch is what the matcher returns for an absent or ambiguous match.
const noMatch = "-"

const (
	matchMaxTokens   = 40
	matchTemperature = 0.2
)

// fuzzyMatch asks the completion model to pick the list entry closest to
// the keyword. The second return is false for the no-match sentinel or a
// failed call.
func (e *Engine) fuzzyMatch(ctx context.Context, client provider.Completer, keyword, list string) (string, bool) {
	turns := []provider.Turn{
		{Role: provider.RoleSystem, Content: matchSystemPrompt},
		{Role: provider.RoleUser, Content: fmt.Sprintf("Искомое значение: %s\n\nСписок элементов:\n%s", keyword, list)},
	}

	reply, err := client.Complete(ctx, turns, matchMaxTokens, matchTemperature)
	if err != nil {
		e.logger.Error().Err(err).Str("keyword", keyword).Msg("Fuzzy match completion failed")
		return "", false
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || reply == noMatch {
		return "", false
	}
	return reply, true
}

// catalogRows flattens catalog items to "id: name" lines. The configured
// column indexes are 1-based; rows with a blank name are dropped, and when
// a filter column is configured only rows whose filter value is listed in
// the filter words survive.
func catalogRows(catalog *tracker.Catalog, cfg tenant.CatalogConfig) string {
	nameCol := cfg.NameColumn - 1

	var filterWords []string
	filterCol := -1
	if cfg.FilterColumn > 0 && strings.TrimSpace(cfg.FilterWords) != "" {
		filterCol = cfg.FilterColumn - 1
		for _, w := range strings.Split(cfg.FilterWords, ",") {
			filterWords = append(filterWords, strings.TrimSpace(w))
		}
	}

	var b strings.Builder
	for _, item := range catalog.Items {
		if nameCol < 0 || nameCol >= len(item.Values) {
			continue
		}
		name := item.Values[nameCol]
		if strings.TrimSpace(name) == "" {
			continue
		}
		if filterCol >= 0 {
			if filterCol >= len(item.Values) || !contains(filterWords, item.Values[filterCol]) {
				continue
			}
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d: %s", item.ItemID, name)
	}
	return b.String()
}

func contains(words []string, w string) bool {
	for _, cand := range words {
		if cand == w {
			return true
		}
	}
	return false
}
