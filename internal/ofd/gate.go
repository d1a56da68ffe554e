// Package ofd implements the day-gated fiscal-switch confirmation flow: on
// the tenant's trigger day the bot greets once per task, then classifies the
// customer's yes/no answer and either resolves the task with the tenant's
// template or asks for details.
package ofd

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ncreasor/triago/internal/tenant"
)

const (
	clarifyPrompt = "Уточните название заведения и ваш вопрос"
	yesNoPrompt   = "Ответьте да или нет"
)

var positiveAnswers = map[string]bool{
	"да": true, "конечно": true, "ага": true, "угу": true,
	"разумеется": true, "согласен": true, "похож": true, "1": true,
}

var negativeAnswers = map[string]bool{
	"нет": true, "неа": true, "никак": true, "ни в коем случае": true,
	"отказываюсь": true, "несогласен": true, "2": true,
}

// Reply is one gate response.
type Reply struct {
	Text    string
	Resolve bool
}

// Gate tracks per-task confirmation state. A task passes through at most
// three states: not greeted, awaiting an answer, answered (terminal).
type Gate struct {
	logger zerolog.Logger

	mu       sync.Mutex
	greeted  map[int64]bool
	answered map[int64]bool
}

// NewGate creates an empty gate.
func NewGate(logger zerolog.Logger) *Gate {
	return &Gate{
		logger:   logger.With().Str("component", "ofd_gate").Logger(),
		greeted:  make(map[int64]bool),
		answered: make(map[int64]bool),
	}
}

// Eligible reports whether the task should be routed through the gate: the
// tenant's gate is enabled, today is the trigger day and the task has not
// answered yet.
func (g *Gate) Eligible(cfg *tenant.Config, taskID int64, now time.Time) bool {
	if !cfg.OFD.Enabled || cfg.OFD.Day == 0 || now.Day() != cfg.OFD.Day {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.answered[taskID]
}

// Step advances the task's state with the latest comment text and returns
// the outbound reply. First contact emits the greeting; after that an
// affirmative answer emits the resolution template with Resolve set, a
// negative answer asks for details, anything else re-prompts for yes/no.
func (g *Gate) Step(cfg *tenant.Config, taskID int64, text string) Reply {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.greeted[taskID] {
		g.greeted[taskID] = true
		g.logger.Debug().Int64("task", taskID).Msg("Gate greeting sent")
		return Reply{Text: cfg.OFD.Greeting}
	}

	low := strings.ToLower(strings.TrimSpace(text))
	switch {
	case positiveAnswers[low]:
		g.answered[taskID] = true
		g.logger.Info().Int64("task", taskID).Msg("Gate answered affirmatively")
		return Reply{Text: cfg.OFD.Template, Resolve: true}
	case negativeAnswers[low]:
		g.answered[taskID] = true
		g.logger.Info().Int64("task", taskID).Msg("Gate answered negatively")
		return Reply{Text: clarifyPrompt}
	default:
		return Reply{Text: yesNoPrompt}
	}
}
