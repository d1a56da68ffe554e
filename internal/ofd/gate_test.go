package ofd

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ncreasor/triago/internal/tenant"
)

func gateConfig(day int) *tenant.Config {
	return &tenant.Config{
		OFD: tenant.OFDConfig{
			Enabled:  true,
			Day:      day,
			Greeting: "Здравствуйте! Вы уже перешли на нового оператора фискальных данных?",
			Template: "Спасибо за подтверждение, обращение закрыто.",
		},
	}
}

func dayOf(day int) time.Time {
	return time.Date(2025, time.March, day, 12, 0, 0, 0, time.UTC)
}

func TestGate_Eligible(t *testing.T) {
	g := NewGate(zerolog.Nop())
	cfg := gateConfig(15)

	assert.True(t, g.Eligible(cfg, 42, dayOf(15)))
	assert.False(t, g.Eligible(cfg, 42, dayOf(16)), "wrong day")

	disabled := gateConfig(15)
	disabled.OFD.Enabled = false
	assert.False(t, g.Eligible(disabled, 42, dayOf(15)))

	zeroDay := gateConfig(0)
	assert.False(t, g.Eligible(zeroDay, 42, dayOf(15)))
}

func TestGate_GreetingThenAffirmative(t *testing.T) {
	g := NewGate(zerolog.Nop())
	cfg := gateConfig(15)

	first := g.Step(cfg, 42, "не работает касса")
	assert.Equal(t, cfg.OFD.Greeting, first.Text)
	assert.False(t, first.Resolve)

	second := g.Step(cfg, 42, "Да")
	assert.Equal(t, cfg.OFD.Template, second.Text)
	assert.True(t, second.Resolve)

	// Answered is terminal for the trigger day.
	assert.False(t, g.Eligible(cfg, 42, dayOf(15)))
}

func TestGate_NegativeAsksForDetails(t *testing.T) {
	g := NewGate(zerolog.Nop())
	cfg := gateConfig(15)

	g.Step(cfg, 7, "привет")
	reply := g.Step(cfg, 7, "нет")
	assert.Equal(t, clarifyPrompt, reply.Text)
	assert.False(t, reply.Resolve)
	assert.False(t, g.Eligible(cfg, 7, dayOf(15)))
}

func TestGate_UnrecognizedRepromptsWithoutAdvancing(t *testing.T) {
	g := NewGate(zerolog.Nop())
	cfg := gateConfig(15)

	g.Step(cfg, 9, "привет")
	reply := g.Step(cfg, 9, "возможно")
	assert.Equal(t, yesNoPrompt, reply.Text)
	assert.False(t, reply.Resolve)

	// The task keeps awaiting an answer.
	assert.True(t, g.Eligible(cfg, 9, dayOf(15)))

	reply = g.Step(cfg, 9, "конечно")
	assert.True(t, reply.Resolve)
}

func TestGate_TasksAreIndependent(t *testing.T) {
	g := NewGate(zerolog.Nop())
	cfg := gateConfig(15)

	g.Step(cfg, 1, "привет")
	first := g.Step(cfg, 2, "да")
	assert.Equal(t, cfg.OFD.Greeting, first.Text, "task 2 gets its own greeting")

	resolved := g.Step(cfg, 1, "да")
	assert.True(t, resolved.Resolve)
}
