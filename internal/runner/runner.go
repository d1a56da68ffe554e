// Package runner executes assistant runs against conversation threads,
// serializing runs per thread and applying the language-ratio retry policy.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ncreasor/triago/internal/provider"
)

// ErrRunFailed signals that a run did not reach a successful terminal state
// in time.
var ErrRunFailed = errors.New("run failed")

// Executor drives one ask-and-wait exchange on a thread.
type Executor struct {
	pollInterval  time.Duration
	runTimeout    time.Duration
	maxRetries    int
	latinRatioMax float64
	logger        zerolog.Logger
}

// NewExecutor creates a run executor. pollInterval is the fixed status-poll
// cadence, runTimeout bounds each wait, maxRetries caps language-ratio
// retries, latinRatioMax is the ASCII-alpha fraction above which a reply is
// considered mostly-foreign and re-asked.
func NewExecutor(pollInterval, runTimeout time.Duration, maxRetries int, latinRatioMax float64, logger zerolog.Logger) *Executor {
	return &Executor{
		pollInterval:  pollInterval,
		runTimeout:    runTimeout,
		maxRetries:    maxRetries,
		latinRatioMax: latinRatioMax,
		logger:        logger.With().Str("component", "runner").Logger(),
	}
}

// Ask posts the prompt into the thread, runs the assistant and returns the
// reply text. An already-active run on the thread is awaited first, so two
// interleaved asks for the same task never overlap. A mostly-Latin reply is
// re-asked up to maxRetries times; each retry posts the prompt as a fresh
// turn, mirroring the retry semantics the reply templates were tuned
// against. Non-success terminal states yield an empty reply and no error.
func (e *Executor) Ask(ctx context.Context, conv provider.Conversation, threadID, assistantID, prompt string, temperature float64) (string, error) {
	if err := e.awaitIdleThread(ctx, conv, threadID); err != nil {
		return "", err
	}

	for attempt := 0; ; attempt++ {
		if err := conv.PostMessage(ctx, threadID, prompt); err != nil {
			return "", err
		}

		runID, err := conv.StartRun(ctx, threadID, assistantID, temperature)
		if err != nil {
			return "", err
		}

		state, err := e.awaitTerminal(ctx, conv, threadID, runID)
		if err != nil {
			return "", err
		}
		if state != provider.RunCompleted {
			e.logger.Warn().
				Str("thread", threadID).
				Str("run", runID).
				Str("state", string(state)).
				Msg("Run ended without completion")
			return "", nil
		}

		reply, err := conv.LatestReply(ctx, threadID)
		if err != nil {
			return "", err
		}

		if ratio := latinRatio(reply); ratio > e.latinRatioMax && attempt < e.maxRetries {
			e.logger.Info().
				Str("thread", threadID).
				Float64("ratio", ratio).
				Int("attempt", attempt+1).
				Msg("Reply is mostly Latin, re-asking")
			continue
		}
		return reply, nil
	}
}

// awaitIdleThread waits until no run is active on the thread.
func (e *Executor) awaitIdleThread(ctx context.Context, conv provider.Conversation, threadID string) error {
	runID, state, err := conv.ActiveRun(ctx, threadID)
	if err != nil {
		return err
	}
	if !state.Active() {
		return nil
	}

	e.logger.Debug().
		Str("thread", threadID).
		Str("run", runID).
		Msg("Waiting for active run to finish")

	_, err = e.poll(ctx, func() (provider.RunState, error) {
		return conv.RunState(ctx, threadID, runID)
	})
	return err
}

// awaitTerminal polls a run until it leaves the active states.
func (e *Executor) awaitTerminal(ctx context.Context, conv provider.Conversation, threadID, runID string) (provider.RunState, error) {
	return e.poll(ctx, func() (provider.RunState, error) {
		return conv.RunState(ctx, threadID, runID)
	})
}

// poll repeatedly fetches a run state at the fixed interval until it is no
// longer active, the timeout elapses or the context is done.
func (e *Executor) poll(ctx context.Context, fetch func() (provider.RunState, error)) (provider.RunState, error) {
	deadline := time.NewTimer(e.runTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		state, err := fetch()
		if err != nil {
			return provider.RunNone, err
		}
		if !state.Active() {
			return state, nil
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return provider.RunNone, fmt.Errorf("%w: no terminal state within %s", ErrRunFailed, e.runTimeout)
		case <-ctx.Done():
			return provider.RunNone, fmt.Errorf("%w: %v", ErrRunFailed, ctx.Err())
		}
	}
}

// latinRatio is the fraction of characters that are ASCII letters.
func latinRatio(s string) float64 {
	if s == "" {
		return 0
	}
	total, latin := 0, 0
	for _, r := range s {
		total++
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			latin++
		}
	}
	return float64(latin) / float64(total)
}
