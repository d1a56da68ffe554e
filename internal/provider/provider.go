// Package provider defines the narrow interfaces the engine needs from the
// hosted LLM platform: thread conversations, assistant provisioning and
// plain completions. The openai adapter is the only production
// implementation; tests use fakes.
package provider

import (
	"context"
	"errors"
)

// ErrProvider signals a transport-level provider failure.
var ErrProvider = errors.New("provider error")

// RunState is the lifecycle state of a provider-side run.
type RunState string

const (
	RunQueued     RunState = "queued"
	RunInProgress RunState = "in_progress"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
	RunCancelled  RunState = "cancelled"
	RunExpired    RunState = "expired"
	RunNone       RunState = ""
)

// Active reports whether the run is still executing.
func (s RunState) Active() bool {
	return s == RunQueued || s == RunInProgress
}

// Turn is one message of a thread's dialog history.
type Turn struct {
	Role    string
	Content string
}

// Message roles used across the engine.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation drives thread-scoped assistant exchanges.
type Conversation interface {
	// CreateThread opens a new conversation thread and returns its handle.
	CreateThread(ctx context.Context) (string, error)
	// PostMessage appends a user turn to the thread.
	PostMessage(ctx context.Context, threadID, text string) error
	// ActiveRun returns the latest run on the thread, RunNone if there is none.
	ActiveRun(ctx context.Context, threadID string) (runID string, state RunState, err error)
	// StartRun starts an assistant run with the given sampling temperature.
	StartRun(ctx context.Context, threadID, assistantID string, temperature float64) (runID string, err error)
	// RunState fetches the current state of a run.
	RunState(ctx context.Context, threadID, runID string) (RunState, error)
	// LatestReply returns the most recent assistant message of the thread.
	LatestReply(ctx context.Context, threadID string) (string, error)
	// History returns the full dialog history in chronological order.
	History(ctx context.Context, threadID string) ([]Turn, error)
}

// Provisioner creates named assistants.
type Provisioner interface {
	CreateAssistant(ctx context.Context, name, instructions, model string) (string, error)
}

// Completer performs one-shot completions outside any thread.
type Completer interface {
	Complete(ctx context.Context, turns []Turn, maxTokens int, temperature float64) (string, error)
}

// Client bundles everything the engine consumes from the provider.
type Client interface {
	Conversation
	Provisioner
	Completer
}

// Factory builds a provider client for a tenant's API credential.
type Factory func(apiKey string) Client
