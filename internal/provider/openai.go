package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// completionModel backs field extraction and fuzzy matching. Assistants use
// the per-tenant model instead.
const completionModel = openai.ChatModelGPT4oMini

// OpenAI implements Client on top of the OpenAI Assistants and Chat
// Completions APIs.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates a provider client for the given API key.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// NewOpenAIClient adapts NewOpenAI to the Factory signature.
func NewOpenAIClient(apiKey string) Client {
	return NewOpenAI(apiKey)
}

// CreateThread opens a new conversation thread.
func (p *OpenAI) CreateThread(ctx context.Context) (string, error) {
	thread, err := p.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("%w: create thread: %v", ErrProvider, err)
	}
	return thread.ID, nil
}

// PostMessage appends a user turn to the thread.
func (p *OpenAI) PostMessage(ctx context.Context, threadID, text string) error {
	_, err := p.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: post message: %v", ErrProvider, err)
	}
	return nil
}

// ActiveRun returns the latest run of the thread, RunNone when the thread
// has never run.
func (p *OpenAI) ActiveRun(ctx context.Context, threadID string) (string, RunState, error) {
	page, err := p.client.Beta.Threads.Runs.List(ctx, threadID, openai.BetaThreadRunListParams{
		Limit: openai.Int(1),
	})
	if err != nil {
		return "", RunNone, fmt.Errorf("%w: list runs: %v", ErrProvider, err)
	}
	if len(page.Data) == 0 {
		return "", RunNone, nil
	}
	run := page.Data[0]
	return run.ID, RunState(run.Status), nil
}

// StartRun starts an assistant run with the given sampling temperature.
func (p *OpenAI) StartRun(ctx context.Context, threadID, assistantID string, temperature float64) (string, error) {
	run, err := p.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("%w: start run: %v", ErrProvider, err)
	}
	return run.ID, nil
}

// RunState fetches the current state of a run.
func (p *OpenAI) RunState(ctx context.Context, threadID, runID string) (RunState, error) {
	run, err := p.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return RunNone, fmt.Errorf("%w: get run: %v", ErrProvider, err)
	}
	return RunState(run.Status), nil
}

// LatestReply returns the most recent assistant message of the thread.
func (p *OpenAI) LatestReply(ctx context.Context, threadID string) (string, error) {
	page, err := p.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Limit: openai.Int(1),
	})
	if err != nil {
		return "", fmt.Errorf("%w: list messages: %v", ErrProvider, err)
	}
	if len(page.Data) == 0 {
		return "", nil
	}
	return strings.TrimSpace(messageText(page.Data[0])), nil
}

// History returns the dialog history in chronological order.
func (p *OpenAI) History(ctx context.Context, threadID string) ([]Turn, error) {
	page, err := p.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrProvider, err)
	}

	turns := make([]Turn, 0, len(page.Data))
	for _, msg := range page.Data {
		role := RoleAssistant
		if msg.Role == "user" {
			role = RoleUser
		}
		turns = append(turns, Turn{Role: role, Content: messageText(msg)})
	}
	return turns, nil
}

// CreateAssistant provisions a named assistant.
func (p *OpenAI) CreateAssistant(ctx context.Context, name, instructions, model string) (string, error) {
	assistant, err := p.client.Beta.Assistants.New(ctx, openai.BetaAssistantNewParams{
		Name:         openai.String(name),
		Instructions: openai.String(instructions),
		Model:        model,
	})
	if err != nil {
		return "", fmt.Errorf("%w: create assistant: %v", ErrProvider, err)
	}
	return assistant.ID, nil
}

// Complete performs a one-shot chat completion.
func (p *OpenAI) Complete(ctx context.Context, turns []Turn, maxTokens int, temperature float64) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    completionModel,
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: completion: %v", ErrProvider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", ErrProvider)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// messageText flattens a thread message to its text content.
func messageText(msg openai.Message) string {
	var b strings.Builder
	for _, content := range msg.Content {
		if content.Type == "text" {
			b.WriteString(content.Text.Value)
		}
	}
	return b.String()
}
