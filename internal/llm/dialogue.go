package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nikhilbhutani/voicebridge/internal/conversation"
)

// DialogueError reports that the reply service was unreachable or declined.
type DialogueError struct {
	Provider string
	Err      error
}

func (e *DialogueError) Error() string {
	return fmt.Sprintf("dialogue via %s: %v", e.Provider, e.Err)
}

func (e *DialogueError) Unwrap() error { return e.Err }

// Dialogue generates the assistant's next reply from a conversation.
type Dialogue struct {
	provider    Provider
	model       string
	maxTokens   int
	temperature float64
}

type DialogueOption func(*Dialogue)

func WithMaxTokens(n int) DialogueOption {
	return func(d *Dialogue) { d.maxTokens = n }
}

func WithTemperature(t float64) DialogueOption {
	return func(d *Dialogue) { d.temperature = t }
}

func NewDialogue(provider Provider, model string, opts ...DialogueOption) *Dialogue {
	d := &Dialogue{provider: provider, model: model}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialogue) Name() string { return d.provider.Name() + "/" + d.model }

// Reply sends the whole history, in order, and returns the first choice's
// text. The history is not modified. A response with no content yields "".
func (d *Dialogue) Reply(ctx context.Context, history *conversation.History) (string, error) {
	turns := history.Turns()
	msgs := make([]Message, len(turns))
	for i, t := range turns {
		msgs[i] = Message{Role: string(t.Role), Content: t.Content}
	}

	resp, err := d.provider.ChatCompletion(ctx, ChatRequest{
		Model:       d.model,
		Messages:    msgs,
		Temperature: d.temperature,
		MaxTokens:   d.maxTokens,
	})
	if err != nil {
		return "", &DialogueError{Provider: d.provider.Name(), Err: err}
	}

	slog.Debug("dialogue reply",
		"provider", resp.Provider,
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"latency_ms", resp.LatencyMs,
	)

	return resp.Content, nil
}
