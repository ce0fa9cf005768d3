package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/types"
)

// DefaultHistoryWindow is the number of earlier messages sent to the model.
const DefaultHistoryWindow = 20

// LLM answers through a language model provider.
type LLM struct {
	provider     llm.Provider
	systemPrompt string
	window       int
	maxTokens    int
}

var _ Assistant = (*LLM)(nil)

// LLMOption is a functional option for [LLM].
type LLMOption func(*LLM)

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(s string) LLMOption {
	return func(l *LLM) { l.systemPrompt = s }
}

// WithHistoryWindow sets how many earlier messages accompany the request.
// Zero sends none.
func WithHistoryWindow(n int) LLMOption {
	return func(l *LLM) { l.window = max(n, 0) }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) LLMOption {
	return func(l *LLM) { l.maxTokens = n }
}

// NewLLM creates an [LLM] assistant.
func NewLLM(p llm.Provider, opts ...LLMOption) (*LLM, error) {
	if p == nil {
		return nil, errors.New("assistant: llm provider must not be nil")
	}
	l := &LLM{provider: p, window: DefaultHistoryWindow}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Reply sends the recent history and the user message to the model.
func (l *LLM) Reply(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyMessage
	}

	history := req.History
	if len(history) > l.window {
		history = history[len(history)-l.window:]
	}
	msgs := make([]types.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role == types.RoleUser || m.Role == types.RoleAssistant {
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, types.Message{Role: types.RoleUser, Content: req.Text})

	resp, err := l.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: l.systemPrompt,
		Messages:     msgs,
		MaxTokens:    l.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("assistant: llm: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return NoResponse, nil
	}
	return strings.TrimSpace(resp.Content), nil
}
