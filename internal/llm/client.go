// Package llm streams agent replies from LLM providers.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// DefaultModel is used when a request names none.
	DefaultModel() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderEcho      Provider = "echo"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	case ProviderEcho:
		return NewEchoClient(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// FromHistory converts chat messages, oldest first, into a prompt. Only text
// messages are kept; consecutive messages from the same side are merged so
// the roles alternate.
func FromHistory(history []model.Message) []ChatMessage {
	var out []ChatMessage
	for _, m := range history {
		if m.Kind != model.KindText || strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := RoleUser
		if m.SenderType == model.SenderAgent {
			role = RoleAssistant
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, ChatMessage{Role: role, Content: m.Content})
	}
	// Providers expect the conversation to open with the user.
	for len(out) > 0 && out[0].Role != RoleUser {
		out = out[1:]
	}
	return out
}
