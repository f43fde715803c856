package llm

import (
	"context"
	"strings"
	"time"
)

// EchoClient replies with the last user message, one word per token. It
// needs no credentials and backs local development and tests.
type EchoClient struct {
	// Delay is slept between tokens.
	Delay time.Duration
	// Err, when set, is returned after the tokens are streamed.
	Err error
}

// NewEchoClient creates an EchoClient.
func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

// Name returns the provider name.
func (c *EchoClient) Name() string {
	return string(ProviderEcho)
}

// DefaultModel returns the model name reported in responses.
func (c *EchoClient) DefaultModel() string {
	return "echo"
}

// CompleteStream streams "You said: <last user message>".
func (c *EchoClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}

	words := strings.Fields("You said: " + last)
	var content strings.Builder
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		if c.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.Delay):
			}
		}
		content.WriteString(w)
		if err := callback(w, i); err != nil {
			return nil, err
		}
	}
	if c.Err != nil {
		return nil, c.Err
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      c.DefaultModel(),
		TokensOut:  len(words),
		StopReason: "end_turn",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
