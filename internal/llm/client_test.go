package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
)

func TestFromHistory(t *testing.T) {
	msg := func(sender model.SenderType, kind model.Kind, content string) model.Message {
		return model.Message{SenderType: sender, Kind: kind, Content: content}
	}
	history := []model.Message{
		msg(model.SenderAgent, model.KindText, "welcome"),
		msg(model.SenderUser, model.KindText, "hi"),
		msg(model.SenderUser, model.KindText, "are you there"),
		msg(model.SenderAgent, model.KindThinking, ""),
		msg(model.SenderAgent, model.KindToolUse, "search"),
		msg(model.SenderAgent, model.KindText, "yes"),
		msg(model.SenderAgent, model.KindError, "boom"),
		msg(model.SenderUser, model.KindText, "  "),
	}

	require.Equal(t, []ChatMessage{
		{Role: RoleUser, Content: "hi\n\nare you there"},
		{Role: RoleAssistant, Content: "yes"},
	}, FromHistory(history))
}

func TestEchoClientStreamsWords(t *testing.T) {
	var tokens []string
	resp, err := NewEchoClient().CompleteStream(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hello there"}},
	}, func(token string, _ int) error {
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"You", " said:", " hello", " there"}, tokens)
	require.Equal(t, "You said: hello there", resp.Content)
}

func TestEchoClientStopsOnCallbackError(t *testing.T) {
	stop := errors.New("client gone")
	_, err := NewEchoClient().CompleteStream(context.Background(), &CompletionRequest{}, func(string, int) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient("nope", "")
	require.Error(t, err)

	c, err := NewClient(ProviderEcho, "")
	require.NoError(t, err)
	require.Equal(t, "echo", c.Name())

	_, err = NewClient(ProviderAnthropic, "")
	require.Error(t, err)
}
