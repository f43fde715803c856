package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/connection"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
)

func TestPrinterWritesSettledMessagesOnce(t *testing.T) {
	at := model.NewTimestamp(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	var out bytes.Buffer
	p := newPrinter(&out)

	snap := session.Snapshot{
		Connection: connection.State{Status: connection.StatusOpen},
		Messages: []model.Message{
			{ID: "a2", SenderType: model.SenderAgent, Kind: model.KindText, Content: "partial", IsStreaming: true, CreatedAt: at},
			{ID: "t1", SenderType: model.SenderAgent, Kind: model.KindThinking, CreatedAt: at},
			{ID: "u1", SenderType: model.SenderUser, Kind: model.KindText, Content: "hello", CreatedAt: at},
		},
	}
	p.render(snap)
	p.render(snap)
	require.Equal(t, "-- connected\n[12:00:00] user: hello\n", out.String())

	out.Reset()
	snap.Messages[0].IsStreaming = false
	snap.Messages[0].Content = "done"
	snap.SendError = errors.New("socket is not open")
	p.render(snap)
	p.render(snap)
	require.Equal(t, "[12:00:00] agent: done\n!! socket is not open\n", out.String())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
