package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func message(id string, at time.Time) model.Message {
	return model.Message{ID: id, SenderType: model.SenderUser, Kind: model.KindText, Content: id, CreatedAt: model.NewTimestamp(at)}
}

func pageIDs(p model.Page[model.Message]) []string {
	var out []string
	for _, m := range p.Items {
		out = append(out, m.ID)
	}
	return out
}

func TestMemoryMessagePagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.SaveMessage(ctx, "c", message(fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Minute))))
	}

	first, err := s.ListMessages(ctx, "c", Query{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"m5", "m4"}, pageIDs(first))
	require.True(t, first.HasMore)
	require.Equal(t, model.FormatCursor(t0.Add(4*time.Minute)), first.Cursor())

	before, err := model.ParseTimestamp(first.Cursor())
	require.NoError(t, err)
	second, err := s.ListMessages(ctx, "c", Query{Limit: 2, Before: before})
	require.NoError(t, err)
	require.Equal(t, []string{"m3", "m2"}, pageIDs(second))
	require.True(t, second.HasMore)

	before, _ = model.ParseTimestamp(second.Cursor())
	last, err := s.ListMessages(ctx, "c", Query{Limit: 2, Before: before})
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, pageIDs(last))
	require.False(t, last.HasMore)
	require.Nil(t, last.NextCursor)
}

func TestMemorySaveMessageUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	m := message("m", t0)
	require.NoError(t, s.SaveMessage(ctx, "c", m))
	m.Content = "final"
	require.NoError(t, s.SaveMessage(ctx, "c", m))

	page, err := s.ListMessages(ctx, "c", Query{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "final", page.Items[0].Content)
}

func TestMemoryChatOwnership(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateChat(ctx, model.Chat{ID: "a", OwnerID: "u1", Name: "A", CreatedAt: model.NewTimestamp(t0)}))
	require.NoError(t, s.CreateChat(ctx, model.Chat{ID: "b", OwnerID: "u1", Name: "B", CreatedAt: model.NewTimestamp(t0.Add(time.Minute))}))
	require.NoError(t, s.CreateChat(ctx, model.Chat{ID: "x", OwnerID: "u2", CreatedAt: model.NewTimestamp(t0)}))

	_, err := s.GetChat(ctx, "u1", "x")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = s.GetChat(ctx, "u1", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	page, err := s.ListChats(ctx, "u1", Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "b", page.Items[0].ID)
	require.False(t, page.HasMore)

	name := "Renamed"
	chat, err := s.UpdateChat(ctx, "u1", "a", model.UpdateChatRequest{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Renamed", chat.Name)
	_, err = s.UpdateChat(ctx, "u2", "a", model.UpdateChatRequest{Name: &name})
	require.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, s.TouchChat(ctx, "a", message("m", t0.Add(time.Hour))))
	chat, err = s.GetChat(ctx, "u1", "a")
	require.NoError(t, err)
	require.Equal(t, "m", chat.LatestMessageContent)
	require.True(t, chat.LatestMessageTimestamp.Equal(t0.Add(time.Hour)))
	require.ErrorIs(t, s.TouchChat(ctx, "missing", message("m", t0)), ErrNotFound)
}

type fakeLog struct {
	entries map[string][]model.Message
}

func (f *fakeLog) PublishMessage(_ context.Context, chatID string, m model.Message) (uint64, error) {
	f.entries[chatID] = append(f.entries[chatID], m)
	return uint64(len(f.entries[chatID])), nil
}

func (f *fakeLog) ReadMessages(_ context.Context, chatID string) ([]model.Message, error) {
	return f.entries[chatID], nil
}

func TestLogMessagesKeepsLatestVersion(t *testing.T) {
	ctx := context.Background()
	s := NewLogMessages(&fakeLog{entries: map[string][]model.Message{}})

	agent := message("a", t0.Add(time.Minute))
	agent.SenderType = model.SenderAgent
	agent.Content = ""
	require.NoError(t, s.SaveMessage(ctx, "c", message("u", t0)))
	require.NoError(t, s.SaveMessage(ctx, "c", agent))
	agent.Content = "Hello"
	require.NoError(t, s.SaveMessage(ctx, "c", agent))

	page, err := s.ListMessages(ctx, "c", Query{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "u"}, pageIDs(page))
	require.Equal(t, "Hello", page.Items[0].Content)
}
