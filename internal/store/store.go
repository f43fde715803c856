// Package store persists chats and messages for the reference server.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/capitalize-ai/chatsync/internal/model"
)

var (
	// ErrNotFound is returned when a chat does not exist.
	ErrNotFound = errors.New("chat not found")
	// ErrForbidden is returned when a chat belongs to another user.
	ErrForbidden = errors.New("chat not owned by user")
)

// Query selects one page, newest first. A zero Before starts at the newest
// item; otherwise only items created strictly before it are returned.
type Query struct {
	Limit  int
	Before time.Time
}

// ChatStore persists chat summaries.
type ChatStore interface {
	CreateChat(ctx context.Context, chat model.Chat) error
	GetChat(ctx context.Context, ownerID, chatID string) (model.Chat, error)
	ListChats(ctx context.Context, ownerID string, q Query) (model.Page[model.Chat], error)
	UpdateChat(ctx context.Context, ownerID, chatID string, patch model.UpdateChatRequest) (model.Chat, error)
	// TouchChat records m as the newest message of chatID.
	TouchChat(ctx context.Context, chatID string, m model.Message) error
}

// MessageStore persists chat messages. Saving an id twice keeps the last
// version.
type MessageStore interface {
	SaveMessage(ctx context.Context, chatID string, m model.Message) error
	ListMessages(ctx context.Context, chatID string, q Query) (model.Page[model.Message], error)
}

// paginate sorts items newest first, drops everything not before q.Before,
// and cuts one page. The cursor is the creation time of the oldest item
// returned.
func paginate[T any](items []T, created func(T) time.Time, key func(T) string, q Query) model.Page[T] {
	sort.Slice(items, func(i, j int) bool {
		ti, tj := created(items[i]), created(items[j])
		if ti.Equal(tj) {
			return key(items[i]) > key(items[j])
		}
		return ti.After(tj)
	})

	filtered := items[:0:0]
	for _, it := range items {
		if !q.Before.IsZero() && !created(it).Before(q.Before) {
			continue
		}
		filtered = append(filtered, it)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	hasMore := len(filtered) > limit
	if hasMore {
		filtered = filtered[:limit]
	}

	cursor := ""
	if hasMore && len(filtered) > 0 {
		cursor = model.FormatCursor(created(filtered[len(filtered)-1]))
	}
	return model.NewPage(filtered, cursor, hasMore)
}

var now = time.Now

func chatCreated(c model.Chat) time.Time       { return c.CreatedAt.Time }
func messageCreated(m model.Message) time.Time { return m.CreatedAt.Time }
