package store

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// MessageLog is an append-only per-chat log, implemented by
// nats.StreamManager.
type MessageLog interface {
	PublishMessage(ctx context.Context, chatID string, m model.Message) (uint64, error)
	ReadMessages(ctx context.Context, chatID string) ([]model.Message, error)
}

// LogMessages stores messages in a MessageLog. Later entries with the same
// id replace earlier ones when the log is read back.
type LogMessages struct {
	log MessageLog
}

// NewLogMessages creates a MessageStore over log.
func NewLogMessages(log MessageLog) *LogMessages {
	return &LogMessages{log: log}
}

// SaveMessage appends m to the log of chatID.
func (s *LogMessages) SaveMessage(ctx context.Context, chatID string, m model.Message) error {
	if _, err := s.log.PublishMessage(ctx, chatID, m); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// ListMessages replays the log of chatID and returns one page.
func (s *LogMessages) ListMessages(ctx context.Context, chatID string, q Query) (model.Page[model.Message], error) {
	entries, err := s.log.ReadMessages(ctx, chatID)
	if err != nil {
		return model.Page[model.Message]{}, fmt.Errorf("failed to read messages: %w", err)
	}

	latest := make(map[string]int, len(entries))
	var msgs []model.Message
	for _, m := range entries {
		if i, ok := latest[m.ID]; ok {
			msgs[i] = m
			continue
		}
		latest[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	return paginate(msgs, messageCreated, model.MessageKey, q), nil
}
