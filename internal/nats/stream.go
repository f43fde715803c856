package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chatsync/internal/model"
)

const (
	// StreamName is the name of the chat message stream.
	StreamName = "CHATS"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"

	fetchBatch = 256
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the chat stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat messages, one subject per chat",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject holding the messages of chatID.
// NATS tokens cannot contain '.', so dots in ids are replaced.
func MessageSubject(chatID string) string {
	return fmt.Sprintf("%s.%s.msg", SubjectPrefix, strings.ReplaceAll(chatID, ".", "_"))
}

// PublishMessage appends m to the log of chatID.
func (m *StreamManager) PublishMessage(ctx context.Context, chatID string, msg model.Message) (uint64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, MessageSubject(chatID), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}

	return ack.Sequence, nil
}

// ReadMessages replays the whole log of chatID in publish order.
func (m *StreamManager) ReadMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	consumer, err := m.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{MessageSubject(chatID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var messages []model.Message
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := consumer.FetchNoWait(fetchBatch)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		n := 0
		for msg := range batch.Messages() {
			n++
			var message model.Message
			if err := json.Unmarshal(msg.Data(), &message); err != nil {
				continue
			}
			messages = append(messages, message)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if n == 0 {
			return messages, nil
		}
	}
}
