package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/llm"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/store"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

const (
	historyMessages = 50
	replyTimeout    = 2 * time.Minute
)

// ErrInvalidSender is returned for messages whose sender type is unknown.
var ErrInvalidSender = errors.New("sender_type must be user or agent")

// Broadcaster delivers a frame to every socket of a chat.
type Broadcaster interface {
	Broadcast(chatID string, v any) error
}

// MessageService stores chat messages and drives agent replies.
type MessageService struct {
	chats    store.ChatStore
	messages store.MessageStore
	hub      Broadcaster
	agent    llm.Client
	model    string
	logger   *logger.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// MessageOption configures a MessageService.
type MessageOption func(*MessageService)

// WithAgent enables agent replies to user messages.
func WithAgent(client llm.Client, model string) MessageOption {
	return func(s *MessageService) {
		s.agent = client
		s.model = model
	}
}

// NewMessageService creates a new message service.
func NewMessageService(chats store.ChatStore, messages store.MessageStore, hub Broadcaster, log *logger.Logger, opts ...MessageOption) *MessageService {
	s := &MessageService{
		chats:    chats,
		messages: messages,
		hub:      hub,
		logger:   log.Named("messages"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Post stores in as a new message of chatID, broadcasts it, and starts an
// agent reply when in comes from the user.
func (s *MessageService) Post(ctx context.Context, ownerID, chatID string, in model.OutgoingMessage) (model.Message, error) {
	if _, err := s.chats.GetChat(ctx, ownerID, chatID); err != nil {
		return model.Message{}, err
	}

	sender := in.SenderType
	if sender == "" {
		sender = model.SenderUser
	}
	if sender != model.SenderUser && sender != model.SenderAgent {
		return model.Message{}, ErrInvalidSender
	}

	msg := model.Message{
		ID:         newID(),
		SenderType: sender,
		Content:    in.Content,
		CreatedAt:  model.NewTimestamp(s.now()),
		Kind:       model.KindText,
	}
	if sender == model.SenderUser {
		author := ownerID
		msg.AuthorID = &author
	}

	if err := s.save(ctx, chatID, msg); err != nil {
		return model.Message{}, err
	}
	s.broadcast(chatID, msg)

	if sender == model.SenderUser && s.agent != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
			defer cancel()
			s.reply(replyCtx, chatID)
		}()
	}
	return msg, nil
}

// Wait blocks until every running agent reply has finished.
func (s *MessageService) Wait() {
	s.wg.Wait()
}

// NotifyError sends an agent error message to the chat without storing it.
func (s *MessageService) NotifyError(chatID, content string) model.Message {
	msg := model.Message{
		ID:         newID(),
		SenderType: model.SenderAgent,
		Content:    content,
		CreatedAt:  model.NewTimestamp(s.now()),
		Kind:       model.KindError,
	}
	s.broadcast(chatID, msg)
	return msg
}

func (s *MessageService) save(ctx context.Context, chatID string, msg model.Message) error {
	if err := s.messages.SaveMessage(ctx, chatID, msg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	if err := s.chats.TouchChat(ctx, chatID, msg); err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	metrics.RecordMessage(string(msg.SenderType), string(msg.Kind))
	return nil
}

func (s *MessageService) broadcast(chatID string, v any) {
	if err := s.hub.Broadcast(chatID, v); err != nil {
		s.logger.Warn("broadcast failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// reply streams an agent answer: a thinking placeholder, an empty agent text
// message, one MESSAGE_UPDATE per token and a STREAM_END. Provider failures
// arrive as an error chunk.
func (s *MessageService) reply(ctx context.Context, chatID string) {
	log := s.logger.WithChat(chatID)

	s.broadcast(chatID, model.Message{
		ID:         newID(),
		SenderType: model.SenderAgent,
		CreatedAt:  model.NewTimestamp(s.now()),
		Kind:       model.KindThinking,
	})

	page, err := s.messages.ListMessages(ctx, chatID, store.Query{Limit: historyMessages})
	if err != nil {
		log.Error("failed to load history", zap.Error(err))
		s.NotifyError(chatID, "The agent could not read this chat.")
		return
	}
	history := make([]model.Message, len(page.Items))
	for i, m := range page.Items {
		history[len(page.Items)-1-i] = m
	}

	agentMsg := model.Message{
		ID:         newID(),
		SenderType: model.SenderAgent,
		CreatedAt:  model.NewTimestamp(s.now()),
		Kind:       model.KindText,
	}
	s.broadcast(chatID, agentMsg)

	modelName := s.model
	if modelName == "" {
		modelName = s.agent.DefaultModel()
	}

	start := time.Now()
	chunks := 0
	resp, err := s.agent.CompleteStream(ctx, &llm.CompletionRequest{
		Model:    modelName,
		Messages: llm.FromHistory(history),
	}, func(token string, _ int) error {
		chunks++
		agentMsg.Content += token
		s.broadcast(chatID, model.NewChunkUpdate(agentMsg.ID, token, false))
		return nil
	})

	status := "success"
	if err != nil {
		status = "error"
		log.Error("agent reply failed", zap.String("provider", s.agent.Name()), zap.Error(err))
		text := "The agent failed to reply: " + err.Error()
		if agentMsg.Content != "" {
			text = "\n\n" + text
		}
		agentMsg.Content += text
		agentMsg.Kind = model.KindError
		s.broadcast(chatID, model.NewChunkUpdate(agentMsg.ID, text, true))
	} else if resp != nil && resp.Model != "" {
		modelName = resp.Model
	}
	s.broadcast(chatID, model.NewStreamEnd(agentMsg.ID))
	metrics.RecordLLMStream(modelName, status, time.Since(start).Seconds(), chunks)

	if err := s.save(ctx, chatID, agentMsg); err != nil {
		log.Error("failed to store agent reply", zap.Error(err))
		return
	}
	log.Info("agent reply complete", zap.String("message_id", agentMsg.ID), zap.Int("chunks", chunks), zap.String("status", status))
}
