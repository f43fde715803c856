// Package service provides the business logic of the reference chat server.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/store"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// DefaultChatName is given to chats created without a name.
const DefaultChatName = "New Chat"

// detailMessages is the number of messages returned with chat details.
const detailMessages = 50

// ChatService handles chat operations.
type ChatService struct {
	chats    store.ChatStore
	messages store.MessageStore
	logger   *logger.Logger
	now      func() time.Time
}

// NewChatService creates a new chat service.
func NewChatService(chats store.ChatStore, messages store.MessageStore, log *logger.Logger) *ChatService {
	return &ChatService{
		chats:    chats,
		messages: messages,
		logger:   log.Named("chats"),
		now:      time.Now,
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Create creates a new chat owned by ownerID.
func (s *ChatService) Create(ctx context.Context, ownerID string, req model.CreateChatRequest) (model.Chat, error) {
	name := DefaultChatName
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		name = strings.TrimSpace(*req.Name)
	}

	now := model.NewTimestamp(s.now())
	chat := model.Chat{
		ID:        newID(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.chats.CreateChat(ctx, chat); err != nil {
		return model.Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}

	metrics.ChatsTotal.Inc()
	s.logger.Info("chat created", zap.String("chat_id", chat.ID), zap.String("owner_id", ownerID))
	return chat, nil
}

// Get returns chatID with its newest messages.
func (s *ChatService) Get(ctx context.Context, ownerID, chatID string) (model.ChatDetails, error) {
	chat, err := s.chats.GetChat(ctx, ownerID, chatID)
	if err != nil {
		return model.ChatDetails{}, err
	}
	page, err := s.messages.ListMessages(ctx, chatID, store.Query{Limit: detailMessages})
	if err != nil {
		return model.ChatDetails{}, fmt.Errorf("failed to load messages: %w", err)
	}
	return model.ChatDetails{Chat: chat, Messages: page.Items}, nil
}

// Authorize checks that ownerID owns chatID.
func (s *ChatService) Authorize(ctx context.Context, ownerID, chatID string) error {
	_, err := s.chats.GetChat(ctx, ownerID, chatID)
	return err
}

// List returns one page of ownerID's chats.
func (s *ChatService) List(ctx context.Context, ownerID string, q store.Query) (model.Page[model.Chat], error) {
	page, err := s.chats.ListChats(ctx, ownerID, q)
	if err != nil {
		return model.Page[model.Chat]{}, fmt.Errorf("failed to list chats: %w", err)
	}
	return page, nil
}

// Update applies patch to chatID.
func (s *ChatService) Update(ctx context.Context, ownerID, chatID string, patch model.UpdateChatRequest) (model.Chat, error) {
	chat, err := s.chats.UpdateChat(ctx, ownerID, chatID, patch)
	if err != nil {
		return model.Chat{}, err
	}
	s.logger.Info("chat updated", zap.String("chat_id", chatID))
	return chat, nil
}

// Messages returns one page of chatID's messages.
func (s *ChatService) Messages(ctx context.Context, ownerID, chatID string, q store.Query) (model.Page[model.Message], error) {
	if err := s.Authorize(ctx, ownerID, chatID); err != nil {
		return model.Page[model.Message]{}, err
	}
	page, err := s.messages.ListMessages(ctx, chatID, q)
	if err != nil {
		return model.Page[model.Message]{}, fmt.Errorf("failed to list messages: %w", err)
	}
	return page, nil
}
