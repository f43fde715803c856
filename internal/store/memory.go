package store

import (
	"context"
	"sync"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// Memory keeps chats and messages in process memory.
type Memory struct {
	mu       sync.RWMutex
	chats    map[string]model.Chat
	messages map[string]map[string]model.Message
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		chats:    make(map[string]model.Chat),
		messages: make(map[string]map[string]model.Message),
	}
}

// CreateChat stores a new chat.
func (s *Memory) CreateChat(_ context.Context, chat model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = chat
	return nil
}

// GetChat returns chatID if ownerID owns it.
func (s *Memory) GetChat(_ context.Context, ownerID, chatID string) (model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownedLocked(ownerID, chatID)
}

func (s *Memory) ownedLocked(ownerID, chatID string) (model.Chat, error) {
	chat, ok := s.chats[chatID]
	if !ok {
		return model.Chat{}, ErrNotFound
	}
	if chat.OwnerID != ownerID {
		return model.Chat{}, ErrForbidden
	}
	return chat, nil
}

// ListChats returns one page of ownerID's chats, newest first.
func (s *Memory) ListChats(_ context.Context, ownerID string, q Query) (model.Page[model.Chat], error) {
	s.mu.RLock()
	var chats []model.Chat
	for _, c := range s.chats {
		if c.OwnerID == ownerID {
			chats = append(chats, c)
		}
	}
	s.mu.RUnlock()
	return paginate(chats, chatCreated, model.ChatKey, q), nil
}

// UpdateChat applies patch to chatID.
func (s *Memory) UpdateChat(_ context.Context, ownerID, chatID string, patch model.UpdateChatRequest) (model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.ownedLocked(ownerID, chatID)
	if err != nil {
		return model.Chat{}, err
	}
	if patch.Name != nil {
		chat.Name = *patch.Name
	}
	if patch.Subtitle != nil {
		chat.Subtitle = *patch.Subtitle
	}
	chat.UpdatedAt = model.NewTimestamp(now())
	s.chats[chatID] = chat
	return chat, nil
}

// TouchChat refreshes the preview of chatID.
func (s *Memory) TouchChat(_ context.Context, chatID string, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	chat.LatestMessageContent = m.Content
	chat.LatestMessageTimestamp = m.CreatedAt
	chat.UpdatedAt = model.NewTimestamp(now())
	s.chats[chatID] = chat
	return nil
}

// SaveMessage upserts m into chatID.
func (s *Memory) SaveMessage(_ context.Context, chatID string, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.messages[chatID]
	if !ok {
		byID = make(map[string]model.Message)
		s.messages[chatID] = byID
	}
	byID[m.ID] = m
	return nil
}

// ListMessages returns one page of chatID's messages, newest first.
func (s *Memory) ListMessages(_ context.Context, chatID string, q Query) (model.Page[model.Message], error) {
	s.mu.RLock()
	msgs := make([]model.Message, 0, len(s.messages[chatID]))
	for _, m := range s.messages[chatID] {
		msgs = append(msgs, m)
	}
	s.mu.RUnlock()
	return paginate(msgs, messageCreated, model.MessageKey, q), nil
}
