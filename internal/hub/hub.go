// Package hub fans chat frames out to every socket joined to a chat.
package hub

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// Subscriber receives encoded frames. Send must not block; it reports false
// when the subscriber cannot keep up.
type Subscriber interface {
	Send(data []byte) bool
	Close()
}

// Hub is a registry of per-chat rooms.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[Subscriber]struct{}
	logger *logger.Logger
}

// New creates an empty Hub.
func New(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[Subscriber]struct{}),
		logger: log.Named("hub"),
	}
}

// Join adds sub to chatID's room.
func (h *Hub) Join(chatID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[Subscriber]struct{})
		h.rooms[chatID] = room
	}
	room[sub] = struct{}{}
}

// Leave removes sub from chatID's room.
func (h *Hub) Leave(chatID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(chatID, sub)
}

func (h *Hub) leaveLocked(chatID string, sub Subscriber) {
	room, ok := h.rooms[chatID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, chatID)
	}
}

// Count returns the number of subscribers in chatID's room.
func (h *Hub) Count(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// Broadcast encodes v once and sends it to every subscriber of chatID.
// Subscribers that cannot keep up are dropped and closed.
func (h *Hub) Broadcast(chatID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	h.mu.RLock()
	var slow []Subscriber
	for sub := range h.rooms[chatID] {
		if !sub.Send(data) {
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return nil
	}
	h.mu.Lock()
	for _, sub := range slow {
		h.leaveLocked(chatID, sub)
	}
	h.mu.Unlock()
	for _, sub := range slow {
		sub.Close()
	}
	h.logger.Warn("dropped slow subscribers", zap.String("chat_id", chatID), zap.Int("count", len(slow)))
	return nil
}
