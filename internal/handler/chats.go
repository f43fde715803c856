// Package handler provides the HTTP and WebSocket handlers of the reference
// chat server.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/service"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// ChatHandler handles chat and message endpoints.
type ChatHandler struct {
	chats    *service.ChatService
	messages *service.MessageService
	logger   *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chats *service.ChatService, messages *service.MessageService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chats:    chats,
		messages: messages,
		logger:   log.Named("chats"),
	}
}

// List handles GET /chats/
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	page, err := h.chats.List(ctx, middleware.GetUserID(ctx), q)
	if err != nil {
		h.logger.Error("failed to list chats", zap.Error(err))
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// Create handles POST /chats/
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		if err := middleware.ValidateName(*req.Name); err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}
	}

	chat, err := h.chats.Create(ctx, middleware.GetUserID(ctx), req)
	if err != nil {
		h.logger.Error("failed to create chat", zap.Error(err))
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusCreated, chat)
}

// Get handles GET /chats/{id}
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	details, err := h.chats.Get(ctx, middleware.GetUserID(ctx), chatID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, details)
}

// Update handles PATCH /chats/{id}
func (h *ChatHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	var req model.UpdateChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	for _, field := range []*string{req.Name, req.Subtitle} {
		if field == nil {
			continue
		}
		if err := middleware.ValidateName(*field); err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}
	}

	chat, err := h.chats.Update(ctx, middleware.GetUserID(ctx), chatID, req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, chat)
}

// Messages handles GET /chats/{id}/messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	q, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	page, err := h.chats.Messages(ctx, middleware.GetUserID(ctx), chatID, q)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// AddMessage handles POST /chats/{id}/messages
func (h *ChatHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	var req model.OutgoingMessage
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateSenderType(req.SenderType); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	msg, err := h.messages.Post(ctx, middleware.GetUserID(ctx), chatID, req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusCreated, msg)
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return "", false
	}
	return chatID, true
}

// decodeBody decodes a JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
