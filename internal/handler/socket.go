package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/hub"
	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/service"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 1 << 20
	sendBufferSize = 256
)

// SocketHandler serves the per-chat WebSocket.
type SocketHandler struct {
	chats    *service.ChatService
	messages *service.MessageService
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewSocketHandler creates a new socket handler.
func NewSocketHandler(chats *service.ChatService, messages *service.MessageService, h *hub.Hub, log *logger.Logger) *SocketHandler {
	return &SocketHandler{
		chats:    chats,
		messages: messages,
		hub:      h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.Named("socket"),
	}
}

// client is one socket joined to a chat room.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send queues data without blocking.
func (c *client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the connection.
func (c *client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Send(data)
}

// Serve handles GET /chats/ws/{id}?token=
func (h *SocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	if err := h.chats.Authorize(ctx, userID, chatID); err != nil {
		writeStoreError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.String("chat_id", chatID), zap.Error(err))
		return
	}

	metrics.IncrementWSConnections()
	defer metrics.DecrementWSConnections()

	log := h.logger.WithChat(chatID).With(zap.String("user_id", userID))
	log.Info("socket connected")

	c := newClient(conn)
	h.hub.Join(chatID, c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(c, log)
	}()

	h.readPump(c, userID, chatID, log)

	h.hub.Leave(chatID, c)
	c.Close()
	wg.Wait()
	log.Info("socket disconnected")
}

// readPump handles inbound user messages until the peer goes away.
func (h *SocketHandler) readPump(c *client, userID, chatID string, log *logger.Logger) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("socket read failed", zap.Error(err))
			}
			return
		}

		var in model.OutgoingMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendJSON(errorMessage("Invalid message format"))
			continue
		}
		if err := middleware.ValidateMessageContent(in.Content); err != nil {
			c.sendJSON(errorMessage("Invalid message: " + err.Error()))
			continue
		}
		if err := middleware.ValidateSenderType(in.SenderType); err != nil {
			c.sendJSON(errorMessage("Invalid message: " + err.Error()))
			continue
		}

		// The socket outlives any single request, so posts run on a
		// fresh context.
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		_, err = h.messages.Post(ctx, userID, chatID, in)
		cancel()
		if err != nil {
			log.Error("failed to post message", zap.Error(err))
			h.messages.NotifyError(chatID, "Failed to process message")
		}
	}
}

// writePump forwards queued frames and keeps the connection alive with pings.
func (h *SocketHandler) writePump(c *client, log *logger.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("socket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case data := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
					_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
					return
				}
			}
		}
	}
}

// errorMessage is an unsaved agent error shown only to the sending client.
func errorMessage(content string) model.Message {
	return model.Message{
		ID:         uuid.NewString(),
		SenderType: model.SenderAgent,
		Content:    content,
		CreatedAt:  model.NewTimestamp(time.Now()),
		Kind:       model.KindError,
	}
}
