// Package reconciler merges inbound socket frames and optimistic local sends
// into the message cache of the active chat.
//
// Every function here is a pure reducer over pagination collections. The
// Reconciler type binds them to a chat and to the update handles of its owner,
// so it never holds the cache itself.
package reconciler

import (
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/pagination"
)

// Messages is the message cache of one chat, newest first.
type Messages = pagination.Collection[model.Message]

// Chats is the chat list, most recently active first.
type Chats = pagination.Collection[model.Chat]

// NewMessages returns an empty message cache.
func NewMessages() Messages { return pagination.New(model.MessageKey) }

// NewChats returns an empty chat list.
func NewChats() Chats { return pagination.New(model.ChatKey) }

// Apply folds one inbound frame into ms.
func Apply(ms Messages, f model.Frame) Messages {
	switch f.Kind {
	case model.FrameMessage:
		return ApplyMessage(ms, f.Message)
	case model.FrameChunk:
		return ApplyChunk(ms, f.Chunk)
	case model.FrameStreamEnd:
		return ApplyStreamEnd(ms, f.End)
	}
	return ms
}

// ApplyMessage folds a full message frame into ms:
//   - a message whose id is already present is a no-op;
//   - a user message confirms the matching temporary user message in place;
//   - an agent text, error or tool_use message clears thinking placeholders;
//   - anything else is prepended.
//
// An agent text message with empty content is marked as streaming.
func ApplyMessage(ms Messages, m model.Message) Messages {
	if ms.Index(m.ID) >= 0 {
		return ms
	}
	m.IsTemporary = false
	m.SendError = false

	if m.SenderType == model.SenderUser {
		if tempID, ok := matchTemporary(ms, m); ok {
			confirmed := m
			next, _ := ms.ReplaceByID(tempID, func(model.Message) model.Message { return confirmed })
			return next
		}
	}

	if m.SenderType == model.SenderAgent && endsThinking(m.Kind) {
		ms, _ = ms.RemoveWhere(func(x model.Message) bool { return x.Kind == model.KindThinking })
	}

	if m.SenderType == model.SenderAgent && m.Kind == model.KindText && m.Content == "" {
		m.IsStreaming = true
	}
	next, _ := ms.PrependNewer(m)
	return next
}

// ApplyChunk appends streamed content to a known message. Unknown ids are
// ignored.
func ApplyChunk(ms Messages, u model.ChunkUpdate) Messages {
	next, _ := ms.ReplaceByID(u.MessageID, func(m model.Message) model.Message {
		m.Content += u.Chunk
		if u.IsError {
			m.Kind = model.KindError
		}
		return m
	})
	return next
}

// ApplyStreamEnd clears the streaming flag of a known message.
func ApplyStreamEnd(ms Messages, e model.StreamEnd) Messages {
	next, _ := ms.ReplaceByID(e.MessageID, func(m model.Message) model.Message {
		m.IsStreaming = false
		return m
	})
	return next
}

func endsThinking(k model.Kind) bool {
	switch k {
	case model.KindText, model.KindError, model.KindToolUse:
		return true
	}
	return false
}

// matchTemporary picks the pending temporary user message that m confirms:
// the oldest one with identical content, else the oldest one.
func matchTemporary(ms Messages, m model.Message) (string, bool) {
	var fallback string
	items := ms.Items()
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.SenderType != model.SenderUser || !it.IsTemporary {
			continue
		}
		if it.Content == m.Content {
			return it.ID, true
		}
		if fallback == "" {
			fallback = it.ID
		}
	}
	return fallback, fallback != ""
}

// Pending describes one optimistic send.
type Pending struct {
	TempID     string
	ThinkingID string
	Content    string
	CreatedAt  time.Time
}

// NewPending allocates the temporary ids for an optimistic send.
func NewPending(content string, now time.Time, newID func() string) Pending {
	id := newID()
	return Pending{
		TempID:     "temp-" + id,
		ThinkingID: "temp-thinking-" + id,
		Content:    content,
		CreatedAt:  now.UTC(),
	}
}

// UserMessage is the temporary user entry.
func (p Pending) UserMessage() model.Message {
	return model.Message{
		ID:          p.TempID,
		SenderType:  model.SenderUser,
		Content:     p.Content,
		CreatedAt:   model.NewTimestamp(p.CreatedAt),
		Kind:        model.KindText,
		IsTemporary: true,
	}
}

// ThinkingMessage is the temporary agent placeholder shown until the reply
// starts.
func (p Pending) ThinkingMessage() model.Message {
	return model.Message{
		ID:          p.ThinkingID,
		SenderType:  model.SenderAgent,
		CreatedAt:   model.NewTimestamp(p.CreatedAt),
		Kind:        model.KindThinking,
		IsTemporary: true,
	}
}

// InsertPending prepends the temporary user message and the thinking
// placeholder, leaving the placeholder at the head.
func InsertPending(ms Messages, p Pending) Messages {
	ms, _ = ms.PrependNewer(p.UserMessage())
	ms, _ = ms.PrependNewer(p.ThinkingMessage())
	return ms
}

// FailPending marks the temporary user message as failed and drops the
// thinking placeholder of that send.
func FailPending(ms Messages, p Pending) Messages {
	ms, _ = ms.ReplaceByID(p.TempID, func(m model.Message) model.Message {
		if !m.IsTemporary {
			return m
		}
		m.IsTemporary = false
		m.SendError = true
		return m
	})
	ms, _ = ms.RemoveWhere(func(m model.Message) bool { return m.ID == p.ThinkingID })
	return ms
}

// PromoteChat refreshes chatID's preview from m and moves it to the head of
// the list. Messages without a timestamp, or older than the stored preview,
// leave the list unchanged.
func PromoteChat(chats Chats, chatID string, m model.Message) Chats {
	chat, ok := chats.Get(chatID)
	if !ok || m.CreatedAt.IsZero() {
		return chats
	}
	if !chat.LatestMessageTimestamp.IsZero() && m.CreatedAt.Before(chat.LatestMessageTimestamp.Time) {
		return chats
	}

	chat.LatestMessageContent = m.Content
	chat.LatestMessageTimestamp = m.CreatedAt
	chat.UpdatedAt = m.CreatedAt

	chats, _ = chats.RemoveWhere(func(c model.Chat) bool { return c.ID == chatID })
	chats, _ = chats.PrependNewer(chat)
	return chats
}

// MessageUpdater applies fn to the owner's message cache.
type MessageUpdater func(fn func(Messages) Messages)

// ChatUpdater applies fn to the owner's chat list.
type ChatUpdater func(fn func(Chats) Chats)

// Reconciler applies frames and optimistic sends for one chat.
type Reconciler struct {
	chatID   string
	messages MessageUpdater
	chats    ChatUpdater
	now      func() time.Time
	newID    func() string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used for optimistic timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator sets the generator for temporary ids.
func WithIDGenerator(newID func() string) Option {
	return func(r *Reconciler) { r.newID = newID }
}

// New creates a Reconciler for chatID. chats may be nil.
func New(chatID string, messages MessageUpdater, chats ChatUpdater, opts ...Option) *Reconciler {
	r := &Reconciler{
		chatID:   chatID,
		messages: messages,
		chats:    chats,
		now:      time.Now,
		newID:    newTempID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newTempID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ChatID returns the chat this reconciler serves.
func (r *Reconciler) ChatID() string { return r.chatID }

// HandleFrame applies an inbound frame. Full messages also refresh the chat
// list preview.
func (r *Reconciler) HandleFrame(f model.Frame) {
	r.messages(func(ms Messages) Messages { return Apply(ms, f) })
	if f.Kind == model.FrameMessage && r.chats != nil {
		msg := f.Message
		r.chats(func(cs Chats) Chats { return PromoteChat(cs, r.chatID, msg) })
	}
}

// BeginSend inserts the optimistic entries for content and returns them.
func (r *Reconciler) BeginSend(content string) Pending {
	p := NewPending(content, r.now(), r.newID)
	r.messages(func(ms Messages) Messages { return InsertPending(ms, p) })
	return p
}

// SendFailed marks p as failed.
func (r *Reconciler) SendFailed(p Pending) {
	r.messages(func(ms Messages) Messages { return FailPending(ms, p) })
}
