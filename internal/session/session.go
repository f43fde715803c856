// Package session is the chat session controller: it binds chat selection,
// REST history, the live socket and the reconciler into one observable state.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/connection"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/reconciler"
	"github.com/capitalize-ai/chatsync/internal/restclient"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// DefaultChatName is used when a chat is started without a name.
const DefaultChatName = "New Chat"

var (
	// ErrSuperseded is returned when a newer request replaced this one
	// before it completed. Its result was discarded.
	ErrSuperseded = errors.New("request superseded")
	// ErrNoChatSelected is returned by operations that need a chat.
	ErrNoChatSelected = errors.New("no chat selected")
	// ErrEmptyMessage is returned when the message text is blank.
	ErrEmptyMessage = errors.New("message is empty")
)

// ChatAPI is the REST surface the controller needs.
type ChatAPI interface {
	ListChats(ctx context.Context, p restclient.PageParams) (model.Page[model.Chat], error)
	GetMessages(ctx context.Context, chatID string, p restclient.PageParams) (model.Page[model.Message], error)
	CreateChat(ctx context.Context, name string) (model.Chat, error)
	UpdateChat(ctx context.Context, chatID string, patch model.UpdateChatRequest) (model.Chat, error)
}

// Connection is the socket surface the controller needs.
type Connection interface {
	Connect(ctx context.Context, chatID string) error
	SendTo(ctx context.Context, chatID string, payload any) error
	Disconnect()
	State() connection.State
}

// ConnectionFactory builds the controller's connection around its handlers.
type ConnectionFactory func(h connection.Handlers) Connection

// ManagerFactory returns a factory producing connection.Manager values.
func ManagerFactory(cfg connection.Config, dialer connection.Dialer, creds auth.CredentialProvider, opts ...connection.Option) ConnectionFactory {
	return func(h connection.Handlers) Connection {
		return connection.New(cfg, dialer, creds, h, opts...)
	}
}

// Options configures a Controller.
type Options struct {
	PageSize int
	Logger   *logger.Logger
	// Now and NewID feed optimistic messages; tests pin them.
	Now   func() time.Time
	NewID func() string
	// OnChange receives a snapshot after every state change. It is called
	// without the controller's lock held and may read the controller. When
	// the change came from a socket frame it runs inside the connection's
	// dispatch, so it must not call SelectChat, StartNewChat or Close.
	OnChange func(Snapshot)
}

// Snapshot is the state a UI renders.
type Snapshot struct {
	SelectedChatID string

	Chats        []model.Chat
	ChatsHasMore bool
	ChatsCursor  string

	Messages        []model.Message
	MessagesHasMore bool
	MessagesCursor  string

	ComposeText string

	LoadingChats        bool
	LoadingMoreChats    bool
	LoadingMessages     bool
	LoadingMoreMessages bool
	CreatingChat        bool
	UpdatingChat        bool
	Sending             bool

	ChatsError      error
	MessagesError   error
	CreateError     error
	UpdateError     error
	SendError       error
	ConnectionError error
	ParseError      error

	Connection  connection.State
	IsConnected bool
}

// Controller owns the chat list, the selected chat's messages and its socket.
type Controller struct {
	api    ChatAPI
	conn   Connection
	opts   Options
	logger *logger.Logger

	mu          sync.Mutex
	selected    string
	selectGen   uint64
	cancelFetch context.CancelFunc
	rec         *reconciler.Reconciler
	messages    reconciler.Messages
	chats       reconciler.Chats
	chatsGen    uint64
	compose     string

	loadingChats        bool
	loadingMoreChats    bool
	loadingMessages     bool
	loadingMoreMessages bool
	creatingChat        bool
	updatingChat        bool
	sending             int

	chatsErr   error
	messageErr error
	createErr  error
	updateErr  error
	sendErr    error
	connErr    error
	parseErr   error
}

// New creates a Controller.
func New(api ChatAPI, newConn ConnectionFactory, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	c := &Controller{
		api:      api,
		opts:     opts,
		logger:   opts.Logger.Named("session"),
		messages: reconciler.NewMessages(),
		chats:    reconciler.NewChats(),
	}
	c.conn = newConn(connection.Handlers{
		OnFrame:       c.onFrame,
		OnParseError:  c.onParseError,
		OnStateChange: c.onStateChange,
	})
	return c
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	return c.withConnection(snap)
}

// SelectedChatID returns the selected chat, or "".
func (c *Controller) SelectedChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SelectChat makes chatID the active chat: the previous socket is closed and
// the message cache emptied, then the first page is fetched and the socket
// for chatID opened. An empty chatID deselects. Selecting the current chat
// is a no-op.
//
// Connection failures are reported in the snapshot, not returned.
func (c *Controller) SelectChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if chatID == c.selected {
		c.mu.Unlock()
		return nil
	}
	c.selectGen++
	gen := c.selectGen
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	c.selected = chatID
	c.messages = reconciler.NewMessages()
	c.rec = nil
	c.messageErr, c.sendErr, c.connErr, c.parseErr = nil, nil, nil, nil
	c.loadingMessages = chatID != ""
	c.loadingMoreMessages = false
	c.sending = 0

	var fetchCtx context.Context
	var cancel context.CancelFunc
	if chatID != "" {
		c.rec = c.newReconciler(chatID)
		fetchCtx, cancel = context.WithCancel(ctx)
		c.cancelFetch = cancel
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.conn.Disconnect()
	c.publish(snap)

	if chatID == "" {
		c.logger.Info("chat deselected")
		return nil
	}
	defer cancel()

	c.logger.Info("chat selected", zap.String("chat_id", chatID))
	page, err := c.api.GetMessages(fetchCtx, chatID, restclient.PageParams{Limit: c.opts.PageSize})

	c.mu.Lock()
	if gen != c.selectGen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale message page", zap.String("chat_id", chatID))
		return ErrSuperseded
	}
	c.cancelFetch = nil
	c.loadingMessages = false
	if err != nil {
		c.messageErr = err
		snap = c.snapshotLocked()
		c.mu.Unlock()
		c.publish(snap)
		return fmt.Errorf("failed to load messages: %w", err)
	}
	c.messages = replaceKeepingLocal(c.messages, page)
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	c.mu.Lock()
	superseded := gen != c.selectGen
	c.mu.Unlock()
	if superseded {
		return ErrSuperseded
	}

	err = c.conn.Connect(ctx, chatID)

	c.mu.Lock()
	superseded = gen != c.selectGen
	selected, pending := c.selected, c.loadingMessages || c.messageErr != nil
	if !superseded && err != nil {
		c.connErr = err
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()

	if superseded {
		c.restoreSelected(ctx, selected, pending)
		return ErrSuperseded
	}
	if err != nil {
		c.logger.Warn("connect failed", zap.String("chat_id", chatID), zap.Error(err))
		c.publish(snap)
	}
	return nil
}

// restoreSelected points the socket back at selected after a superseded
// Connect may have replaced it. While selected is still loading, or failed
// to load, the stray socket is only closed; its own SelectChat connects it.
func (c *Controller) restoreSelected(ctx context.Context, selected string, loading bool) {
	current := c.conn.State().ChatID
	switch {
	case current == selected:
	case selected == "" || loading:
		if current != "" {
			c.conn.Disconnect()
		}
	default:
		c.logger.Debug("reconnecting superseded socket", zap.String("chat_id", selected))
		if err := c.conn.Connect(ctx, selected); err != nil {
			c.mu.Lock()
			if c.selected == selected {
				c.connErr = err
			}
			snap := c.snapshotLocked()
			c.mu.Unlock()
			c.publish(snap)
		}
	}
}

// replaceKeepingLocal stores page and keeps optimistic entries created while
// it was loading on top.
func replaceKeepingLocal(ms reconciler.Messages, page model.Page[model.Message]) reconciler.Messages {
	local := ms.Items()
	next := ms.Replace(page)
	for i := len(local) - 1; i >= 0; i-- {
		if local[i].IsTemporary || local[i].SendError {
			next, _ = next.PrependNewer(local[i])
		}
	}
	return next
}

// SendMessage sends text to the selected chat. The message is shown at once
// as a temporary entry with a thinking placeholder; on failure it is marked
// with SendError and the error is returned.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	chatID, rec, gen := c.selected, c.rec, c.selectGen
	if chatID == "" || rec == nil {
		c.mu.Unlock()
		return ErrNoChatSelected
	}
	c.compose = ""
	c.sending++
	c.sendErr = nil
	c.mu.Unlock()

	pending := rec.BeginSend(content)
	err := c.conn.SendTo(ctx, chatID, model.NewUserMessage(content))
	if err != nil {
		c.logger.Warn("send failed", zap.String("chat_id", chatID), zap.Error(err))
		rec.SendFailed(pending)
	}

	c.mu.Lock()
	if c.selectGen == gen {
		c.sending--
		if err != nil {
			c.sendErr = err
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
	return err
}

// SetComposeText stores the draft message.
func (c *Controller) SetComposeText(text string) {
	c.mu.Lock()
	c.compose = text
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// LoadChats fetches the first page of the chat list, replacing it.
func (c *Controller) LoadChats(ctx context.Context) error {
	c.mu.Lock()
	c.chatsGen++
	gen := c.chatsGen
	c.loadingChats = true
	c.loadingMoreChats = false
	c.chatsErr = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	page, err := c.api.ListChats(ctx, restclient.PageParams{Limit: c.opts.PageSize})

	c.mu.Lock()
	if gen != c.chatsGen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.loadingChats = false
	if err != nil {
		c.chatsErr = err
	} else {
		c.chats = c.chats.Replace(page)
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	if err != nil {
		return fmt.Errorf("failed to load chats: %w", err)
	}
	return nil
}

// LoadMoreChats appends the next older page of chats. It does nothing while
// a chat load is running or when no older page exists.
func (c *Controller) LoadMoreChats(ctx context.Context) error {
	c.mu.Lock()
	cursor := c.chats.Cursor()
	if c.loadingChats || c.loadingMoreChats || !c.chats.HasMore() || cursor == "" {
		c.mu.Unlock()
		return nil
	}
	gen := c.chatsGen
	c.loadingMoreChats = true
	c.chatsErr = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	page, err := c.api.ListChats(ctx, restclient.PageParams{Limit: c.opts.PageSize, Before: cursor})

	c.mu.Lock()
	if gen != c.chatsGen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.loadingMoreChats = false
	if err != nil {
		c.chatsErr = err
	} else {
		c.chats = c.chats.AppendOlder(page)
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	if err != nil {
		return fmt.Errorf("failed to load more chats: %w", err)
	}
	return nil
}

// LoadMoreMessages backfills the next older page of the selected chat.
func (c *Controller) LoadMoreMessages(ctx context.Context) error {
	c.mu.Lock()
	chatID := c.selected
	cursor := c.messages.Cursor()
	if chatID == "" || c.loadingMessages || c.loadingMoreMessages || !c.messages.HasMore() || cursor == "" {
		c.mu.Unlock()
		return nil
	}
	gen := c.selectGen
	c.loadingMoreMessages = true
	c.messageErr = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	page, err := c.api.GetMessages(ctx, chatID, restclient.PageParams{Limit: c.opts.PageSize, Before: cursor})

	c.mu.Lock()
	if gen != c.selectGen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.loadingMoreMessages = false
	if err != nil {
		c.messageErr = err
	} else {
		c.messages = c.messages.AppendOlder(page)
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	if err != nil {
		return fmt.Errorf("failed to load more messages: %w", err)
	}
	return nil
}

// StartNewChat creates a chat, puts it at the head of the list and selects
// it. An empty name becomes DefaultChatName.
func (c *Controller) StartNewChat(ctx context.Context, name string) (model.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultChatName
	}

	c.mu.Lock()
	c.creatingChat = true
	c.createErr = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	chat, err := c.api.CreateChat(ctx, name)

	c.mu.Lock()
	c.creatingChat = false
	if err != nil {
		c.createErr = err
	} else {
		c.chats, _ = c.chats.PrependNewer(chat)
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	if err != nil {
		return model.Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}
	c.logger.Info("chat created", zap.String("chat_id", chat.ID))
	return chat, c.SelectChat(ctx, chat.ID)
}

// UpdateChat applies patch to chatID and refreshes it in place in the list.
func (c *Controller) UpdateChat(ctx context.Context, chatID string, patch model.UpdateChatRequest) (model.Chat, error) {
	c.mu.Lock()
	c.updatingChat = true
	c.updateErr = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	chat, err := c.api.UpdateChat(ctx, chatID, patch)

	c.mu.Lock()
	c.updatingChat = false
	if err != nil {
		c.updateErr = err
	} else {
		c.chats, _ = c.chats.ReplaceByID(chatID, func(old model.Chat) model.Chat {
			if chat.LatestMessageTimestamp.Before(old.LatestMessageTimestamp.Time) {
				chat.LatestMessageContent = old.LatestMessageContent
				chat.LatestMessageTimestamp = old.LatestMessageTimestamp
			}
			return chat
		})
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	if err != nil {
		return model.Chat{}, fmt.Errorf("failed to update chat: %w", err)
	}
	return chat, nil
}

// RenameChat sets the display name of chatID.
func (c *Controller) RenameChat(ctx context.Context, chatID, name string) (model.Chat, error) {
	return c.UpdateChat(ctx, chatID, model.UpdateChatRequest{Name: &name})
}

// Close deselects the chat and closes the socket.
func (c *Controller) Close() error {
	return c.SelectChat(context.Background(), "")
}

func (c *Controller) newReconciler(chatID string) *reconciler.Reconciler {
	var opts []reconciler.Option
	if c.opts.Now != nil {
		opts = append(opts, reconciler.WithClock(c.opts.Now))
	}
	if c.opts.NewID != nil {
		opts = append(opts, reconciler.WithIDGenerator(c.opts.NewID))
	}
	return reconciler.New(chatID, c.messageUpdater(chatID), c.chatUpdater(chatID), opts...)
}

// messageUpdater hands the reconciler a write handle that is inert once
// chatID is no longer selected.
func (c *Controller) messageUpdater(chatID string) reconciler.MessageUpdater {
	return func(fn func(reconciler.Messages) reconciler.Messages) {
		c.mu.Lock()
		if c.selected != chatID {
			c.mu.Unlock()
			return
		}
		c.messages = fn(c.messages)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(snap)
	}
}

func (c *Controller) chatUpdater(chatID string) reconciler.ChatUpdater {
	return func(fn func(reconciler.Chats) reconciler.Chats) {
		c.mu.Lock()
		if c.selected != chatID {
			c.mu.Unlock()
			return
		}
		c.chats = fn(c.chats)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(snap)
	}
}

func (c *Controller) onFrame(chatID string, f model.Frame) {
	c.mu.Lock()
	rec := c.rec
	current := c.selected == chatID && rec != nil
	c.mu.Unlock()
	if !current {
		return
	}
	rec.HandleFrame(f)
}

func (c *Controller) onParseError(chatID string, err error) {
	c.mu.Lock()
	if c.selected != chatID {
		c.mu.Unlock()
		return
	}
	c.parseErr = err
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Controller) onStateChange(st connection.State) {
	c.mu.Lock()
	if st.ChatID != "" && st.ChatID == c.selected {
		switch st.Status {
		case connection.StatusOpen:
			c.connErr = nil
		case connection.StatusClosedError:
			c.connErr = st.LastError
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		SelectedChatID:      c.selected,
		Chats:               c.chats.Items(),
		ChatsHasMore:        c.chats.HasMore(),
		ChatsCursor:         c.chats.Cursor(),
		Messages:            c.messages.Items(),
		MessagesHasMore:     c.messages.HasMore(),
		MessagesCursor:      c.messages.Cursor(),
		ComposeText:         c.compose,
		LoadingChats:        c.loadingChats,
		LoadingMoreChats:    c.loadingMoreChats,
		LoadingMessages:     c.loadingMessages,
		LoadingMoreMessages: c.loadingMoreMessages,
		CreatingChat:        c.creatingChat,
		UpdatingChat:        c.updatingChat,
		Sending:             c.sending > 0,
		ChatsError:          c.chatsErr,
		MessagesError:       c.messageErr,
		CreateError:         c.createErr,
		UpdateError:         c.updateErr,
		SendError:           c.sendErr,
		ConnectionError:     c.connErr,
		ParseError:          c.parseErr,
	}
}

// withConnection fills the connection fields. It must run without c.mu held.
func (c *Controller) withConnection(snap Snapshot) Snapshot {
	st := c.conn.State()
	snap.Connection = st
	snap.IsConnected = st.Status == connection.StatusOpen && st.ChatID == snap.SelectedChatID && st.ChatID != ""
	return snap
}

func (c *Controller) publish(snap Snapshot) {
	if c.opts.OnChange == nil {
		return
	}
	c.opts.OnChange(c.withConnection(snap))
}
