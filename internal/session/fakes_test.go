package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/connection"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/restclient"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type messagesCall struct {
	chatID string
	before string
}

// fakeAPI answers from fixed pages. A chat listed in gates blocks
// GetMessages until a page is sent on its channel.
type fakeAPI struct {
	mu            sync.Mutex
	messagePages  map[string]model.Page[model.Message]
	olderMessages map[string]model.Page[model.Message]
	gates         map[string]chan model.Page[model.Message]
	chatPages     []model.Page[model.Chat]
	messageCalls  []messagesCall
	chatCalls     []string
	created       []string
	messagesErr   error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messagePages:  map[string]model.Page[model.Message]{},
		olderMessages: map[string]model.Page[model.Message]{},
		gates:         map[string]chan model.Page[model.Message]{},
	}
}

func (f *fakeAPI) gate(chatID string) chan model.Page[model.Message] {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan model.Page[model.Message])
	f.gates[chatID] = ch
	return ch
}

func (f *fakeAPI) MessageCalls() []messagesCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]messagesCall(nil), f.messageCalls...)
}

func (f *fakeAPI) ListChats(_ context.Context, p restclient.PageParams) (model.Page[model.Chat], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls = append(f.chatCalls, p.Before)
	if len(f.chatPages) == 0 {
		return model.NewPage[model.Chat](nil, "", false), nil
	}
	page := f.chatPages[0]
	f.chatPages = f.chatPages[1:]
	return page, nil
}

func (f *fakeAPI) GetMessages(ctx context.Context, chatID string, p restclient.PageParams) (model.Page[model.Message], error) {
	f.mu.Lock()
	f.messageCalls = append(f.messageCalls, messagesCall{chatID: chatID, before: p.Before})
	gate := f.gates[chatID]
	err := f.messagesErr
	page, ok := f.messagePages[chatID]
	if p.Before != "" {
		page, ok = f.olderMessages[chatID]
	}
	f.mu.Unlock()

	if err != nil {
		return model.Page[model.Message]{}, err
	}
	if gate != nil && p.Before == "" {
		return <-gate, nil
	}
	if !ok {
		return model.NewPage[model.Message](nil, "", false), nil
	}
	return page, nil
}

func (f *fakeAPI) CreateChat(_ context.Context, name string) (model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name)
	return model.Chat{ID: fmt.Sprintf("new-%d", len(f.created)), Name: name, CreatedAt: model.NewTimestamp(t0)}, nil
}

func (f *fakeAPI) UpdateChat(_ context.Context, chatID string, patch model.UpdateChatRequest) (model.Chat, error) {
	chat := model.Chat{ID: chatID}
	if patch.Name != nil {
		chat.Name = *patch.Name
	}
	return chat, nil
}

type closeCall struct {
	code   int
	reason string
}

type testConn struct {
	chatID string
	in     chan []byte
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []string
	closes  []closeCall
}

func (c *testConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		return nil, errors.New("closed")
	}
}

func (c *testConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(data))
	return nil
}

func (c *testConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closes = append(c.closes, closeCall{code: code, reason: reason})
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *testConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *testConn) Closes() []closeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]closeCall(nil), c.closes...)
}

// socketFarm dials one testConn per connect and remembers them by chat.
type socketFarm struct {
	mu    sync.Mutex
	conns []*testConn
	fail  atomic.Bool
}

func (s *socketFarm) Dial(_ context.Context, url string) (connection.Conn, error) {
	if s.fail.Load() {
		return nil, errors.New("connection refused")
	}
	path := url[strings.Index(url, "/chats/ws/")+len("/chats/ws/"):]
	chatID := path[:strings.Index(path, "?")]
	c := &testConn{chatID: chatID, in: make(chan []byte, 16), done: make(chan struct{})}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	return c, nil
}

func (s *socketFarm) Conns() []*testConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*testConn(nil), s.conns...)
}

func (s *socketFarm) Last() *testConn {
	conns := s.Conns()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func newTestController(api ChatAPI, farm *socketFarm, tweaks ...func(*Options)) *Controller {
	n := 0
	cfg := connection.DefaultConfig("http://chat.test")
	cfg.ConnectTimeout = time.Second
	noReconnect := connection.WithScheduler(func(time.Duration, func()) func() { return func() {} })
	opts := Options{
		PageSize: 2,
		Now:      func() time.Time { return t0 },
		NewID: func() string {
			n++
			return fmt.Sprintf("%d", n)
		},
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	return New(api, ManagerFactory(cfg, farm, auth.StaticToken("tok"), noReconnect), opts)
}

// stubConn is a Connection whose sends fail.
type stubConn struct {
	sendErr error
	state   connection.State
}

func (s *stubConn) Connect(_ context.Context, chatID string) error {
	s.state = connection.State{Status: connection.StatusOpen, ChatID: chatID}
	return nil
}

func (s *stubConn) SendTo(context.Context, string, any) error { return s.sendErr }

func (s *stubConn) Disconnect() { s.state = connection.State{Status: connection.StatusClosedClean} }

func (s *stubConn) State() connection.State { return s.state }

// gatedConn is a Connection whose Connect for a gated chat blocks until
// released, and whose SendTo blocks until sendGate is closed.
type gatedConn struct {
	mu       sync.Mutex
	state    connection.State
	gates    map[string]chan struct{}
	entered  chan string
	sendGate chan struct{}
	connects []string
}

func newGatedConn() *gatedConn {
	return &gatedConn{gates: map[string]chan struct{}{}, entered: make(chan string, 8)}
}

func (g *gatedConn) gate(chatID string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[chatID] = ch
	return ch
}

func (g *gatedConn) Connect(_ context.Context, chatID string) error {
	g.mu.Lock()
	g.connects = append(g.connects, chatID)
	gate := g.gates[chatID]
	delete(g.gates, chatID)
	g.mu.Unlock()

	if gate != nil {
		g.entered <- chatID
		<-gate
	}
	g.mu.Lock()
	g.state = connection.State{Status: connection.StatusOpen, ChatID: chatID}
	g.mu.Unlock()
	return nil
}

func (g *gatedConn) SendTo(ctx context.Context, _ string, _ any) error {
	g.mu.Lock()
	gate := g.sendGate
	g.mu.Unlock()
	if gate == nil {
		return nil
	}
	g.entered <- "send"
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedConn) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = connection.State{Status: connection.StatusClosedClean}
}

func (g *gatedConn) State() connection.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *gatedConn) Connects() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.connects...)
}

func userMsg(id, content string) model.Message {
	return model.Message{ID: id, SenderType: model.SenderUser, Kind: model.KindText, Content: content, CreatedAt: model.NewTimestamp(t0)}
}

func ids(ms []model.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
