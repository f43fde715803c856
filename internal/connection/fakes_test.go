package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/model"
)

type closeCall struct {
	code   int
	reason string
}

type fakeConn struct {
	in   chan []byte
	fail chan error
	done chan struct{}

	mu      sync.Mutex
	written [][]byte
	closes  []closeCall
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan []byte, 16),
		fail: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case err := <-c.fail:
		return nil, err
	case <-c.done:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closes = append(c.closes, closeCall{code: code, reason: reason})
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *fakeConn) Closes() []closeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]closeCall(nil), c.closes...)
}

type fakeDialer struct {
	calls atomic.Int32
	mu    sync.Mutex
	urls  []string
	fn    func(ctx context.Context, call int) (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	n := int(d.calls.Add(1))
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	return d.fn(ctx, n)
}

type scheduled struct {
	delay time.Duration
	fn    func()
}

// manualScheduler records reconnects instead of arming timers.
type manualScheduler struct {
	mu    sync.Mutex
	items []scheduled
}

func (s *manualScheduler) Schedule(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, scheduled{delay: d, fn: fn})
	return func() {}
}

func (s *manualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *manualScheduler) At(i int) scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[i]
}

func (s *manualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.delay)
	}
	return out
}

type recorder struct {
	mu          sync.Mutex
	frames      []model.Frame
	parseErrors []error
	states      []State
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnFrame: func(_ string, f model.Frame) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.frames = append(r.frames, f)
		},
		OnParseError: func(_ string, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.parseErrors = append(r.parseErrors, err)
		},
		OnStateChange: func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
	}
}

func (r *recorder) Frames() []model.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Frame(nil), r.frames...)
}

func (r *recorder) ParseErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.parseErrors...)
}

func testConfig() Config {
	cfg := DefaultConfig("http://chat.test/api")
	cfg.ConnectTimeout = 200 * time.Millisecond
	return cfg
}

var testToken = auth.StaticToken("tok")
