// Package connection owns the single live WebSocket for the selected chat.
// Connects are single-flight, bounded by a timeout, and retried with
// exponential backoff after an unclean close.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// Config holds the manager settings.
type Config struct {
	// BaseURL is the REST base URL; its scheme is rewritten to ws(s).
	BaseURL        string
	ConnectTimeout time.Duration
	Retry          RetryPolicy
}

// DefaultConfig returns a 10s connect timeout and the default retry policy.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		ConnectTimeout: 10 * time.Second,
		Retry:          DefaultRetryPolicy(),
	}
}

// Handlers receive socket events.
//
// OnFrame and OnParseError run while the dispatch barrier is held.
// Disconnect, and Connect for a different chat, wait on that barrier, so
// calling them from these callbacks deadlocks. Hand such work to another
// goroutine.
// OnStateChange runs without the manager's locks, often from inside Connect
// or Disconnect. It may call State but must not start or stop the socket.
type Handlers struct {
	OnFrame       func(chatID string, frame model.Frame)
	OnParseError  func(chatID string, err error)
	OnStateChange func(State)
}

// Scheduler runs fn after d and returns a function that cancels it.
type Scheduler func(d time.Duration, fn func()) (cancel func())

func afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler replaces the timer used for reconnect backoff.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.schedule = s }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

type attempt struct {
	key    string
	gen    uint64
	chatID string
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

// Manager owns at most one socket at a time.
type Manager struct {
	cfg      Config
	dialer   Dialer
	creds    auth.CredentialProvider
	handlers Handlers
	schedule Scheduler
	logger   *logger.Logger

	group singleflight.Group

	mu              sync.Mutex
	state           State
	gen             uint64
	conn            Conn
	pending         *attempt
	cancelReconnect func()

	// dispatchMu is held while a frame is delivered so that Disconnect can
	// wait out in-flight deliveries from a retired socket.
	dispatchMu sync.Mutex
}

// New creates a Manager.
func New(cfg Config, dialer Dialer, creds auth.CredentialProvider, handlers Handlers, opts ...Option) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		creds:    creds,
		handlers: handlers,
		schedule: afterFunc,
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("connection")
	return m
}

// State returns a snapshot of the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether a socket is open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status == StatusOpen && m.conn != nil
}

// Connect opens the socket for chatID, or joins the attempt already in
// flight. It returns nil immediately when the socket is already open for
// chatID. A socket open for another chat is closed first.
func (m *Manager) Connect(ctx context.Context, chatID string) error {
	if chatID == "" {
		return newError(CodeConnectFailed, errNoChat)
	}

	m.mu.Lock()
	if m.state.Status == StatusOpen && m.state.ChatID == chatID && m.conn != nil {
		m.mu.Unlock()
		return nil
	}

	var stale Conn
	if m.state.ChatID != "" && m.state.ChatID != chatID {
		stale = m.teardownLocked()
	}

	a := m.pending
	if a == nil || a.chatID != chatID {
		a = m.startAttemptLocked(chatID)
	}
	st := m.state
	m.mu.Unlock()

	if stale != nil {
		m.awaitDispatch()
		m.closeConn(stale, "Client disconnecting")
	}
	m.notify(st)

	ch := m.group.DoChan(a.key, func() (interface{}, error) {
		a.once.Do(func() { a.err = m.dial(a) })
		return nil, a.err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return newError(CodeConnectCancelled, ctx.Err())
	}
}

// Send writes payload as JSON to the socket of the current chat, connecting
// first if needed.
func (m *Manager) Send(ctx context.Context, payload any) error {
	return m.SendTo(ctx, m.State().ChatID, payload)
}

// SendTo writes payload as JSON to chatID's socket, connecting (or joining an
// in-flight connect) first when the socket is not open.
func (m *Manager) SendTo(ctx context.Context, chatID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.RecordSend("send_exception")
		return newError(CodeSendException, fmt.Errorf("failed to encode payload: %w", err))
	}

	conn := m.openConn(chatID)
	if conn == nil {
		if err := m.Connect(ctx, chatID); err != nil {
			metrics.RecordSend("connect_failed")
			return newError(CodeConnectFailed, err)
		}
		if conn = m.openConn(chatID); conn == nil {
			metrics.RecordSend("connect_failed")
			return newError(CodeConnectFailed, errClosed)
		}
	}

	if err := conn.WriteMessage(data); err != nil {
		metrics.RecordSend("send_exception")
		m.logger.Warn("send failed", zap.String("chat_id", chatID), zap.Error(err))
		return newError(CodeSendException, err)
	}
	metrics.RecordSend("ok")
	m.logger.Debug("frame sent", zap.String("chat_id", chatID), zap.Int("bytes", len(data)))
	return nil
}

// Disconnect cancels any connect in flight, stops pending reconnects and
// closes the socket with a normal closure. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.teardownLocked()
	st := m.state
	m.mu.Unlock()
	m.notify(st)

	m.awaitDispatch()
	if conn != nil {
		m.closeConn(conn, "Client disconnecting")
	}

	m.mu.Lock()
	m.applyLocked(event{kind: evDisconnectCompleted})
	st = m.state
	m.mu.Unlock()
	m.notify(st)
}

// Close is Disconnect.
func (m *Manager) Close() error {
	m.Disconnect()
	return nil
}

func (m *Manager) openConn(chatID string) Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status == StatusOpen && m.state.ChatID == chatID {
		return m.conn
	}
	return nil
}

func (m *Manager) startAttemptLocked(chatID string) *attempt {
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		key:    fmt.Sprintf("%s#%d", chatID, m.gen),
		gen:    m.gen,
		chatID: chatID,
		ctx:    ctx,
		cancel: cancel,
	}
	m.pending = a
	m.runEffectsLocked(m.applyLocked(event{kind: evConnectStarted, chatID: chatID}))
	return a
}

// teardownLocked retires the current generation and returns the socket that
// the caller must close once the lock is released.
func (m *Manager) teardownLocked() Conn {
	m.gen++
	if m.pending != nil {
		m.pending.cancel()
		m.pending = nil
	}
	conn := m.conn
	m.conn = nil
	m.runEffectsLocked(m.applyLocked(event{kind: evDisconnectRequested}))
	return conn
}

func (m *Manager) dial(a *attempt) error {
	defer a.cancel()
	log := m.logger.With(zap.String("chat_id", a.chatID), zap.Uint64("gen", a.gen))

	var token string
	var err error
	if m.creds != nil {
		token, err = m.creds.AccessToken(a.ctx)
	}
	if err != nil || token == "" {
		return m.fail(a, newError(CodeNoAuthToken, err))
	}

	u, err := SocketURL(m.cfg.BaseURL, a.chatID, token)
	if err != nil {
		return m.fail(a, newError(CodeConnectFailed, err))
	}

	ch := make(chan dialResult, 1)
	go func() {
		c, err := m.dialer.Dial(a.ctx, u)
		ch <- dialResult{conn: c, err: err}
	}()

	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()

	log.Info("connecting")
	select {
	case r := <-ch:
		if r.err != nil {
			if a.ctx.Err() != nil {
				return m.fail(a, newError(CodeConnectCancelled, r.err))
			}
			return m.fail(a, newError(CodeConnectFailed, r.err))
		}
		return m.opened(a, r.conn)

	case <-timer.C:
		a.cancel()
		go m.discardLate(ch, "Connection timeout")
		return m.fail(a, newError(CodeConnectTimeout, fmt.Errorf("no open after %s", m.cfg.ConnectTimeout)))

	case <-a.ctx.Done():
		go m.discardLate(ch, "Client disconnecting")
		return m.fail(a, newError(CodeConnectCancelled, a.ctx.Err()))
	}
}

type dialResult struct {
	conn Conn
	err  error
}

// discardLate closes a socket whose dial finished after the attempt was
// abandoned.
func (m *Manager) discardLate(ch <-chan dialResult, reason string) {
	if r := <-ch; r.conn != nil {
		m.closeConn(r.conn, reason)
	}
}

func (m *Manager) opened(a *attempt, conn Conn) error {
	m.mu.Lock()
	if m.pending == a {
		m.pending = nil
	}
	if a.gen != m.gen {
		m.mu.Unlock()
		m.closeConn(conn, "Client disconnecting")
		metrics.RecordConnectAttempt("superseded")
		return newError(CodeConnectCancelled, errSuperseded)
	}
	m.conn = conn
	m.runEffectsLocked(m.applyLocked(event{kind: evOpened}))
	st := m.state
	m.mu.Unlock()

	metrics.RecordConnectAttempt("open")
	m.logger.Info("socket open", zap.String("chat_id", a.chatID))
	m.notify(st)

	go m.readLoop(a.gen, a.chatID, conn)
	return nil
}

func (m *Manager) fail(a *attempt, err *Error) error {
	m.mu.Lock()
	if m.pending == a {
		m.pending = nil
	}
	if a.gen != m.gen {
		m.mu.Unlock()
		metrics.RecordConnectAttempt("superseded")
		return err
	}
	m.runEffectsLocked(m.applyLocked(event{kind: evConnectFailed, err: err}))
	st := m.state
	m.mu.Unlock()

	metrics.RecordConnectAttempt(string(err.Code))
	m.logger.Warn("connect failed",
		zap.String("chat_id", a.chatID),
		zap.String("code", string(err.Code)),
		zap.Error(err.Err),
	)
	m.notify(st)
	return err
}

func (m *Manager) readLoop(gen uint64, chatID string, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.closed(gen, conn, err)
			return
		}

		frame, err := model.DecodeFrame(data)
		if err != nil {
			metrics.ClientParseErrors.Inc()
			m.logger.Warn("dropping malformed frame", zap.String("chat_id", chatID), zap.Error(err))
			m.dispatch(gen, func() {
				if m.handlers.OnParseError != nil {
					m.handlers.OnParseError(chatID, newError(CodeParseError, err))
				}
			})
			continue
		}

		metrics.RecordFrame(frame.Kind.String())
		m.dispatch(gen, func() {
			if m.handlers.OnFrame != nil {
				m.handlers.OnFrame(chatID, frame)
			}
		})
	}
}

// dispatch runs fn only while gen is still current.
func (m *Manager) dispatch(gen uint64, fn func()) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()
	if current {
		fn()
	}
}

// awaitDispatch blocks until no frame delivery is running. Callers retire the
// generation first, so later deliveries are dropped by dispatch.
func (m *Manager) awaitDispatch() {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
}

func (m *Manager) closed(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	clean := IsCleanClose(err)
	m.runEffectsLocked(m.applyLocked(event{kind: evClosed, clean: clean, err: err}))
	st := m.state
	m.mu.Unlock()

	_ = conn.Close(CloseNormal, "")
	if clean {
		m.logger.Info("socket closed", zap.String("chat_id", st.ChatID), zap.Error(err))
	} else {
		m.logger.Warn("socket closed uncleanly", zap.String("chat_id", st.ChatID), zap.Error(err))
	}
	m.notify(st)
}

func (m *Manager) applyLocked(ev event) []effect {
	next, effects := transition(m.state, ev, m.cfg.Retry)
	m.state = next
	return effects
}

func (m *Manager) runEffectsLocked(effects []effect) {
	for _, eff := range effects {
		switch eff.kind {
		case effCancelReconnect:
			if m.cancelReconnect != nil {
				m.cancelReconnect()
				m.cancelReconnect = nil
			}
		case effScheduleReconnect:
			if m.cancelReconnect != nil {
				m.cancelReconnect()
			}
			gen, chatID := m.gen, m.state.ChatID
			m.cancelReconnect = m.schedule(eff.delay, func() { m.reconnect(gen, chatID) })
			metrics.ClientReconnectsScheduled.Inc()
			m.logger.Info("reconnect scheduled",
				zap.String("chat_id", chatID),
				zap.Int("attempt", eff.attempt),
				zap.Duration("delay", eff.delay),
			)
		}
	}
}

func (m *Manager) reconnect(gen uint64, chatID string) {
	m.mu.Lock()
	if gen != m.gen || m.state.ChatID != chatID || m.pending != nil || m.conn != nil {
		m.mu.Unlock()
		return
	}
	m.cancelReconnect = nil
	m.mu.Unlock()

	if err := m.Connect(context.Background(), chatID); err != nil {
		m.logger.Debug("reconnect attempt failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (m *Manager) closeConn(conn Conn, reason string) {
	if err := conn.Close(CloseNormal, reason); err != nil {
		m.logger.Debug("close failed", zap.Error(err))
	}
}

func (m *Manager) notify(st State) {
	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(st)
	}
}
