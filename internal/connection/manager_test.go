package connection

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/model"
)

func TestConnectBuildsAuthenticatedURL(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{fn: func(context.Context, int) (Conn, error) { return conn, nil }}
	m := New(testConfig(), d, auth.StaticToken("a b"), Handlers{})

	require.NoError(t, m.Connect(context.Background(), "chat/1"))
	require.Equal(t, []string{"ws://chat.test/api/chats/ws/chat%2F1?token=a+b"}, d.urls)

	st := m.State()
	require.Equal(t, StatusOpen, st.Status)
	require.Equal(t, "chat/1", st.ChatID)
	require.True(t, m.IsConnected())

	// Already open for the same chat: no second dial.
	require.NoError(t, m.Connect(context.Background(), "chat/1"))
	require.EqualValues(t, 1, d.calls.Load())
}

func TestConcurrentSendsShareOneDial(t *testing.T) {
	conn := newFakeConn()
	release := make(chan struct{})
	d := &fakeDialer{fn: func(ctx context.Context, _ int) (Conn, error) {
		select {
		case <-release:
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	m := New(testConfig(), d, testToken, Handlers{})
	m.cfg.ConnectTimeout = 5 * time.Second

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.SendTo(context.Background(), "c1", model.NewUserMessage("hi"))
		}(i)
	}

	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.EqualValues(t, 1, d.calls.Load())
	require.Len(t, conn.Written(), 2)
	require.JSONEq(t, `{"content":"hi","sender_type":"user"}`, string(conn.Written()[0]))
}

func TestNoAuthTokenFailsWithoutDialing(t *testing.T) {
	d := &fakeDialer{fn: func(context.Context, int) (Conn, error) { return newFakeConn(), nil }}
	sched := &manualScheduler{}
	m := New(testConfig(), d, auth.StaticToken(""), Handlers{}, WithScheduler(sched.Schedule))

	err := m.Connect(context.Background(), "c1")
	require.ErrorIs(t, err, ErrNoAuthToken)
	require.EqualValues(t, 0, d.calls.Load())
	require.Equal(t, StatusClosedError, m.State().Status)
	require.Zero(t, sched.Len())

	err = m.SendTo(context.Background(), "c1", model.NewUserMessage("x"))
	require.ErrorIs(t, err, ErrConnectFailed)
	require.ErrorIs(t, err, ErrNoAuthToken)
}

func TestConnectTimeoutClosesLateSocket(t *testing.T) {
	late := newFakeConn()
	d := &fakeDialer{fn: func(ctx context.Context, _ int) (Conn, error) {
		<-ctx.Done()
		return late, nil
	}}
	sched := &manualScheduler{}
	cfg := testConfig()
	cfg.ConnectTimeout = 30 * time.Millisecond
	m := New(cfg, d, testToken, Handlers{}, WithScheduler(sched.Schedule))

	err := m.Connect(context.Background(), "c1")
	require.ErrorIs(t, err, ErrConnectTimeout)

	st := m.State()
	require.Equal(t, StatusClosedError, st.Status)
	require.ErrorIs(t, st.LastError, ErrConnectTimeout)
	require.Zero(t, sched.Len())

	require.Eventually(t, func() bool {
		closes := late.Closes()
		return len(closes) == 1 && closes[0] == closeCall{code: CloseNormal, reason: "Connection timeout"}
	}, time.Second, 5*time.Millisecond)
}

func TestReconnectBackoffIsBounded(t *testing.T) {
	first := newFakeConn()
	d := &fakeDialer{fn: func(_ context.Context, call int) (Conn, error) {
		if call == 1 {
			return first, nil
		}
		return nil, errors.New("connection refused")
	}}
	sched := &manualScheduler{}
	m := New(testConfig(), d, testToken, Handlers{}, WithScheduler(sched.Schedule))

	require.NoError(t, m.Connect(context.Background(), "c1"))
	first.fail <- io.ErrUnexpectedEOF

	require.Eventually(t, func() bool { return sched.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, m.State().ReconnectAttempt)

	for i := 0; i < 5; i++ {
		sched.At(i).fn()
	}

	require.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second,
	}, sched.Delays())
	require.EqualValues(t, 6, d.calls.Load())

	st := m.State()
	require.Equal(t, StatusClosedError, st.Status)
	require.ErrorIs(t, st.LastError, ErrReconnectExhausted)
	require.Equal(t, "c1", st.ChatID)
}

func TestSuccessfulReconnectResetsAttempt(t *testing.T) {
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	d := &fakeDialer{fn: func(_ context.Context, call int) (Conn, error) { return conns[call-1], nil }}
	sched := &manualScheduler{}
	m := New(testConfig(), d, testToken, Handlers{}, WithScheduler(sched.Schedule))

	require.NoError(t, m.Connect(context.Background(), "c1"))
	conns[0].fail <- &CloseError{Code: CloseAbnormal}
	require.Eventually(t, func() bool { return sched.Len() == 1 }, time.Second, 5*time.Millisecond)

	sched.At(0).fn()
	st := m.State()
	require.Equal(t, StatusOpen, st.Status)
	require.Zero(t, st.ReconnectAttempt)
}

func TestCleanServerCloseDoesNotReconnect(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{fn: func(context.Context, int) (Conn, error) { return conn, nil }}
	sched := &manualScheduler{}
	m := New(testConfig(), d, testToken, Handlers{}, WithScheduler(sched.Schedule))

	require.NoError(t, m.Connect(context.Background(), "c1"))
	conn.fail <- &CloseError{Code: CloseNormal, Reason: "bye"}

	require.Eventually(t, func() bool { return m.State().Status == StatusClosedClean }, time.Second, 5*time.Millisecond)
	require.Zero(t, sched.Len())
}

func TestDisconnectClosesNormallyAndIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{fn: func(context.Context, int) (Conn, error) { return conn, nil }}
	rec := &recorder{}
	m := New(testConfig(), d, testToken, rec.handlers())

	require.NoError(t, m.Connect(context.Background(), "c1"))
	m.Disconnect()
	m.Disconnect()

	require.Equal(t, []closeCall{{code: CloseNormal, reason: "Client disconnecting"}}, conn.Closes())
	st := m.State()
	require.Equal(t, StatusClosedClean, st.Status)
	require.Empty(t, st.ChatID)
	require.Zero(t, st.ReconnectAttempt)
	require.False(t, m.IsConnected())

	err := m.Send(context.Background(), model.NewUserMessage("late"))
	require.ErrorIs(t, err, ErrConnectFailed)
}

func TestDisconnectCancelsInFlightConnect(t *testing.T) {
	started := make(chan struct{})
	d := &fakeDialer{fn: func(ctx context.Context, _ int) (Conn, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m := New(testConfig(), d, testToken, Handlers{})
	m.cfg.ConnectTimeout = 5 * time.Second

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background(), "c1") }()
	<-started
	m.Disconnect()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrConnectCancelled)
	case <-time.After(time.Second):
		t.Fatal("connect did not return after disconnect")
	}
	require.Equal(t, StatusClosedClean, m.State().Status)
}

func TestSwitchingChatClosesPreviousSocket(t *testing.T) {
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	d := &fakeDialer{fn: func(_ context.Context, call int) (Conn, error) { return conns[call-1], nil }}
	m := New(testConfig(), d, testToken, Handlers{})

	require.NoError(t, m.Connect(context.Background(), "a"))
	require.NoError(t, m.Connect(context.Background(), "b"))

	require.Equal(t, []closeCall{{code: CloseNormal, reason: "Client disconnecting"}}, conns[0].Closes())
	require.Empty(t, conns[1].Closes())
	require.Equal(t, "b", m.State().ChatID)
}

func TestFramesAreForwardedAndParseErrorsReported(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{fn: func(context.Context, int) (Conn, error) { return conn, nil }}
	rec := &recorder{}
	m := New(testConfig(), d, testToken, rec.handlers())

	require.NoError(t, m.Connect(context.Background(), "c1"))
	conn.in <- []byte(`{"type":"MESSAGE_UPDATE","message_id":"m1","chunk":"Hel","is_error":false}`)
	conn.in <- []byte(`{not json`)
	conn.in <- []byte(`{"type":"STREAM_END","message_id":"m1"}`)

	require.Eventually(t, func() bool { return len(rec.Frames()) == 2 }, time.Second, 5*time.Millisecond)
	frames := rec.Frames()
	require.Equal(t, model.FrameChunk, frames[0].Kind)
	require.Equal(t, model.FrameStreamEnd, frames[1].Kind)

	require.Len(t, rec.ParseErrors(), 1)
	require.ErrorIs(t, rec.ParseErrors()[0], ErrParseError)
	require.Equal(t, StatusOpen, m.State().Status)
}

func TestFramesAfterDisconnectAreDropped(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{fn: func(context.Context, int) (Conn, error) { return conn, nil }}
	rec := &recorder{}
	m := New(testConfig(), d, testToken, rec.handlers())

	require.NoError(t, m.Connect(context.Background(), "c1"))
	m.Disconnect()
	conn.in <- []byte(`{"type":"STREAM_END","message_id":"m1"}`)

	time.Sleep(30 * time.Millisecond)
	require.Empty(t, rec.Frames())
}

func TestSendAfterDialFailure(t *testing.T) {
	d := &fakeDialer{fn: func(context.Context, int) (Conn, error) { return nil, errors.New("refused") }}
	sched := &manualScheduler{}
	m := New(testConfig(), d, testToken, Handlers{}, WithScheduler(sched.Schedule))

	err := m.SendTo(context.Background(), "c1", model.NewUserMessage("x"))
	require.ErrorIs(t, err, ErrConnectFailed)
	require.Equal(t, 1, sched.Len())
}

func TestHandlersMayReadStateAndHandOffDisconnect(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{fn: func(context.Context, int) (Conn, error) { return conn, nil }}

	var m *Manager
	var mu sync.Mutex
	var seen []Status
	m = New(testConfig(), d, testToken, Handlers{
		OnStateChange: func(State) {
			st := m.State()
			mu.Lock()
			seen = append(seen, st.Status)
			mu.Unlock()
		},
		OnFrame: func(string, model.Frame) {
			go m.Disconnect()
		},
	})

	require.NoError(t, m.Connect(context.Background(), "c1"))
	conn.in <- []byte(`{"type":"STREAM_END","message_id":"m1"}`)

	require.Eventually(t, func() bool { return m.State().Status == StatusClosedClean }, time.Second, 5*time.Millisecond)
	require.Equal(t, []closeCall{{code: CloseNormal, reason: "Client disconnecting"}}, conn.Closes())

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, seen, StatusOpen)
}
