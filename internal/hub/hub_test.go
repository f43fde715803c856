package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
)

type sink struct {
	mu     sync.Mutex
	frames []string
	full   bool
	closed bool
}

func (s *sink) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.frames = append(s.frames, string(data))
	return true
}

func (s *sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func TestBroadcastReachesOnlyTheRoom(t *testing.T) {
	h := New(nil)
	a1, a2, b := &sink{}, &sink{}, &sink{}
	h.Join("a", a1)
	h.Join("a", a2)
	h.Join("b", b)

	require.NoError(t, h.Broadcast("a", model.NewStreamEnd("m1")))

	want := `{"type":"STREAM_END","message_id":"m1"}`
	require.Equal(t, []string{want}, a1.frames)
	require.Equal(t, []string{want}, a2.frames)
	require.Empty(t, b.frames)
}

func TestLeaveRemovesEmptyRoom(t *testing.T) {
	h := New(nil)
	s := &sink{}
	h.Join("a", s)
	require.Equal(t, 1, h.Count("a"))

	h.Leave("a", s)
	require.Equal(t, 0, h.Count("a"))
	require.Empty(t, h.rooms)

	h.Leave("missing", s)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := New(nil)
	ok, slow := &sink{}, &sink{full: true}
	h.Join("a", ok)
	h.Join("a", slow)

	require.NoError(t, h.Broadcast("a", model.NewChunkUpdate("m", "x", false)))

	require.Equal(t, 1, h.Count("a"))
	require.True(t, slow.closed)
	require.Len(t, ok.frames, 1)
}
