package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	policy := DefaultRetryPolicy()
	dialErr := newError(CodeConnectFailed, errors.New("refused"))

	tests := []struct {
		name    string
		from    State
		ev      event
		want    Status
		attempt int
		chatID  string
		effects []effectKind
		errCode Code
	}{
		{
			name:    "connect started",
			from:    State{Status: StatusIdle},
			ev:      event{kind: evConnectStarted, chatID: "c1"},
			want:    StatusConnecting,
			chatID:  "c1",
			effects: []effectKind{effCancelReconnect},
		},
		{
			name:   "opened resets attempt",
			from:   State{Status: StatusConnecting, ChatID: "c1", ReconnectAttempt: 3},
			ev:     event{kind: evOpened},
			want:   StatusOpen,
			chatID: "c1",
		},
		{
			name:    "unclean close schedules first reconnect",
			from:    State{Status: StatusOpen, ChatID: "c1"},
			ev:      event{kind: evClosed, err: errors.New("eof")},
			want:    StatusClosedError,
			attempt: 1,
			chatID:  "c1",
			effects: []effectKind{effScheduleReconnect},
			errCode: CodeUncleanClose,
		},
		{
			name:    "unclean close after max attempts",
			from:    State{Status: StatusConnecting, ChatID: "c1", ReconnectAttempt: 5},
			ev:      event{kind: evClosed},
			want:    StatusClosedError,
			attempt: 5,
			chatID:  "c1",
			errCode: CodeReconnectExhausted,
		},
		{
			name:   "clean close",
			from:   State{Status: StatusOpen, ChatID: "c1"},
			ev:     event{kind: evClosed, clean: true},
			want:   StatusClosedClean,
			chatID: "c1",
		},
		{
			name:    "dial failure retries",
			from:    State{Status: StatusConnecting, ChatID: "c1", ReconnectAttempt: 2},
			ev:      event{kind: evConnectFailed, err: dialErr},
			want:    StatusClosedError,
			attempt: 3,
			chatID:  "c1",
			effects: []effectKind{effScheduleReconnect},
			errCode: CodeConnectFailed,
		},
		{
			name:    "timeout does not retry",
			from:    State{Status: StatusConnecting, ChatID: "c1"},
			ev:      event{kind: evConnectFailed, err: newError(CodeConnectTimeout, nil)},
			want:    StatusClosedError,
			chatID:  "c1",
			errCode: CodeConnectTimeout,
		},
		{
			name:    "missing token does not retry",
			from:    State{Status: StatusConnecting, ChatID: "c1"},
			ev:      event{kind: evConnectFailed, err: newError(CodeNoAuthToken, nil)},
			want:    StatusClosedError,
			chatID:  "c1",
			errCode: CodeNoAuthToken,
		},
		{
			name:    "disconnect from open",
			from:    State{Status: StatusOpen, ChatID: "c1", ReconnectAttempt: 2},
			ev:      event{kind: evDisconnectRequested},
			want:    StatusClosing,
			effects: []effectKind{effCancelReconnect},
		},
		{
			name:    "disconnect from idle stays idle",
			from:    State{Status: StatusIdle},
			ev:      event{kind: evDisconnectRequested},
			want:    StatusIdle,
			effects: []effectKind{effCancelReconnect},
		},
		{
			name: "disconnect completed",
			from: State{Status: StatusClosing},
			ev:   event{kind: evDisconnectCompleted},
			want: StatusClosedClean,
		},
		{
			name:   "late disconnect completion leaves a new connect alone",
			from:   State{Status: StatusConnecting, ChatID: "c2"},
			ev:     event{kind: evDisconnectCompleted},
			want:   StatusConnecting,
			chatID: "c2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects := transition(tt.from, tt.ev, policy)
			require.Equal(t, tt.want, got.Status)
			require.Equal(t, tt.attempt, got.ReconnectAttempt)
			require.Equal(t, tt.chatID, got.ChatID)

			kinds := make([]effectKind, 0, len(effects))
			for _, e := range effects {
				kinds = append(kinds, e.kind)
			}
			if tt.effects == nil {
				require.Empty(t, kinds)
			} else {
				require.Equal(t, tt.effects, kinds)
			}

			if tt.errCode == "" {
				require.NoError(t, got.LastError)
			} else {
				require.Equal(t, tt.errCode, CodeOf(got.LastError))
			}
		})
	}
}

func TestUncleanCloseWithoutChatDoesNotRetry(t *testing.T) {
	got, effects := transition(State{Status: StatusOpen}, event{kind: evClosed}, DefaultRetryPolicy())
	require.Equal(t, StatusClosedError, got.Status)
	require.Empty(t, effects)
}

func TestRetryPolicyDelays(t *testing.T) {
	p := DefaultRetryPolicy()
	for attempt, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
		5: 32 * time.Second,
		7: 60 * time.Second,
	} {
		require.Equal(t, want, p.NextDelay(attempt), "attempt %d", attempt)
	}
	require.True(t, p.ShouldRetry(5))
	require.False(t, p.ShouldRetry(6))
	require.False(t, p.ShouldRetry(0))
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "closed-clean", StatusClosedClean.String())
	require.Equal(t, "connecting", StatusConnecting.String())
}
