package connection

import (
	"fmt"
	"time"
)

// Status is the lifecycle phase of the chat socket.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
	StatusClosedClean
	StatusClosedError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosedClean:
		return "closed-clean"
	case StatusClosedError:
		return "closed-error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// State is the observable connection state.
type State struct {
	Status           Status
	ChatID           string
	ReconnectAttempt int
	LastError        error
}

type eventKind int

const (
	evConnectStarted eventKind = iota
	evOpened
	evConnectFailed
	evClosed
	evDisconnectRequested
	evDisconnectCompleted
)

type event struct {
	kind   eventKind
	chatID string
	clean  bool
	err    error
}

type effectKind int

const (
	effScheduleReconnect effectKind = iota
	effCancelReconnect
)

type effect struct {
	kind    effectKind
	delay   time.Duration
	attempt int
}

// transition is the connection state machine. It has no side effects; the
// returned effects are carried out by the Manager.
func transition(s State, ev event, policy RetryPolicy) (State, []effect) {
	switch ev.kind {
	case evConnectStarted:
		s.Status = StatusConnecting
		s.ChatID = ev.chatID
		s.LastError = nil
		return s, []effect{{kind: effCancelReconnect}}

	case evOpened:
		s.Status = StatusOpen
		s.ReconnectAttempt = 0
		s.LastError = nil
		return s, nil

	case evConnectFailed:
		if CodeOf(ev.err) == CodeConnectFailed {
			// Dial errors behave like an unclean close of the half-open socket.
			return uncleanClose(s, ev.err, policy)
		}
		s.Status = StatusClosedError
		s.LastError = ev.err
		return s, nil

	case evClosed:
		if ev.clean {
			s.Status = StatusClosedClean
			s.LastError = nil
			return s, nil
		}
		return uncleanClose(s, newError(CodeUncleanClose, ev.err), policy)

	case evDisconnectRequested:
		if s.Status != StatusIdle {
			s.Status = StatusClosing
		}
		s.ChatID = ""
		s.ReconnectAttempt = 0
		s.LastError = nil
		return s, []effect{{kind: effCancelReconnect}}

	case evDisconnectCompleted:
		if s.Status == StatusClosing {
			s.Status = StatusClosedClean
		}
		return s, nil
	}
	return s, nil
}

func uncleanClose(s State, cause error, policy RetryPolicy) (State, []effect) {
	s.Status = StatusClosedError
	if s.ChatID == "" {
		s.LastError = cause
		return s, nil
	}
	next := s.ReconnectAttempt + 1
	if !policy.ShouldRetry(next) {
		s.LastError = newError(CodeReconnectExhausted, cause)
		return s, nil
	}
	s.ReconnectAttempt = next
	s.LastError = cause
	return s, []effect{{kind: effScheduleReconnect, delay: policy.NextDelay(next), attempt: next}}
}
