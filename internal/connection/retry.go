package connection

import (
	"math"
	"time"
)

// RetryPolicy controls reconnects after an unclean close.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns 5 attempts waiting 2s, 4s, 8s, 16s and 32s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
	}
}

// ShouldRetry reports whether attempt (1-indexed) is still allowed.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt >= 1 && attempt <= p.MaxAttempts
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}
