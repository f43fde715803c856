package connection

import (
	"errors"
	"fmt"
)

// Code classifies connection failures.
type Code string

const (
	CodeNoAuthToken        Code = "no-auth-token"
	CodeConnectTimeout     Code = "connect-timeout"
	CodeConnectFailed      Code = "connect-failed"
	CodeConnectCancelled   Code = "connect-cancelled"
	CodeSocketError        Code = "socket-error"
	CodeUncleanClose       Code = "unclean-close"
	CodeReconnectExhausted Code = "reconnect-exhausted"
	CodeSendException      Code = "send-exception"
	CodeParseError         Code = "parse-error"
)

// Error is a connection failure. errors.Is matches on Code.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrNoAuthToken        = &Error{Code: CodeNoAuthToken}
	ErrConnectTimeout     = &Error{Code: CodeConnectTimeout}
	ErrConnectFailed      = &Error{Code: CodeConnectFailed}
	ErrConnectCancelled   = &Error{Code: CodeConnectCancelled}
	ErrSocketError        = &Error{Code: CodeSocketError}
	ErrUncleanClose       = &Error{Code: CodeUncleanClose}
	ErrReconnectExhausted = &Error{Code: CodeReconnectExhausted}
	ErrSendException      = &Error{Code: CodeSendException}
	ErrParseError         = &Error{Code: CodeParseError}
)

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf returns the outermost connection error code in err, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var (
	errNoChat     = errors.New("no chat selected")
	errSuperseded = errors.New("connect attempt superseded")
	errClosed     = errors.New("connection closed")
)
