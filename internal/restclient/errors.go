package restclient

import (
	"errors"
	"fmt"
)

// Error codes produced locally. Server-provided error_code values are passed
// through unchanged.
const (
	CodeNetwork                  = "NETWORK_ERROR"
	CodeAborted                  = "REQUEST_ABORTED"
	CodeInvalidResponse          = "INVALID_RESPONSE"
	CodeInvalidResponseStructure = "INVALID_RESPONSE_STRUCTURE"
	CodeUnauthenticated          = "UNAUTHENTICATED"
	CodeRequestFailed            = "REQUEST_FAILED"
	CodeCredentialsUnavailable   = "CREDENTIALS_UNAVAILABLE"
	CodeUnknown                  = "UNKNOWN_ERROR"
)

// APIError is the typed failure of a REST call.
type APIError struct {
	Message    string
	Code       string
	HTTPStatus int
	Err        error
}

func (e *APIError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *APIError) Unwrap() error { return e.Err }

// Is matches another *APIError by code.
func (e *APIError) Is(target error) bool {
	var t *APIError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the APIError code carried by err, or "".
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
