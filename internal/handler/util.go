package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/service"
	"github.com/capitalize-ai/chatsync/internal/store"
)

// Error codes sent in the error_code field.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeChatNotFound = "CHAT_NOT_FOUND"
	CodeForbidden    = "FORBIDDEN"
	CodeInternal     = "INTERNAL_ERROR"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData wraps v in a success envelope.
func writeData[T any](w http.ResponseWriter, status int, v T) {
	ok := true
	writeJSON(w, status, model.Envelope[T]{Success: &ok, Data: v})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	middleware.WriteError(w, status, code, message)
}

// writeStoreError maps service and store failures onto HTTP responses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeChatNotFound, "chat not found")
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, CodeForbidden, "chat belongs to another user")
	case errors.Is(err, service.ErrInvalidSender):
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

// parsePage reads limit and before_timestamp from the query string.
func parsePage(r *http.Request) (store.Query, error) {
	q := store.Query{Limit: defaultPageSize}
	values := r.URL.Query()

	if s := values.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 || limit > maxPageSize {
			return store.Query{}, errors.New("limit must be between 1 and 100")
		}
		q.Limit = limit
	}

	if s := values.Get("before_timestamp"); s != "" {
		before, err := model.ParseTimestamp(s)
		if err != nil {
			return store.Query{}, errors.New("before_timestamp must be an ISO-8601 timestamp")
		}
		q.Before = before
	}
	return q, nil
}
