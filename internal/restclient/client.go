// Package restclient implements the typed REST client for the chat backend.
// It never retries; callers decide what to do with an *APIError.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// PageParams selects one page of a listing. Zero values are omitted.
type PageParams struct {
	Limit  int
	Before string
}

func (p PageParams) query() url.Values {
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Before != "" {
		q.Set("before_timestamp", p.Before)
	}
	return q
}

// Client talks to the /chats REST endpoints.
type Client struct {
	baseURL string
	creds   auth.CredentialProvider
	http    *http.Client
	logger  *logger.Logger
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the backend rooted at baseURL. creds may be nil.
func New(baseURL string, creds auth.CredentialProvider, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.NewNop(),
		tracer:  otel.Tracer("restclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListChats returns one page of the caller's chats, newest first.
func (c *Client) ListChats(ctx context.Context, p PageParams) (model.Page[model.Chat], error) {
	return doJSON[model.Page[model.Chat]](ctx, c, "list_chats", http.MethodGet, "/chats/", p.query(), nil)
}

// GetChat returns a chat together with its most recent messages.
func (c *Client) GetChat(ctx context.Context, chatID string) (model.ChatDetails, error) {
	return doJSON[model.ChatDetails](ctx, c, "get_chat", http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, nil)
}

// GetMessages returns one page of a chat's messages, newest first.
func (c *Client) GetMessages(ctx context.Context, chatID string, p PageParams) (model.Page[model.Message], error) {
	return doJSON[model.Page[model.Message]](ctx, c, "get_messages", http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", p.query(), nil)
}

// CreateChat creates a chat. An empty name lets the backend pick one.
func (c *Client) CreateChat(ctx context.Context, name string) (model.Chat, error) {
	req := model.CreateChatRequest{}
	if name != "" {
		req.Name = &name
	}
	return doJSON[model.Chat](ctx, c, "create_chat", http.MethodPost, "/chats/", nil, req)
}

// UpdateChat applies a metadata patch.
func (c *Client) UpdateChat(ctx context.Context, chatID string, patch model.UpdateChatRequest) (model.Chat, error) {
	return doJSON[model.Chat](ctx, c, "update_chat", http.MethodPatch, "/chats/"+url.PathEscape(chatID), nil, patch)
}

// AddMessage posts a message over REST. It is the fallback path when no
// socket is available.
func (c *Client) AddMessage(ctx context.Context, chatID string, msg model.OutgoingMessage) (model.Message, error) {
	return doJSON[model.Message](ctx, c, "add_message", http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", nil, msg)
}

func doJSON[T any](ctx context.Context, c *Client, op, method, path string, query url.Values, body any) (T, error) {
	var out T

	ctx, span := c.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	defer span.End()

	start := time.Now()
	data, err := c.roundTrip(ctx, method, path, query, body)
	if err == nil {
		err = decodeEnvelope(data, &out)
	}

	status := "ok"
	if err != nil {
		status = CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		c.logger.Warn("chat api request failed",
			zap.String("operation", op),
			zap.String("path", path),
			zap.Error(err),
		)
	}
	metrics.RecordREST(op, status, time.Since(start).Seconds())

	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Message: "failed to encode request", Code: CodeUnknown, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &APIError{Message: "failed to build request", Code: CodeUnknown, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.creds != nil {
		token, err := c.creds.AccessToken(ctx)
		if err != nil {
			return nil, &APIError{Message: "failed to obtain access token", Code: CodeCredentialsUnavailable, Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &APIError{Message: "request was aborted", Code: CodeAborted, Err: err}
		}
		return nil, &APIError{Message: "network error", Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &APIError{Message: "request was aborted", Code: CodeAborted, HTTPStatus: resp.StatusCode, Err: err}
		}
		return nil, &APIError{Message: "failed to read response", Code: CodeNetwork, HTTPStatus: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}

func statusError(status int, data []byte) error {
	apiErr := &APIError{
		Message:    http.StatusText(status),
		Code:       CodeUnknown,
		HTTPStatus: status,
	}
	if status == http.StatusUnauthorized {
		apiErr.Code = CodeUnauthenticated
	}

	var body model.ErrorBody
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		}
		if body.ErrorCode != "" {
			apiErr.Code = body.ErrorCode
		}
	}
	return apiErr
}

func decodeEnvelope[T any](data []byte, out *T) error {
	var env model.Envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return &APIError{Message: "invalid JSON in response", Code: CodeInvalidResponse, Err: err}
	}
	if env.Success == nil {
		return &APIError{Message: "response is missing the success field", Code: CodeInvalidResponseStructure}
	}
	if !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		return &APIError{Message: msg, Code: CodeRequestFailed}
	}
	*out = env.Data
	return nil
}
