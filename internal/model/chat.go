// Package model defines the chat wire types shared by the sync client and
// the reference backend.
package model

// Chat is the summary shown in the chat list.
type Chat struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Subtitle  string    `json:"subtitle,omitempty"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`

	// Denormalised preview of the newest message.
	LatestMessageContent   string    `json:"latest_message_content,omitempty"`
	LatestMessageTimestamp Timestamp `json:"latest_message_timestamp"`
}

// ChatKey returns the identity used to deduplicate chats.
func ChatKey(c Chat) string {
	return c.ID
}

// ChatDetails is a chat together with its most recent messages.
type ChatDetails struct {
	Chat
	Messages []Message `json:"messages"`
}

// CreateChatRequest is the request to create a new chat.
type CreateChatRequest struct {
	Name *string `json:"name,omitempty"`
}

// UpdateChatRequest is the patch applied by PATCH /chats/{id}.
type UpdateChatRequest struct {
	Name     *string `json:"name,omitempty"`
	Subtitle *string `json:"subtitle,omitempty"`
}

// Page is one page of a cursor-paginated listing, newest first.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor_timestamp"`
	HasMore    bool    `json:"has_more"`
}

// NewPage builds a page; an empty cursor is encoded as null.
func NewPage[T any](items []T, cursor string, hasMore bool) Page[T] {
	if items == nil {
		items = []T{}
	}
	p := Page[T]{Items: items, HasMore: hasMore}
	if cursor != "" {
		p.NextCursor = &cursor
	}
	return p
}

// Cursor returns the next cursor, or "" when there is none.
func (p Page[T]) Cursor() string {
	if p.NextCursor == nil {
		return ""
	}
	return *p.NextCursor
}

// Envelope wraps every REST response body.
type Envelope[T any] struct {
	Success *bool  `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// ErrorBody is the body of a failed REST response.
type ErrorBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}
