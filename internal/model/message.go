package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser  SenderType = "user"
	SenderAgent SenderType = "agent"
)

// Kind determines how a message is rendered and reconciled.
type Kind string

const (
	KindText     Kind = "text"
	KindThinking Kind = "thinking"
	KindToolUse  Kind = "tool_use"
	KindError    Kind = "error"
	KindAction   Kind = "action"
)

// Message represents one chat utterance or event.
type Message struct {
	ID         string     `json:"_id"`
	SenderType SenderType `json:"sender_type"`
	Content    string     `json:"content"`
	AuthorID   *string    `json:"author_id,omitempty"`
	CreatedAt  Timestamp  `json:"created_at"`
	Kind       Kind       `json:"type"`
	ToolName   *string    `json:"tool_name,omitempty"`

	// Client-side state, never sent over the wire.
	IsTemporary bool `json:"-"`
	IsStreaming bool `json:"-"`
	SendError   bool `json:"-"`
}

// MessageKey returns the identity used to deduplicate messages.
func MessageKey(m Message) string {
	return m.ID
}

// OutgoingMessage is the payload a client sends over the chat socket,
// and the body of the REST add-message fallback.
type OutgoingMessage struct {
	Content    string     `json:"content"`
	SenderType SenderType `json:"sender_type"`
}

// NewUserMessage builds the outbound payload for a user-authored message.
func NewUserMessage(content string) OutgoingMessage {
	return OutgoingMessage{Content: content, SenderType: SenderUser}
}

// Timestamp is a time that tolerates the zone-less ISO-8601 strings some
// backends emit. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, normalised to UTC.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{Time: t.UTC()}
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a zone.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatCursor renders t the way cursors and timestamps travel on the wire.
func FormatCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// String returns the wire form, or "" for the zero time.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return FormatCursor(t.Time)
}

// MarshalJSON encodes the zero time as null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts null, "" and zone-less timestamps.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
