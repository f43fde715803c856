package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type discriminators used on the chat socket.
const (
	FrameTypeMessageUpdate = "MESSAGE_UPDATE"
	FrameTypeStreamEnd     = "STREAM_END"
)

// ErrMalformedFrame is returned for socket payloads that cannot be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// FrameKind tells which variant a Frame holds.
type FrameKind int

const (
	FrameMessage FrameKind = iota
	FrameChunk
	FrameStreamEnd
)

func (k FrameKind) String() string {
	switch k {
	case FrameMessage:
		return "message"
	case FrameChunk:
		return "chunk"
	case FrameStreamEnd:
		return "stream_end"
	default:
		return "unknown"
	}
}

// ChunkUpdate appends streamed content to an existing message.
type ChunkUpdate struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Chunk     string `json:"chunk"`
	IsError   bool   `json:"is_error"`
}

// NewChunkUpdate builds a MESSAGE_UPDATE frame.
func NewChunkUpdate(messageID, chunk string, isError bool) ChunkUpdate {
	return ChunkUpdate{Type: FrameTypeMessageUpdate, MessageID: messageID, Chunk: chunk, IsError: isError}
}

// StreamEnd marks the end of a streamed message.
type StreamEnd struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// NewStreamEnd builds a STREAM_END frame.
func NewStreamEnd(messageID string) StreamEnd {
	return StreamEnd{Type: FrameTypeStreamEnd, MessageID: messageID}
}

// Frame is one decoded inbound socket payload.
type Frame struct {
	Kind    FrameKind
	Message Message
	Chunk   ChunkUpdate
	End     StreamEnd
}

// DecodeFrame parses a socket payload into one of the three frame variants.
func DecodeFrame(data []byte) (Frame, error) {
	var probe struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch probe.Type {
	case FrameTypeMessageUpdate:
		var u ChunkUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if u.MessageID == "" {
			return Frame{}, fmt.Errorf("%w: MESSAGE_UPDATE without message_id", ErrMalformedFrame)
		}
		return Frame{Kind: FrameChunk, Chunk: u}, nil

	case FrameTypeStreamEnd:
		if probe.MessageID == "" {
			return Frame{}, fmt.Errorf("%w: STREAM_END without message_id", ErrMalformedFrame)
		}
		return Frame{Kind: FrameStreamEnd, End: NewStreamEnd(probe.MessageID)}, nil
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if m.ID == "" {
		return Frame{}, fmt.Errorf("%w: message without _id", ErrMalformedFrame)
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	return Frame{Kind: FrameMessage, Message: m}, nil
}
