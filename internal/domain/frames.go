package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Frame types for the chat room.
const (
	TypeSendMessage       = "send_message"
	TypeBatchMessages     = "batch_messages"
	TypeWelcome           = "welcome"
	TypeNewMessage        = "new_message"
	TypeConnectionsUpdate = "connections_update"
	TypeError             = "error"
)

// Frame types for the whiteboard room.
const (
	TypeDraw       = "draw"
	TypeCursor     = "cursor"
	TypeClear      = "clear"
	TypeUndo       = "undo"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
)

// Error codes
const (
	ErrCodeInvalidFormat = "INVALID_FORMAT"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ErrInvalidFormat is returned by the decoders for any frame that cannot be
// parsed or misses a required field.
var ErrInvalidFormat = errors.New("invalid frame format")

// Inbound is a frame received from a client. The set of implementations is
// closed: only types in this package satisfy it.
type Inbound interface {
	FrameType() string
	inbound()
}

// BaseMessage is the base structure for all websocket frames.
type BaseMessage struct {
	Type string `json:"type"`
}

// Limits bounds the size of chat frames.
type Limits struct {
	MaxContentLength int
	MaxBatchSize     int
}

// Chat inbound frames

type SendMessage struct {
	MessageDraft
}

type BatchMessages struct {
	Messages []MessageDraft `json:"messages"`
}

func (*SendMessage) FrameType() string   { return TypeSendMessage }
func (*BatchMessages) FrameType() string { return TypeBatchMessages }
func (*SendMessage) inbound()            {}
func (*BatchMessages) inbound()          {}

// Whiteboard inbound frames

type Draw struct {
	Stroke *Stroke `json:"stroke"`
}

type Cursor struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type Clear struct{}

type Undo struct {
	StrokeID string `json:"strokeId"`
}

func (*Draw) FrameType() string   { return TypeDraw }
func (*Cursor) FrameType() string { return TypeCursor }
func (*Clear) FrameType() string  { return TypeClear }
func (*Undo) FrameType() string   { return TypeUndo }
func (*Draw) inbound()            {}
func (*Cursor) inbound()          {}
func (*Clear) inbound()           {}
func (*Undo) inbound()            {}

// DecodeChat parses a chat frame and validates its required fields.
func DecodeChat(data []byte, limits Limits) (Inbound, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	switch base.Type {
	case TypeSendMessage:
		var msg SendMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if err := validateDraft(msg.MessageDraft, limits); err != nil {
			return nil, err
		}
		return &msg, nil

	case TypeBatchMessages:
		var msg BatchMessages
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if len(msg.Messages) == 0 {
			return nil, fmt.Errorf("%w: batch is empty", ErrInvalidFormat)
		}
		if limits.MaxBatchSize > 0 && len(msg.Messages) > limits.MaxBatchSize {
			return nil, fmt.Errorf("%w: batch exceeds %d messages", ErrInvalidFormat, limits.MaxBatchSize)
		}
		for i, draft := range msg.Messages {
			if err := validateDraft(draft, limits); err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidFormat, base.Type)
	}
}

// DecodeWhiteboard parses a whiteboard frame and validates its required fields.
func DecodeWhiteboard(data []byte) (Inbound, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	switch base.Type {
	case TypeDraw:
		var msg Draw
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if msg.Stroke == nil || msg.Stroke.ID == "" || len(msg.Stroke.Points) == 0 {
			return nil, fmt.Errorf("%w: stroke requires id and points", ErrInvalidFormat)
		}
		return &msg, nil

	case TypeCursor:
		var msg Cursor
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if msg.X == nil || msg.Y == nil {
			return nil, fmt.Errorf("%w: cursor requires x and y", ErrInvalidFormat)
		}
		return &msg, nil

	case TypeClear:
		return &Clear{}, nil

	case TypeUndo:
		var msg Undo
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if msg.StrokeID == "" {
			return nil, fmt.Errorf("%w: undo requires strokeId", ErrInvalidFormat)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidFormat, base.Type)
	}
}

func validateDraft(d MessageDraft, limits Limits) error {
	if strings.TrimSpace(d.SenderID) == "" {
		return fmt.Errorf("%w: sender_id is required", ErrInvalidFormat)
	}
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidFormat)
	}
	if limits.MaxContentLength > 0 && utf8.RuneCountInString(d.Content) > limits.MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidFormat, limits.MaxContentLength)
	}
	return nil
}
