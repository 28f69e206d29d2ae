package domain

import "time"

// Message is a persisted chat message. It is immutable once stored.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	ReplyToID *string   `json:"reply_to_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageDraft is a message as submitted by a client, before it is stored.
type MessageDraft struct {
	SenderID  string  `json:"sender_id"`
	Content   string  `json:"content"`
	ReplyToID *string `json:"reply_to_id,omitempty"`
}

// Point is one sampled position of a stroke.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is a whiteboard stroke. Strokes are never persisted; the id is only
// meaningful to clients of the current session.
type Stroke struct {
	ID       string  `json:"id"`
	Points   []Point `json:"points"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
	AuthorID string  `json:"authorId"`
}

// User is a whiteboard roster entry.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Identity is the per-connection attachment. It is stored on the connection
// itself so that it survives the room logic being hibernated.
type Identity struct {
	UserID   string
	Username string
	Color    string
	JoinedAt time.Time
}

// User returns the roster entry for the identity.
func (i Identity) User() User {
	return User{UserID: i.UserID, Username: i.Username, Color: i.Color}
}

// Admitted reports whether a room has accepted the connection.
func (i Identity) Admitted() bool {
	return !i.JoinedAt.IsZero()
}
