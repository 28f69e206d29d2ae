package domain

// Outbound is a frame sent to clients. Like Inbound, the set of
// implementations is closed to this package.
type Outbound interface {
	FrameType() string
	outbound()
}

// Chat -> client frames

type ChatWelcome struct {
	Type        string `json:"type"`
	Connections int    `json:"connections"`
}

type ConnectionsUpdate struct {
	Type        string `json:"type"`
	Connections int    `json:"connections"`
}

type NewMessage struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// ErrorMessage is shared by both room kinds. Remaining and RetryAfter are
// only set for RATE_LIMITED.
type ErrorMessage struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Remaining  *int   `json:"remaining,omitempty"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

// Whiteboard -> client frames

type WhiteboardWelcome struct {
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	Users        []User `json:"users"`
	WhiteboardID string `json:"whiteboardId"`
}

type UserJoined struct {
	Type  string `json:"type"`
	User  User   `json:"user"`
	Users []User `json:"users"`
}

type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Users  []User `json:"users"`
}

type DrawOut struct {
	Type   string `json:"type"`
	Stroke Stroke `json:"stroke"`
	UserID string `json:"userId"`
}

type CursorOut struct {
	Type     string  `json:"type"`
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Color    string  `json:"color"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type ClearOut struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type UndoOut struct {
	Type     string `json:"type"`
	StrokeID string `json:"strokeId"`
	UserID   string `json:"userId"`
}

func (*ChatWelcome) FrameType() string       { return TypeWelcome }
func (*ConnectionsUpdate) FrameType() string { return TypeConnectionsUpdate }
func (*NewMessage) FrameType() string        { return TypeNewMessage }
func (*ErrorMessage) FrameType() string      { return TypeError }
func (*WhiteboardWelcome) FrameType() string { return TypeWelcome }
func (*UserJoined) FrameType() string        { return TypeUserJoined }
func (*UserLeft) FrameType() string          { return TypeUserLeft }
func (*DrawOut) FrameType() string           { return TypeDraw }
func (*CursorOut) FrameType() string         { return TypeCursor }
func (*ClearOut) FrameType() string          { return TypeClear }
func (*UndoOut) FrameType() string           { return TypeUndo }

func (*ChatWelcome) outbound()       {}
func (*ConnectionsUpdate) outbound() {}
func (*NewMessage) outbound()        {}
func (*ErrorMessage) outbound()      {}
func (*WhiteboardWelcome) outbound() {}
func (*UserJoined) outbound()        {}
func (*UserLeft) outbound()          {}
func (*DrawOut) outbound()           {}
func (*CursorOut) outbound()         {}
func (*ClearOut) outbound()          {}
func (*UndoOut) outbound()           {}

func NewChatWelcome(connections int) *ChatWelcome {
	return &ChatWelcome{Type: TypeWelcome, Connections: connections}
}

func NewConnectionsUpdate(connections int) *ConnectionsUpdate {
	return &ConnectionsUpdate{Type: TypeConnectionsUpdate, Connections: connections}
}

func NewNewMessage(msg Message) *NewMessage {
	return &NewMessage{Type: TypeNewMessage, Message: msg}
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    TypeError,
		Code:    code,
		Message: message,
	}
}

// NewRateLimitedMessage reports a rejected send together with the quota
// left and the number of seconds until a slot frees up.
func NewRateLimitedMessage(remaining, retryAfter int) *ErrorMessage {
	return &ErrorMessage{
		Type:       TypeError,
		Code:       ErrCodeRateLimited,
		Message:    "Rate limit exceeded",
		Remaining:  &remaining,
		RetryAfter: &retryAfter,
	}
}

func NewWhiteboardWelcome(userID string, users []User, whiteboardID string) *WhiteboardWelcome {
	return &WhiteboardWelcome{Type: TypeWelcome, UserID: userID, Users: users, WhiteboardID: whiteboardID}
}

func NewUserJoined(user User, users []User) *UserJoined {
	return &UserJoined{Type: TypeUserJoined, User: user, Users: users}
}

func NewUserLeft(userID string, users []User) *UserLeft {
	return &UserLeft{Type: TypeUserLeft, UserID: userID, Users: users}
}

func NewDrawOut(stroke Stroke, userID string) *DrawOut {
	return &DrawOut{Type: TypeDraw, Stroke: stroke, UserID: userID}
}

func NewCursorOut(user User, x, y float64) *CursorOut {
	return &CursorOut{Type: TypeCursor, UserID: user.UserID, Username: user.Username, Color: user.Color, X: x, Y: y}
}

func NewClearOut(userID string) *ClearOut {
	return &ClearOut{Type: TypeClear, UserID: userID}
}

func NewUndoOut(strokeID, userID string) *UndoOut {
	return &UndoOut{Type: TypeUndo, StrokeID: strokeID, UserID: userID}
}
