package room

import (
	"sort"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
)

// Conn is a live client connection as seen by room logic. Connections are
// owned by the connection manager and outlive any single actor.
type Conn interface {
	ID() string
	Send(data []byte) error
	Attachment() domain.Identity
	SetAttachment(domain.Identity)
}

// Session is one admitted connection.
type Session struct {
	Conn     Conn
	Identity domain.Identity
}

// ID returns the connection id.
func (s *Session) ID() string { return s.Conn.ID() }

// SessionTable maps live connection ids to their sessions. It is owned by a
// single actor and is not safe for concurrent use.
type SessionTable struct {
	sessions map[string]*Session
}

func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*Session)}
}

// Add registers conn with identity. Adding a connection that is already
// present is a no-op and returns the existing session with false.
func (t *SessionTable) Add(conn Conn, identity domain.Identity) (*Session, bool) {
	if s, ok := t.sessions[conn.ID()]; ok {
		return s, false
	}
	s := &Session{Conn: conn, Identity: identity}
	t.sessions[conn.ID()] = s
	return s, true
}

// Remove deletes the session for connID and returns it.
func (t *SessionTable) Remove(connID string) (*Session, bool) {
	s, ok := t.sessions[connID]
	if ok {
		delete(t.sessions, connID)
	}
	return s, ok
}

func (t *SessionTable) Get(connID string) (*Session, bool) {
	s, ok := t.sessions[connID]
	return s, ok
}

func (t *SessionTable) Len() int {
	return len(t.sessions)
}

// List returns sessions ordered by join time, then connection id.
func (t *SessionTable) List() []*Session {
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Identity.JoinedAt.Equal(b.Identity.JoinedAt) {
			return a.Identity.JoinedAt.Before(b.Identity.JoinedAt)
		}
		return a.ID() < b.ID()
	})
	return out
}

// Users returns the roster in join order.
func (t *SessionTable) Users() []domain.User {
	sessions := t.List()
	users := make([]domain.User, 0, len(sessions))
	for _, s := range sessions {
		users = append(users, s.Identity.User())
	}
	return users
}
