package room

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/weiawesome/wes-io-live/collab-service/internal/audit"
	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

// ErrReadNotSupported is returned by Recent for rooms without a read path.
var ErrReadNotSupported = errors.New("room kind does not support reads")

// Behavior is the kind-specific logic of a room. All methods are called
// from the actor goroutine only.
type Behavior interface {
	// Admit completes the identity of a connection joining the room. hint
	// carries whatever the handshake supplied.
	Admit(ctx context.Context, conn Conn, hint domain.Identity) domain.Identity
	OnJoin(ctx context.Context, s *Session) error
	OnLeave(ctx context.Context, s *Session) error
	Decode(data []byte) (domain.Inbound, error)
	Handle(ctx context.Context, s *Session, frame domain.Inbound) error
}

// Reader is implemented by behaviours that serve the plain read path.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]domain.Message, error)
}

// Factory builds the behaviour for a freshly created actor.
type Factory func(a *Actor) Behavior

type eventKind int

const (
	eventJoin eventKind = iota
	eventFrame
	eventLeave
	eventRead
)

func (k eventKind) String() string {
	switch k {
	case eventJoin:
		return "join"
	case eventFrame:
		return "frame"
	case eventLeave:
		return "leave"
	case eventRead:
		return "read"
	default:
		return "unknown"
	}
}

type readResult struct {
	messages []domain.Message
	err      error
}

type event struct {
	kind  eventKind
	conn  Conn
	data  []byte
	ctx   context.Context
	limit int
	reply chan readResult
}

// Actor is the single sequential owner of one room's in-memory state.
// Nothing it holds survives hibernation; connections live in the Host.
type Actor struct {
	kind     string
	roomID   string
	sessions *SessionTable
	bc       *Broadcaster
	behavior Behavior
	ctx      context.Context
	now      func() time.Time

	mailbox    chan event
	pending    atomic.Int64
	lastActive atomic.Int64
	quit       chan struct{}
	wake       chan struct{}
}

func newActor(kind, roomID string, mailboxSize int, now func() time.Time) *Actor {
	sessions := NewSessionTable()
	a := &Actor{
		kind:     kind,
		roomID:   roomID,
		sessions: sessions,
		bc:       NewBroadcaster(sessions),
		ctx:      log.WithLogger(context.Background(), log.ForRoom(kind, roomID)),
		now:      now,
		mailbox:  make(chan event, mailboxSize),
		quit:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
	a.touch()
	return a
}

func (a *Actor) Kind() string { return a.kind }

func (a *Actor) RoomID() string { return a.roomID }

// Sessions exposes the session table to the behaviour.
func (a *Actor) Sessions() *SessionTable { return a.sessions }

// Now returns the actor's clock reading.
func (a *Actor) Now() time.Time { return a.now() }

// Broadcast sends frame to every session except excludeID.
func (a *Actor) Broadcast(ctx context.Context, frame domain.Outbound, excludeID string) (int, error) {
	return a.bc.Broadcast(ctx, frame, excludeID)
}

// rehydrate restores sessions from connections admitted by an earlier
// incarnation of this room.
func (a *Actor) rehydrate(conns []Conn) int {
	n := 0
	for _, conn := range conns {
		identity := conn.Attachment()
		if !identity.Admitted() {
			continue
		}
		if _, added := a.sessions.Add(conn, identity); added {
			n++
		}
	}
	return n
}

func (a *Actor) touch() {
	a.lastActive.Store(a.now().UnixNano())
}

func (a *Actor) idleSince() time.Time {
	return time.Unix(0, a.lastActive.Load())
}

// run processes events until the manager closes quit, then drains whatever
// senders still have pending. The mailbox itself is never closed.
func (a *Actor) run() {
	for {
		select {
		case ev := <-a.mailbox:
			a.handle(ev)
		case <-a.quit:
			a.drain()
			return
		}
	}
}

func (a *Actor) drain() {
	for a.pending.Load() > 0 {
		select {
		case ev := <-a.mailbox:
			a.handle(ev)
		case <-a.wake:
		}
	}
}

func (a *Actor) handle(ev event) {
	a.process(ev)
	a.touch()
	a.pending.Add(-1)
}

// backOut withdraws a pending event that was never sent.
func (a *Actor) backOut() {
	a.pending.Add(-1)
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Actor) process(ev event) {
	defer func() {
		if r := recover(); r != nil {
			l := log.Ctx(a.ctx)
			l.Error().
				Interface("panic", r).
				Str("event", ev.kind.String()).
				Str("stack", string(debug.Stack())).
				Msg("room handler panicked")
			if ev.reply != nil {
				ev.reply <- readResult{err: fmt.Errorf("room handler panicked: %v", r)}
			}
		}
	}()

	switch ev.kind {
	case eventJoin:
		a.join(ev.conn)
	case eventFrame:
		a.frame(ev.conn, ev.data)
	case eventLeave:
		a.leave(ev.conn)
	case eventRead:
		msgs, err := a.read(ev.ctx, ev.limit)
		ev.reply <- readResult{messages: msgs, err: err}
	}
}

func (a *Actor) connCtx(conn Conn) context.Context {
	l := log.Ctx(a.ctx).With().Str(log.FieldConnID, conn.ID()).Logger()
	return log.WithLogger(a.ctx, l)
}

func (a *Actor) join(conn Conn) {
	ctx := a.connCtx(conn)
	l := log.Ctx(ctx)

	if _, ok := a.sessions.Get(conn.ID()); ok {
		l.Debug().Msg("connection already joined")
		return
	}

	identity := conn.Attachment()
	if !identity.Admitted() {
		identity = a.behavior.Admit(ctx, conn, identity)
		identity.JoinedAt = a.now()
		conn.SetAttachment(identity)
	}

	s, _ := a.sessions.Add(conn, identity)
	audit.LogWithDetail(ctx, audit.ActionJoin, identity.UserID, "connection joined room")

	if err := a.behavior.OnJoin(ctx, s); err != nil {
		l.Warn().Err(err).Msg("join handler failed")
	}
}

func (a *Actor) frame(conn Conn, data []byte) {
	ctx := a.connCtx(conn)
	l := log.Ctx(ctx)

	s, ok := a.sessions.Get(conn.ID())
	if !ok {
		identity := conn.Attachment()
		if !identity.Admitted() {
			l.Warn().Msg("frame from connection that never joined")
			return
		}
		s, _ = a.sessions.Add(conn, identity)
	}

	frame, err := a.behavior.Decode(data)
	if err != nil {
		l.Debug().Err(err).Msg("rejected malformed frame")
		if err := SendTo(conn, domain.NewErrorMessage(domain.ErrCodeInvalidFormat, "Invalid message format")); err != nil {
			l.Warn().Err(err).Msg("failed to send error frame")
		}
		return
	}

	fl := l.With().Str(log.FieldFrame, frame.FrameType()).Logger()
	if err := a.behavior.Handle(log.WithLogger(ctx, fl), s, frame); err != nil {
		fl.Warn().Err(err).Msg("frame handler failed")
	}
}

func (a *Actor) leave(conn Conn) {
	ctx := a.connCtx(conn)

	s, ok := a.sessions.Remove(conn.ID())
	if !ok {
		// The connection was detached before this incarnation rehydrated.
		identity := conn.Attachment()
		if !identity.Admitted() {
			return
		}
		s = &Session{Conn: conn, Identity: identity}
	}

	audit.LogWithDetail(ctx, audit.ActionLeave, s.Identity.UserID, "connection left room")
	if err := a.behavior.OnLeave(ctx, s); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("leave handler failed")
	}
}

func (a *Actor) read(ctx context.Context, limit int) ([]domain.Message, error) {
	r, ok := a.behavior.(Reader)
	if !ok {
		return nil, ErrReadNotSupported
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return r.Recent(log.WithLogger(ctx, log.Ctx(a.ctx)), limit)
}
