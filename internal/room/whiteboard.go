package room

import (
	"context"
	"fmt"
	"strings"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/internal/idgen"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

const (
	KindWhiteboard = "whiteboard"

	DefaultUsername = "Anonymous"
)

// DefaultPalette is used when no palette is configured.
var DefaultPalette = []string{
	"#E53935", "#1E88E5", "#43A047", "#FB8C00",
	"#8E24AA", "#00ACC1", "#F4511E", "#3949AB",
}

// WhiteboardDeps are the collaborators shared by every whiteboard room.
type WhiteboardDeps struct {
	UserIDs idgen.Generator
	Palette []string
}

// NewWhiteboardFactory returns a Factory for whiteboard rooms. Whiteboards
// keep nothing beyond the roster: strokes are relayed, never stored.
func NewWhiteboardFactory(deps WhiteboardDeps) Factory {
	if len(deps.Palette) == 0 {
		deps.Palette = DefaultPalette
	}
	if deps.UserIDs == nil {
		deps.UserIDs, _ = idgen.NewNanoIDGenerator(idgen.DefaultNanoIDSize, idgen.DefaultNanoIDAlphabet)
	}
	return func(a *Actor) Behavior {
		return &whiteboardRoom{actor: a, deps: deps}
	}
}

type whiteboardRoom struct {
	actor *Actor
	deps  WhiteboardDeps
}

// Admit fills in any identity the handshake left out.
func (w *whiteboardRoom) Admit(ctx context.Context, conn Conn, hint domain.Identity) domain.Identity {
	identity := hint
	if strings.TrimSpace(identity.UserID) == "" {
		id, err := w.deps.UserIDs.Generate()
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("failed to generate user id, falling back to connection id")
			id = conn.ID()
		}
		identity.UserID = id
	}
	if strings.TrimSpace(identity.Username) == "" {
		identity.Username = DefaultUsername
	}
	if strings.TrimSpace(identity.Color) == "" {
		identity.Color = w.pickColor()
	}
	return identity
}

// pickColor returns the palette colour used by the fewest current users,
// preferring earlier palette entries on ties.
func (w *whiteboardRoom) pickColor() string {
	used := make(map[string]int, len(w.deps.Palette))
	for _, s := range w.actor.Sessions().List() {
		used[s.Identity.Color]++
	}
	best := w.deps.Palette[0]
	for _, c := range w.deps.Palette[1:] {
		if used[c] < used[best] {
			best = c
		}
	}
	return best
}

func (w *whiteboardRoom) OnJoin(ctx context.Context, s *Session) error {
	users := w.actor.Sessions().Users()
	welcome := domain.NewWhiteboardWelcome(s.Identity.UserID, users, w.actor.RoomID())
	if err := SendTo(s.Conn, welcome); err != nil {
		return fmt.Errorf("failed to send welcome: %w", err)
	}
	_, err := w.actor.Broadcast(ctx, domain.NewUserJoined(s.Identity.User(), users), s.ID())
	return err
}

func (w *whiteboardRoom) OnLeave(ctx context.Context, s *Session) error {
	users := w.actor.Sessions().Users()
	_, err := w.actor.Broadcast(ctx, domain.NewUserLeft(s.Identity.UserID, users), "")
	return err
}

func (w *whiteboardRoom) Decode(data []byte) (domain.Inbound, error) {
	return domain.DecodeWhiteboard(data)
}

func (w *whiteboardRoom) Handle(ctx context.Context, s *Session, frame domain.Inbound) error {
	userID := s.Identity.UserID

	var (
		out     domain.Outbound
		exclude string
	)
	switch f := frame.(type) {
	case *domain.Draw:
		stroke := *f.Stroke
		stroke.AuthorID = userID
		out, exclude = domain.NewDrawOut(stroke, userID), s.ID()
	case *domain.Cursor:
		out, exclude = domain.NewCursorOut(s.Identity.User(), *f.X, *f.Y), s.ID()
	case *domain.Clear:
		out = domain.NewClearOut(userID)
	case *domain.Undo:
		out = domain.NewUndoOut(f.StrokeID, userID)
	default:
		return fmt.Errorf("unexpected whiteboard frame %s", frame.FrameType())
	}

	_, err := w.actor.Broadcast(ctx, out, exclude)
	return err
}
