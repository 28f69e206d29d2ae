package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context.
// If no logger is found, the global logger is returned.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// ForRoom returns a child of the global logger tagged with the room it serves.
func ForRoom(kind, roomID string) zerolog.Logger {
	return L().With().
		Str(FieldRoomKind, kind).
		Str(FieldRoomID, roomID).
		Logger()
}
