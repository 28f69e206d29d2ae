// Package registry records which instance owns a live room.
package registry

import (
	"context"
	"errors"
)

// ErrOwnedElsewhere is returned by Claim when another instance holds the room.
var ErrOwnedElsewhere = errors.New("room is owned by another instance")

// Registry guarantees at most one live actor per room across instances.
type Registry interface {
	// Claim takes ownership of the room. Claiming a room this instance
	// already owns succeeds.
	Claim(ctx context.Context, kind, roomID string) error
	// Release gives up ownership. Releasing a room owned by another
	// instance is a no-op.
	Release(ctx context.Context, kind, roomID string) error
	// Lookup returns the owner of the room, or "" when unowned.
	Lookup(ctx context.Context, kind, roomID string) (string, error)
	// OnLost registers fn to be called when a lease on a room of kind is
	// found to belong to someone else. fn must not block.
	OnLost(kind string, fn func(roomID string))
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}
