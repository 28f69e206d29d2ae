// Package repository stores chat messages.
package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
)

// ErrInvalidMessage is returned for a message missing its id, room or sender.
var ErrInvalidMessage = errors.New("invalid message")

// MessageRepository persists chat messages. Implementations must be safe
// for concurrent use by many rooms.
type MessageRepository interface {
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)
	// AppendBatch stores all messages or none.
	AppendBatch(ctx context.Context, msgs []domain.Message) ([]domain.Message, error)
	// Recent returns up to limit of the newest messages of a room, oldest first.
	Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	Close() error
}

func validate(msg domain.Message) error {
	if msg.ID == "" || msg.RoomID == "" || msg.SenderID == "" {
		return ErrInvalidMessage
	}
	return nil
}

// reverse flips newest-first query results into oldest-first order.
func reverse(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
