package room

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

// Broadcaster fans frames out to the sessions of one room.
type Broadcaster struct {
	sessions *SessionTable
}

func NewBroadcaster(sessions *SessionTable) *Broadcaster {
	return &Broadcaster{sessions: sessions}
}

// Broadcast serializes frame once and sends it to every session except
// excludeID. A failed send is logged and does not stop delivery to the
// others. It returns the number of sessions the frame was handed to.
func (b *Broadcaster) Broadcast(ctx context.Context, frame domain.Outbound, excludeID string) (int, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s frame: %w", frame.FrameType(), err)
	}

	l := log.Ctx(ctx)
	delivered := 0
	for _, s := range b.sessions.List() {
		if s.ID() == excludeID {
			continue
		}
		if err := s.Conn.Send(data); err != nil {
			l.Warn().Err(err).
				Str(log.FieldConnID, s.ID()).
				Str(log.FieldFrame, frame.FrameType()).
				Msg("broadcast send failed")
			continue
		}
		delivered++
	}
	return delivered, nil
}

// SendTo delivers frame to a single connection.
func SendTo(conn Conn, frame domain.Outbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", frame.FrameType(), err)
	}
	return conn.Send(data)
}
