package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/weiawesome/wes-io-live/collab-service/internal/cassandra"
	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
)

// Schema for the messages_by_room table. Rows cluster newest first so the
// recent query reads a single partition slice.
const CassandraSchema = `
CREATE TABLE IF NOT EXISTS messages_by_room (
	room_id     text,
	created_at  timestamp,
	message_id  text,
	sender_id   text,
	content     text,
	reply_to_id text,
	PRIMARY KEY ((room_id), created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`

const insertMessageCQL = `
	INSERT INTO messages_by_room (
		room_id, created_at, message_id, sender_id, content, reply_to_id
	) VALUES (?, ?, ?, ?, ?, ?)`

// CassandraMessageRepository implements MessageRepository on Cassandra.
type CassandraMessageRepository struct {
	client *cassandra.Client
}

func NewCassandraMessageRepository(client *cassandra.Client) *CassandraMessageRepository {
	return &CassandraMessageRepository{client: client}
}

func (r *CassandraMessageRepository) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if err := validate(msg); err != nil {
		return domain.Message{}, err
	}

	msg = truncate(msg)
	err := r.client.Session().Query(insertMessageCQL,
		msg.RoomID,
		msg.CreatedAt,
		msg.ID,
		msg.SenderID,
		msg.Content,
		msg.ReplyToID,
	).WithContext(ctx).Exec()
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// AppendBatch writes all messages in one logged batch so they land together.
func (r *CassandraMessageRepository) AppendBatch(ctx context.Context, msgs []domain.Message) ([]domain.Message, error) {
	if len(msgs) == 0 {
		return []domain.Message{}, nil
	}

	session := r.client.Session()
	batch := session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	stored := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if err := validate(msg); err != nil {
			return nil, err
		}
		msg = truncate(msg)
		batch.Query(insertMessageCQL,
			msg.RoomID,
			msg.CreatedAt,
			msg.ID,
			msg.SenderID,
			msg.Content,
			msg.ReplyToID,
		)
		stored = append(stored, msg)
	}

	if err := session.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("failed to save message batch: %w", err)
	}
	return stored, nil
}

func (r *CassandraMessageRepository) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	query := `SELECT message_id, room_id, sender_id, content, reply_to_id, created_at
			  FROM messages_by_room
			  WHERE room_id = ?
			  LIMIT ?`

	iter := r.client.Session().Query(query, roomID, limit).WithContext(ctx).Iter()

	var (
		messages  []domain.Message
		msg       domain.Message
		replyTo   *string
		createdAt time.Time
	)
	for iter.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &replyTo, &createdAt) {
		msg.ReplyToID = replyTo
		msg.CreatedAt = createdAt.UTC()
		messages = append(messages, msg)
		msg = domain.Message{}
		replyTo = nil
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	if messages == nil {
		messages = []domain.Message{}
	}
	reverse(messages)
	return messages, nil
}

func (r *CassandraMessageRepository) Close() error {
	r.client.Close()
	return nil
}

// truncate drops sub-millisecond precision, which Cassandra timestamps
// cannot hold, so the stored message equals what a later read returns.
func truncate(msg domain.Message) domain.Message {
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Millisecond)
	return msg
}
