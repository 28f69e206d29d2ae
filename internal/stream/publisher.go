// Package stream publishes persisted chat messages to downstream consumers.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
)

// Config holds the Kafka settings.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Brokers    string `mapstructure:"brokers"`
	Topic      string `mapstructure:"topic"`
	Partitions int    `mapstructure:"partitions"`
}

// Publisher emits persisted messages. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, msgs ...domain.Message) error
	Close() error
}

// MessageEvent is the record value written for every persisted message.
type MessageEvent struct {
	Event   string         `json:"event"`
	Message domain.Message `json:"message"`
}

const EventMessageCreated = "chat.message_created"

// encode returns the record key and value for msg. Keying by room keeps a
// room's messages in one partition, in persist order.
func encode(msg domain.Message) ([]byte, []byte, error) {
	value, err := json.Marshal(MessageEvent{Event: EventMessageCreated, Message: msg})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal message event: %w", err)
	}
	return []byte(msg.RoomID), value, nil
}

// NopPublisher discards everything. It is used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...domain.Message) error { return nil }
func (NopPublisher) Close() error                                     { return nil }
