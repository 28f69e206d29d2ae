package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	RoomID    string    `gorm:"type:varchar(128);index:idx_messages_room_created,priority:1;not null"`
	SenderID  string    `gorm:"type:varchar(128);not null"`
	Content   string    `gorm:"type:text;not null"`
	ReplyToID *string   `gorm:"type:varchar(36)"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2;not null"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

func (m *MessageModel) toDomain() domain.Message {
	return domain.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		ReplyToID: m.ReplyToID,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func messageToModel(msg domain.Message) *MessageModel {
	return &MessageModel{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		ReplyToID: msg.ReplyToID,
		CreatedAt: msg.CreatedAt,
	}
}

// GormMessageRepository implements MessageRepository on a SQL database.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Migrate creates or updates the messages table.
func (r *GormMessageRepository) Migrate() error {
	return r.db.AutoMigrate(&MessageModel{})
}

func (r *GormMessageRepository) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	l := log.Ctx(ctx)

	if err := validate(msg); err != nil {
		return domain.Message{}, err
	}

	model := messageToModel(msg)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, msg.RoomID).Msg("failed to insert message")
		return domain.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return model.toDomain(), nil
}

func (r *GormMessageRepository) AppendBatch(ctx context.Context, msgs []domain.Message) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	if len(msgs) == 0 {
		return []domain.Message{}, nil
	}

	models := make([]*MessageModel, 0, len(msgs))
	for _, msg := range msgs {
		if err := validate(msg); err != nil {
			return nil, err
		}
		models = append(models, messageToModel(msg))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models).Error
	})
	if err != nil {
		l.Error().Err(err).Int("count", len(msgs)).Msg("failed to insert message batch")
		return nil, fmt.Errorf("failed to insert message batch: %w", err)
	}

	stored := make([]domain.Message, len(models))
	for i, m := range models {
		stored[i] = m.toDomain()
	}
	return stored, nil
}

func (r *GormMessageRepository) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to query recent messages")
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}

	msgs := make([]domain.Message, len(models))
	for i := range models {
		msgs[i] = models[i].toDomain()
	}
	reverse(msgs)
	return msgs, nil
}

// Close releases the pooled connections.
func (r *GormMessageRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
