package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// Write satisfies the exchange's message writer; it is the direct, unqueued path.
func (r *MessageRepository) Write(ctx context.Context, message *model.Message) error {
	return r.Create(ctx, message)
}

// CreateIfAbsent inserts the message unless a row with the same id exists,
// which makes redelivered queue messages harmless.
func (r *MessageRepository) CreateIfAbsent(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListByChatID(ctx context.Context, chatID uuid.UUID) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentByChatID returns at most limit newest messages, oldest first.
// A non-positive limit returns the whole chat.
func (r *MessageRepository) ListRecentByChatID(ctx context.Context, chatID uuid.UUID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return r.ListByChatID(ctx, chatID)
	}

	messages := make([]model.Message, 0, limit)
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
