package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gopherchat/internal/model"
)

type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(ctx context.Context, chat *model.Chat) error {
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return fmt.Errorf("create chat failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) ListByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]model.Chat, error) {
	chats := make([]model.Chat, 0)
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats failed: %w", err)
	}
	return chats, nil
}

// GetByIDAndOwnerID returns nil, nil when the chat does not exist or belongs
// to another user.
func (r *ChatRepository) GetByIDAndOwnerID(ctx context.Context, chatID, ownerID uuid.UUID) (*model.Chat, error) {
	var chat model.Chat
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", chatID, ownerID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat failed: %w", err)
	}
	return &chat, nil
}
