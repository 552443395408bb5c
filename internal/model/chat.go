package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultChatName = "New Chat"

// Chat is a user-owned container for an ordered sequence of messages.
type Chat struct {
	ID          uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID     uuid.UUID `gorm:"type:varchar(36);not null;index:idx_chats_owner_created,priority:1" json:"owner_id"`
	DisplayName string    `gorm:"size:256;not null" json:"display_name"`
	CreatedAt   time.Time `gorm:"not null;index:idx_chats_owner_created,priority:2" json:"created_at"`
}

func (c *Chat) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.DisplayName == "" {
		c.DisplayName = DefaultChatName
	}
	return nil
}
