package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

type Message struct {
	ID         uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID     uuid.UUID `gorm:"type:varchar(36);not null;index:idx_messages_chat_created,priority:1" json:"chat_id"`
	Role       Role      `gorm:"size:16;not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `gorm:"not null;index:idx_messages_chat_created,priority:2" json:"created_at"`
	AccessedAt time.Time `gorm:"not null" json:"accessed_at"`
}

func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if !m.Role.Valid() {
		return ErrInvalidRole
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.AccessedAt.IsZero() {
		m.AccessedAt = m.CreatedAt
	}
	return nil
}
