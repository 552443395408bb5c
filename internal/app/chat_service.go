package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gopherchat/internal/model"
)

const maxDisplayNameLen = 256

type ChatService struct {
	chats ChatStore
}

func NewChatService(chats ChatStore) *ChatService {
	return &ChatService{chats: chats}
}

func (s *ChatService) ListChats(ctx context.Context, userID uuid.UUID) ([]model.Chat, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	return s.chats.ListByOwnerID(ctx, userID)
}

// CreateChat starts an empty chat. A blank display name falls back to the
// default one.
func (s *ChatService) CreateChat(ctx context.Context, userID uuid.UUID, displayName string) (*model.Chat, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthorized
	}

	name := strings.TrimSpace(displayName)
	if len(name) > maxDisplayNameLen {
		return nil, ErrInvalidInput
	}

	chat := &model.Chat{
		OwnerID:     userID,
		DisplayName: name,
	}
	if err := s.chats.Create(ctx, chat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if chat.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: chat insert returned no id", ErrInternal)
	}
	return chat, nil
}

func (s *ChatService) GetChat(ctx context.Context, userID uuid.UUID, chatID string) (*model.Chat, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}
	return ownedChat(ctx, s.chats, userID, id)
}

// parseChatID accepts only the canonical hyphenated form. uuid.Parse also
// takes braced, urn-prefixed and bare hex ids, which would give one chat
// several valid paths.
func parseChatID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 36 {
		return uuid.Nil, ErrInvalidInput
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidInput
	}
	return id, nil
}

// ownedChat hides chats of other users behind the same error as missing ones.
func ownedChat(ctx context.Context, chats ChatStore, userID, chatID uuid.UUID) (*model.Chat, error) {
	chat, err := chats.GetByIDAndOwnerID(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}
