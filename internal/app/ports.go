package app

import (
	"context"

	"github.com/google/uuid"

	"gopherchat/internal/model"
)

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

type ChatStore interface {
	Create(ctx context.Context, chat *model.Chat) error
	ListByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]model.Chat, error)
	GetByIDAndOwnerID(ctx context.Context, chatID, ownerID uuid.UUID) (*model.Chat, error)
}

type MessageStore interface {
	Create(ctx context.Context, message *model.Message) error
	ListByChatID(ctx context.Context, chatID uuid.UUID) ([]model.Message, error)
	ListRecentByChatID(ctx context.Context, chatID uuid.UUID, limit int) ([]model.Message, error)
}

// MessageWriter makes a message durable. The repository writes directly; the
// queue publisher hands it to the persist worker.
type MessageWriter interface {
	Write(ctx context.Context, message *model.Message) error
}

// HistoryCache holds a chat's ordered message list between reads. Lookup
// misses and Store does nothing while the chat is stale after Invalidate.
type HistoryCache interface {
	Lookup(ctx context.Context, chatID uuid.UUID) ([]model.Message, bool, error)
	Store(ctx context.Context, chatID uuid.UUID, messages []model.Message) error
	Invalidate(ctx context.Context, chatID uuid.UUID) error
}

// ExchangeLocker admits one exchange per chat at a time.
type ExchangeLocker interface {
	Acquire(ctx context.Context, chatID uuid.UUID) (func(), error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID uuid.UUID) (bool, error)
}
