package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"

	"gopherchat/internal/model"
)

// storeIfFresh writes the history copy unless a writer marked the chat stale
// since the caller read the database.
var storeIfFresh = redisv9.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// HistoryCache keeps a chat's ordered message list in Redis. Any write to the
// chat calls Invalidate first, and the stale marker it leaves keeps readers
// on the database until it expires.
type HistoryCache struct {
	client *redisv9.Client
	ttl    historyTTLs
}

func NewHistoryCache(client *redisv9.Client, historyTTL, staleTTL time.Duration) *HistoryCache {
	return &HistoryCache{client: client, ttl: newHistoryTTLs(historyTTL, staleTTL)}
}

// Lookup returns the cached list, reporting a miss while the chat is stale.
// The marker and the copy come back in one round trip.
func (c *HistoryCache) Lookup(ctx context.Context, chatID uuid.UUID) ([]model.Message, bool, error) {
	pipe := c.client.Pipeline()
	stale := pipe.Exists(ctx, staleKey(chatID))
	cached := pipe.Get(ctx, historyKey(chatID))
	if _, err := pipe.Exec(ctx); err != nil && err != redisv9.Nil {
		return nil, false, fmt.Errorf("redis history lookup failed: %w", err)
	}
	if stale.Val() > 0 || cached.Err() == redisv9.Nil {
		return nil, false, nil
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(cached.Val()), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

// Store caches messages. It is a no-op while the chat is stale.
func (c *HistoryCache) Store(ctx context.Context, chatID uuid.UUID, messages []model.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	keys := []string{historyKey(chatID), staleKey(chatID)}
	if err := storeIfFresh.Run(ctx, c.client, keys, payload, c.ttl.history.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis store history failed: %w", err)
	}
	return nil
}

// Invalidate marks the chat stale and drops the cached copy atomically.
func (c *HistoryCache) Invalidate(ctx context.Context, chatID uuid.UUID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.Set(ctx, staleKey(chatID), "1", c.ttl.stale)
		pipe.Del(ctx, historyKey(chatID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate history failed: %w", err)
	}
	return nil
}

