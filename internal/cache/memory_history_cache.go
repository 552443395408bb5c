package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"gopherchat/internal/model"
)

// MemoryHistoryCache is HistoryCache for a single process. The mutex makes
// Store's stale check and write one step, as the Lua script does in Redis.
type MemoryHistoryCache struct {
	mu    sync.Mutex
	store *gocache.Cache
	ttl   historyTTLs
}

func NewMemoryHistoryCache(historyTTL, staleTTL time.Duration) *MemoryHistoryCache {
	ttl := newHistoryTTLs(historyTTL, staleTTL)
	return &MemoryHistoryCache{
		store: gocache.New(ttl.history, 10*time.Minute),
		ttl:   ttl,
	}
}

func (c *MemoryHistoryCache) Lookup(_ context.Context, chatID uuid.UUID) ([]model.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, stale := c.store.Get(staleKey(chatID)); stale {
		return nil, false, nil
	}
	x, found := c.store.Get(historyKey(chatID))
	if !found {
		return nil, false, nil
	}
	return cloneMessages(x.([]model.Message)), true, nil
}

func (c *MemoryHistoryCache) Store(_ context.Context, chatID uuid.UUID, messages []model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, stale := c.store.Get(staleKey(chatID)); stale {
		return nil
	}
	c.store.Set(historyKey(chatID), cloneMessages(messages), c.ttl.history)
	return nil
}

func (c *MemoryHistoryCache) Invalidate(_ context.Context, chatID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Set(staleKey(chatID), true, c.ttl.stale)
	c.store.Delete(historyKey(chatID))
	return nil
}

// cloneMessages keeps callers from mutating the cached slice.
func cloneMessages(in []model.Message) []model.Message {
	out := make([]model.Message, len(in))
	copy(out, in)
	return out
}
