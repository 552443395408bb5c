package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another exchange already owns the chat.
var ErrLockHeld = errors.New("chat exchange already in progress")

// releaseScript deletes the key only if it still carries our token, so a
// holder whose TTL lapsed cannot free a lock taken over by someone else.
var releaseScript = redisv9.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type ExchangeLock struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewExchangeLock(client *redisv9.Client, ttl time.Duration) *ExchangeLock {
	return &ExchangeLock{client: client, ttl: ttl}
}

// Acquire takes the chat's lock for at most ttl. The returned release func is
// safe to call more than once.
func (l *ExchangeLock) Acquire(ctx context.Context, chatID uuid.UUID) (func(), error) {
	key := lockKey(chatID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis acquire exchange lock failed: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

// MemoryExchangeLock serialises exchanges within one process.
type MemoryExchangeLock struct {
	mu   sync.Mutex
	held map[uuid.UUID]string
}

func NewMemoryExchangeLock() *MemoryExchangeLock {
	return &MemoryExchangeLock{held: make(map[uuid.UUID]string)}
}

func (l *MemoryExchangeLock) Acquire(_ context.Context, chatID uuid.UUID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[chatID]; busy {
		return nil, ErrLockHeld
	}
	token := uuid.NewString()
	l.held[chatID] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[chatID] == token {
				delete(l.held, chatID)
			}
		})
	}, nil
}
