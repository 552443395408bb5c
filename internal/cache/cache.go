// Package cache holds the per-chat coordination state shared by API
// instances: the ordered history copy and its stale marker, the exchange
// lock, and the per-user rate window. Each has a Redis implementation and
// a go-cache stand-in for single-process runs with the same key layout.
package cache

import (
	"time"

	"github.com/google/uuid"
)

const (
	defaultHistoryTTL = 60 * time.Second
	defaultStaleTTL   = 5 * time.Second
)

// historyTTLs is how long a cached history copy and a stale marker live.
// The stale marker only needs to outlast the write that set it.
type historyTTLs struct {
	history time.Duration
	stale   time.Duration
}

func newHistoryTTLs(history, stale time.Duration) historyTTLs {
	if history <= 0 {
		history = defaultHistoryTTL
	}
	if stale <= 0 {
		stale = defaultStaleTTL
	}
	return historyTTLs{history: history, stale: stale}
}

func historyKey(chatID uuid.UUID) string {
	return "chat:" + chatID.String() + ":history"
}

func staleKey(chatID uuid.UUID) string {
	return "chat:" + chatID.String() + ":history:stale"
}

func lockKey(chatID uuid.UUID) string {
	return "chat:" + chatID.String() + ":exchange"
}

func rateKey(userID uuid.UUID) string {
	return "ratelimit:" + userID.String()
}
