package cache

import (
	"context"
	"errors"
	"time"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// HistoryCacheResult wraps one cached history page.
type HistoryCacheResult struct {
	Page domain.HistoryPage `json:"page"`
}

// HistoryCache caches the newest (cursorless) history page per session.
// Cursored pages never enter the cache.
type HistoryCache interface {
	Get(ctx context.Context, key string) (*HistoryCacheResult, error)
	Set(ctx context.Context, key string, result *HistoryCacheResult, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	BuildKey(sessionID string) string
	Close() error
}
