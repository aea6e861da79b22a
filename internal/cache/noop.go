package cache

import (
	"context"
	"time"
)

// NoopHistoryCache misses on every read. Used when Redis is disabled so the
// message service never branches on cache availability.
type NoopHistoryCache struct{}

// NewNoopHistoryCache creates a NoopHistoryCache.
func NewNoopHistoryCache() *NoopHistoryCache { return &NoopHistoryCache{} }

func (NoopHistoryCache) Get(ctx context.Context, key string) (*HistoryCacheResult, error) {
	return nil, ErrCacheMiss
}

func (NoopHistoryCache) Set(ctx context.Context, key string, result *HistoryCacheResult, ttl time.Duration) error {
	return nil
}

func (NoopHistoryCache) Delete(ctx context.Context, keys ...string) error { return nil }

func (NoopHistoryCache) BuildKey(sessionID string) string { return "history:" + sessionID }

func (NoopHistoryCache) Close() error { return nil }

var _ HistoryCache = (*NoopHistoryCache)(nil)
