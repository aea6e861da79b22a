package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisHistoryCache implements HistoryCache on Redis.
type RedisHistoryCache struct {
	client *redis.Client
	prefix string
}

// NewRedisHistoryCache connects to Redis and verifies the connection.
func NewRedisHistoryCache(cfg RedisConfig, prefix string) (*RedisHistoryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisHistoryCache{client: client, prefix: prefix}, nil
}

// BuildKey returns the cache key of a session's newest history page.
func (c *RedisHistoryCache) BuildKey(sessionID string) string {
	return fmt.Sprintf("%s:history:%s", c.prefix, sessionID)
}

// Get fetches a cached page, ErrCacheMiss when absent.
func (c *RedisHistoryCache) Get(ctx context.Context, key string) (*HistoryCacheResult, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var result HistoryCacheResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &result, nil
}

// Set stores a page with a TTL.
func (c *RedisHistoryCache) Set(ctx context.Context, key string, result *HistoryCacheResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Delete drops keys; deleting absent keys is not an error.
func (c *RedisHistoryCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (c *RedisHistoryCache) Close() error {
	return c.client.Close()
}

var _ HistoryCache = (*RedisHistoryCache)(nil)
