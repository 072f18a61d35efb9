package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// DefaultCacheKey is the Redis key holding the last imported trend batch.
const DefaultCacheKey = "trendpress:trends:latest"

// Cache keeps the most recent upstream trend batch so imports can proceed
// when the quota blocks another call.
type Cache interface {
	Get(ctx context.Context) ([]domain.Trend, bool, error)
	Put(ctx context.Context, trends []domain.Trend) error
}

// RedisCache stores the batch as JSON under a single key with a TTL.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// RedisConfig configures a RedisCache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	key := cfg.Key
	if key == "" {
		key = DefaultCacheKey
	}
	return &RedisCache{client: client, key: key, ttl: cfg.TTL}, nil
}

func (c *RedisCache) Get(ctx context.Context) ([]domain.Trend, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading trend cache: %w", err)
	}
	var trends []domain.Trend
	if err := json.Unmarshal(data, &trends); err != nil {
		return nil, false, fmt.Errorf("decoding trend cache: %w", err)
	}
	return trends, true, nil
}

func (c *RedisCache) Put(ctx context.Context, trends []domain.Trend) error {
	data, err := json.Marshal(trends)
	if err != nil {
		return fmt.Errorf("encoding trend cache: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing trend cache: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu       sync.Mutex
	trends   []domain.Trend
	storedAt time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryCache creates a MemoryCache. A zero ttl never expires.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context) ([]domain.Trend, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trends == nil {
		return nil, false, nil
	}
	if c.ttl > 0 && c.now().Sub(c.storedAt) > c.ttl {
		return nil, false, nil
	}
	return append([]domain.Trend(nil), c.trends...), true, nil
}

func (c *MemoryCache) Put(_ context.Context, trends []domain.Trend) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trends = append([]domain.Trend{}, trends...)
	c.storedAt = c.now()
	return nil
}
