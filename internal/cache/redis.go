package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fraudwatch/internal/fraud"
)

// ErrMiss reports that no bundle is cached.
var ErrMiss = errors.New("cache: no bundle cached")

// BundleCache stores the most recent analytics bundle for display collaborators.
type BundleCache interface {
	Publish(ctx context.Context, data *fraud.FraudAnalyticsData) error
	Latest(ctx context.Context) (*fraud.FraudAnalyticsData, error)
}

// RedisCache keeps the latest bundle under a single key and announces
// each publication on "<key>:updates".
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// NewRedisCache connects and pings Redis.
func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("cache key is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, key: opts.Key, ttl: opts.TTL}, nil
}

// Publish stores the bundle and notifies subscribers with its run id.
func (c *RedisCache) Publish(ctx context.Context, data *fraud.FraudAnalyticsData) error {
	if data == nil {
		return fmt.Errorf("publish nil bundle")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key, payload, c.ttl)
	pipe.Publish(ctx, c.UpdatesChannel(), data.RunID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish bundle: %w", err)
	}
	return nil
}

// Latest returns the cached bundle or ErrMiss.
func (c *RedisCache) Latest(ctx context.Context) (*fraud.FraudAnalyticsData, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get bundle: %w", err)
	}

	var data fraud.FraudAnalyticsData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &data, nil
}

// UpdatesChannel names the pub/sub channel announcing new bundles.
func (c *RedisCache) UpdatesChannel() string {
	return c.key + ":updates"
}

// Close releases the client.
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

var _ BundleCache = (*RedisCache)(nil)
