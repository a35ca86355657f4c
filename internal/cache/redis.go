package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "listsync:price"

// Redis is the production cache backend.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisConfig holds connection settings for the Redis cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Redis{client: client, keyPrefix: defaultKeyPrefix, ttl: ttl}, nil
}

func (r *Redis) key(itemID string) string {
	return r.keyPrefix + ":" + itemID
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, itemID string) (Entry, error) {
	data, err := r.client.Get(ctx, r.key(itemID)).Bytes()
	if err == redis.Nil {
		return Entry{}, ErrCacheMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("cache get %s: %w", itemID, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is as good as a miss; drop it.
		r.client.Del(ctx, r.key(itemID))
		return Entry{}, ErrCacheMiss
	}
	return entry, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, itemID string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", itemID, err)
	}
	return r.client.Set(ctx, r.key(itemID), data, r.ttl).Err()
}

// Delete implements Cache.
func (r *Redis) Delete(ctx context.Context, itemID string) error {
	return r.client.Del(ctx, r.key(itemID)).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
