package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list chunks are pushed to.
const DefaultRedisKey = "kukai:metrics"

// RedisOptions configure OpenRedisStore.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Key      string
	Timeout  time.Duration // per command; default 2s
}

// RedisStore appends each chunk body to a Redis list with RPUSH, so the list
// holds the raw payloads in arrival order.
type RedisStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, key string, timeout time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{client: client, key: key, timeout: timeout}
}

// OpenRedisStore connects and pings the server.
func OpenRedisStore(ctx context.Context, opt RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opt.Address,
		Password: opt.Password,
		DB:       opt.DB,
	})
	s := NewRedisStore(client, opt.Key, opt.Timeout)

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opt.Address, err)
	}
	return s, nil
}

func (s *RedisStore) Append(ctx context.Context, c Chunk) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.RPush(ctx, s.key, c.Body).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", s.key, err)
	}
	return nil
}

// Len reports the list length.
func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
