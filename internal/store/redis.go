// ABOUTME: Redis backend for conversation blobs using go-redis
// ABOUTME: Each blob is a plain string key holding the JSON collection

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures the Redis backend
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisStore is a Backend storing each blob under a Redis key
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection with a ping
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	logger := slog.Default().With("component", "store")

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Redis store initialized", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{client: client, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an existing client without pinging it
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, logger: slog.Default().With("component", "store")}
}

// Blob returns the blob stored under key
func (s *RedisStore) Blob(key string) Blob {
	return &redisBlob{store: s, key: key}
}

// Ping checks that Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	s.logger.Info("closing Redis store")
	return s.client.Close()
}

type redisBlob struct {
	store *RedisStore
	key   string
}

func (b *redisBlob) Load(ctx context.Context) ([]byte, error) {
	data, err := b.store.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob %s: %w", b.key, err)
	}
	return data, nil
}

func (b *redisBlob) Save(ctx context.Context, data []byte) error {
	if err := b.store.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("setting blob %s: %w", b.key, err)
	}
	b.store.logger.Debug("saved blob", "key", b.key, "size", len(data))
	return nil
}

var _ Backend = (*RedisStore)(nil)
