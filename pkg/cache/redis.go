package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address  string
	Password string
	Database int

	// Prefix is prepended to all keys (e.g., "beamflow:cache:")
	Prefix string

	// TTL is the time-to-live for entries (0 = no expiration)
	TTL time.Duration

	Timeout  time.Duration
	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "beamflow:cache:",
		TTL:      7 * 24 * time.Hour,
		Timeout:  5 * time.Second,
		PoolSize: 10,
	}
}

// RedisBackend stores entries in Redis.
type RedisBackend struct {
	cfg    RedisConfig
	client redis.Cmdable
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) key(key string) string {
	return b.cfg.Prefix + key
}

func (b *RedisBackend) metaKey(key string) string {
	return b.cfg.Prefix + "meta:" + key
}

// Get reads an entry.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to read cache entry from Redis: %w", err)
	}
	return data, nil
}

// Put writes the entry and its metadata hash in one pipeline.
func (b *RedisBackend) Put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.key(key), data, b.cfg.TTL)
	if len(meta) > 0 {
		fields := make([]string, 0, 2*len(meta))
		for k, v := range meta {
			fields = append(fields, k, v)
		}
		pipe.HSet(ctx, b.metaKey(key), fields)
		if b.cfg.TTL > 0 {
			pipe.Expire(ctx, b.metaKey(key), b.cfg.TTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save cache entry to Redis: %w", err)
	}
	return nil
}

// Delete removes an entry and its metadata.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Del(ctx, b.key(key), b.metaKey(key)).Err()
}

// List scans the keys under prefix, skipping metadata hashes.
func (b *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	meta := b.cfg.Prefix + "meta:"
	for {
		batch, next, err := b.client.Scan(ctx, cursor, b.key(prefix)+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan Redis keys: %w", err)
		}
		for _, k := range batch {
			if strings.HasPrefix(k, meta) {
				continue
			}
			keys = append(keys, strings.TrimPrefix(k, b.cfg.Prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}
