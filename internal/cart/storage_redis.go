package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout     = 5 * time.Second
	readyAttempts   = 10
	readyBackoffMax = 5 * time.Second
)

type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage accepts either a redis:// URL or a bare host:port.
// Timeouts given as URL query parameters win over the defaults.
func NewRedisStorage(addr string) *RedisStorage {
	return &RedisStorage{client: redis.NewClient(redisOptions(addr))}
}

func redisOptions(addr string) *redis.Options {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = dialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = queryTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = queryTimeout
	}
	return opts
}

func NewRedisStorageFromClient(c *redis.Client) *RedisStorage {
	return &RedisStorage{client: c}
}

func (s *RedisStorage) Close() error { return s.client.Close() }

func (s *RedisStorage) Ping(ctx context.Context) error {
	return withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

// WaitReady pings until redis answers, backing off exponentially between
// attempts up to readyBackoffMax.
func (s *RedisStorage) WaitReady(ctx context.Context) error {
	backoff := 100 * time.Millisecond

	var err error
	for i := 0; i < readyAttempts; i++ {
		if err = s.Ping(ctx); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > readyBackoffMax {
			backoff = readyBackoffMax
		}
	}
	return fmt.Errorf("redis not ready after %d attempts: %w", readyAttempts, err)
}

func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		b, err := s.client.Get(ctx, key).Bytes()
		v = b
		return err
	})

	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *RedisStorage) Set(ctx context.Context, key string, value []byte) error {
	return withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, 0).Err()
	})
}
