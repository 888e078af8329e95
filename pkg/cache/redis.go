package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces keys written by Redis.
const DefaultRedisPrefix = "geodoh:"

// Redis stores records as JSON strings without expiry.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ Cache = &Redis{}

// NewRedis wraps client. An empty prefix selects DefaultRedisPrefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: error connecting to redis at %s: %w", addr, err)
	}

	return NewRedis(client, prefix), nil
}

// Get implements Cache.
func (c *Redis) Get(ctx context.Context, key string) (*Record, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchKey, key)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get %q: %w", key, err)
	}

	return unmarshal(key, data)
}

// Put implements Cache.
func (c *Redis) Put(ctx context.Context, key string, rec *Record) error {
	data, err := marshal(rec)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("cache: redis set %q: %w", key, err)
	}

	return nil
}

// Close closes the underlying client.
func (c *Redis) Close() error {
	return c.client.Close()
}
