// Package redisx holds the short-lived keys the service keeps next to the
// database: idempotency claims, dedup markers and read caches.
package redisx

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get for absent keys.
var ErrMiss = errors.New("redisx: key not found")

// Store is the subset of Redis the service uses.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

type Client struct {
	rdb *redis.Client
}

func New(addr string) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})}
}

func (c *Client) Ping(ctx context.Context) error {
	return pkgerrors.Wrap(c.rdb.Ping(ctx).Err(), "redis ping")
}

func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, pkgerrors.Wrapf(err, "redis get %s", key)
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return pkgerrors.Wrapf(c.rdb.Set(ctx, key, value, ttl).Err(), "redis set %s", key)
}

func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, pkgerrors.Wrapf(err, "redis setnx %s", key)
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return pkgerrors.Wrap(c.rdb.Del(ctx, keys...).Err(), "redis del")
}
