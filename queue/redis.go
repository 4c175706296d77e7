package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"github.com/redis/go-redis/v9"
)

var _ Queue = (*Redis)(nil)

// Redis is a Queue over Redis lists. Producers LPUSH, the worker
// RPOPs, so each list behaves as a FIFO.
type Redis struct {
	client *redis.Client
}

// NewRedis returns a Redis queue using the provided client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Pop implements [Queue].
func (r *Redis) Pop(ctx context.Context, name string) (*Message, error) {
	b, err := r.client.RPop(ctx, name).Bytes()
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, redis.Nil):
		return nil, ErrEmpty
	default:
		return nil, fmt.Errorf("queue: pop %q: %w", name, err)
	}
	return &Message{
		ID:    uuid.New(),
		Queue: name,
		Body:  b,
	}, nil
}

// Push implements [Queue].
func (r *Redis) Push(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: encode payload: %w", err)
	}
	if err := r.client.LPush(ctx, name, b).Err(); err != nil {
		return fmt.Errorf("queue: push %q: %w", name, err)
	}
	return nil
}

// invalidationPrefix keys the per-package analysis cache kept by the
// web tier.
const invalidationPrefix = "watchtower:pkg:"

// Invalidator deletes cached per-package state after analysis writes.
type Invalidator struct {
	client *redis.Client
}

// NewInvalidator returns an Invalidator using the provided client.
func NewInvalidator(client *redis.Client) *Invalidator {
	return &Invalidator{client: client}
}

// InvalidatePackage drops the cache key for name.
func (i *Invalidator) InvalidatePackage(ctx context.Context, name string) error {
	key := invalidationPrefix + name
	n, err := i.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("queue: invalidate %q: %w", key, err)
	}
	if n > 0 {
		zlog.Debug(ctx).
			Str("key", key).
			Msg("package cache invalidated")
	}
	return nil
}
