package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	submissionKeyPrefix = "submission:"
	changeChannelPrefix = "docstore:changed:"
	idempotencyKeyTTL   = 24 * time.Hour
)

// RedisAdapter guards receipt submissions against double posting and
// carries change signals between service instances.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = idempotencyKeyTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, submissionKeyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, submissionKeyPrefix+key).Err()
}

func (r *RedisAdapter) Publish(ctx context.Context, collection string) error {
	return r.client.Publish(ctx, changeChannelPrefix+collection, "changed").Err()
}

func (r *RedisAdapter) Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	pubsub := r.client.Subscribe(ctx, changeChannelPrefix+collection)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range pubsub.Channel() {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	return out, func() { pubsub.Close() }, nil
}
