package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spec-kit/campus-delivery/internal/domain"
)

// RedisOutbox queues outbound replies on a redis list for the transport
// adapter to consume (BRPOP on the same key).
type RedisOutbox struct {
	redis *Redis
	key   string
}

// NewRedisOutbox constructs the outbox on an existing client.
func NewRedisOutbox(redis *Redis, key string) *RedisOutbox {
	return &RedisOutbox{redis: redis, key: key}
}

// Enqueue pushes one reply onto the list.
func (o *RedisOutbox) Enqueue(ctx context.Context, reply domain.Reply) error {
	if o == nil || o.redis == nil || o.redis.Client == nil {
		return errors.New("outbox not configured")
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return o.redis.Client.LPush(ctx, o.key, payload).Err()
}
