package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares idempotency keys between API replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) key(k string) string {
	return keyPrefix + k
}

func (r *RedisStore) Begin(ctx context.Context, key string) (json.RawMessage, error) {
	k := r.key(key)

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		data, err := r.client.Get(ctx, k).Bytes()
		if err == redis.Nil {
			raw, _ := json.Marshal(state{Status: statusProcessing})
			_, err := r.client.SetArgs(ctx, k, raw, redis.SetArgs{Mode: "NX", TTL: r.ttl}).Result()
			if err == redis.Nil {
				// lost the race to another replica; read its state
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redis set: %w", err)
			}
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis get: %w", err)
		}

		var st state
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("redis unmarshal: %w", err)
		}
		switch st.Status {
		case statusSuccess:
			return st.Result, nil
		case statusProcessing:
			return nil, ErrInProgress
		default:
			raw, _ := json.Marshal(state{Status: statusProcessing})
			if err := r.client.Set(ctx, k, raw, r.ttl).Err(); err != nil {
				return nil, fmt.Errorf("redis set: %w", err)
			}
			return nil, nil
		}
	}
}

func (r *RedisStore) Complete(ctx context.Context, key string, result json.RawMessage) error {
	raw, err := json.Marshal(state{Status: statusSuccess, Result: result})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), raw, r.ttl).Err()
}

func (r *RedisStore) Abort(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
