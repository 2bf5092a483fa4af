package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "chatter:interactions"

// RedisRecorder keeps entries in a Redis list, oldest first.
type RedisRecorder struct {
	client *redis.Client
	key    string
}

func NewRedisRecorder(client *redis.Client, key string) *RedisRecorder {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisRecorder{client: client, key: key}
}

func (r *RedisRecorder) AppendInteraction(ctx context.Context, e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := r.client.RPush(ctx, r.key, val).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (r *RedisRecorder) LoadInteractions(ctx context.Context) ([]Entry, error) {
	vals, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	entries := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisRecorder) Close() error {
	return r.client.Close()
}
