package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hydrocare-rag/internal/models"
)

// RedisStore shares sessions between API instances. Each session uses three
// keys: a marker, a set of seen question keys and a list of JSON turns.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore uses prefix for every key. A zero ttl disables expiry.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) markerKey(id string) string { return r.prefix + id }
func (r *RedisStore) seenKey(id string) string   { return r.prefix + id + ":seen" }
func (r *RedisStore) turnsKey(id string) string  { return r.prefix + id + ":turns" }

func (r *RedisStore) touch(ctx context.Context, pipe redis.Pipeliner, id string) {
	if r.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, r.markerKey(id), r.ttl)
	pipe.Expire(ctx, r.seenKey(id), r.ttl)
	pipe.Expire(ctx, r.turnsKey(id), r.ttl)
}

func (r *RedisStore) Resolve(ctx context.Context, id string) (string, bool, error) {
	if id != "" {
		n, err := r.client.Exists(ctx, r.markerKey(id)).Result()
		if err != nil {
			return "", false, fmt.Errorf("session lookup failed: %w", err)
		}
		if n > 0 {
			_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				r.touch(ctx, pipe, id)
				return nil
			})
			if err != nil {
				return "", false, fmt.Errorf("session refresh failed: %w", err)
			}
			return id, false, nil
		}
	}

	id = newID()
	if err := r.client.Set(ctx, r.markerKey(id), time.Now().UTC().Format(time.RFC3339), r.ttl).Err(); err != nil {
		return "", false, fmt.Errorf("session create failed: %w", err)
	}
	return id, true, nil
}

func (r *RedisStore) RecordQuestion(ctx context.Context, id, key string) (bool, error) {
	var added *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, r.seenKey(id), key)
		r.touch(ctx, pipe, id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record question failed: %w", err)
	}
	return added.Val() == 0, nil
}

func (r *RedisStore) AppendTurn(ctx context.Context, id string, turn models.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.turnsKey(id), data)
		pipe.LTrim(ctx, r.turnsKey(id), -maxTurns, -1)
		r.touch(ctx, pipe, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turn failed: %w", err)
	}
	return nil
}

func (r *RedisStore) History(ctx context.Context, id string, n int) ([]models.Turn, error) {
	if n <= 0 {
		return []models.Turn{}, nil
	}

	raw, err := r.client.LRange(ctx, r.turnsKey(id), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history lookup failed: %w", err)
	}

	turns := make([]models.Turn, 0, len(raw))
	for _, item := range raw {
		var t models.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("corrupt turn in session %s: %w", id, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (r *RedisStore) Reset(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.markerKey(id), r.seenKey(id), r.turnsKey(id)).Err(); err != nil {
		return fmt.Errorf("session reset failed: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
