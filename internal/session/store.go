// Package session keeps per-conversation memory: the questions already asked
// (for repetition detection) and the recent question/answer turns.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hydrocare-rag/internal/config"
	"hydrocare-rag/internal/models"
)

// maxTurns bounds the turns kept per session.
const maxTurns = 50

// Store is safe for concurrent use.
type Store interface {
	// Resolve returns id when the session exists, or a freshly created
	// session ID (and created=true) when id is empty or unknown.
	Resolve(ctx context.Context, id string) (resolved string, created bool, err error)
	// RecordQuestion remembers key and reports whether it had been seen before.
	RecordQuestion(ctx context.Context, id, key string) (repeated bool, err error)
	AppendTurn(ctx context.Context, id string, turn models.Turn) error
	// History returns up to n most recent turns, oldest first.
	History(ctx context.Context, id string, n int) ([]models.Turn, error)
	// Reset forgets the session. Unknown IDs are not an error.
	Reset(ctx context.Context, id string) error
}

// New builds the backend selected by session.backend.
func New(cfg config.SessionConfig, redisCfg config.RedisConfig) (Store, error) {
	ttl := time.Duration(cfg.TTL) * time.Minute

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(ttl), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		return NewRedisStore(client, cfg.KeyPrefix, ttl), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func newID() string {
	return uuid.NewString()
}
