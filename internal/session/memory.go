package session

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"hydrocare-rag/internal/models"
)

type memorySession struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	turns []models.Turn
}

// MemoryStore keeps sessions in process memory with a sliding TTL.
type MemoryStore struct {
	cache *cache.Cache
	mu    sync.Mutex // serializes Resolve
}

// NewMemoryStore creates a store whose sessions expire after ttl without
// activity. A zero ttl keeps sessions until Reset.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	expiration := ttl
	cleanup := 10 * time.Minute
	if ttl <= 0 {
		expiration = cache.NoExpiration
		cleanup = 0
	}
	return &MemoryStore{cache: cache.New(expiration, cleanup)}
}

func (m *MemoryStore) get(id string) (*memorySession, bool) {
	x, found := m.cache.Get(id)
	if !found {
		return nil, false
	}
	s := x.(*memorySession)
	m.cache.Set(id, s, cache.DefaultExpiration)
	return s, true
}

func (m *MemoryStore) Resolve(_ context.Context, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if _, ok := m.get(id); ok {
			return id, false, nil
		}
	}

	id = newID()
	m.cache.Set(id, &memorySession{seen: make(map[string]struct{})}, cache.DefaultExpiration)
	return id, true, nil
}

func (m *MemoryStore) RecordQuestion(_ context.Context, id, key string) (bool, error) {
	s, ok := m.get(id)
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.seen[key]; seen {
		return true, nil
	}
	s.seen[key] = struct{}{}
	return false, nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, id string, turn models.Turn) error {
	s, ok := m.get(id)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	if len(s.turns) > maxTurns {
		s.turns = append([]models.Turn(nil), s.turns[len(s.turns)-maxTurns:]...)
	}
	return nil
}

func (m *MemoryStore) History(_ context.Context, id string, n int) ([]models.Turn, error) {
	s, ok := m.get(id)
	if !ok || n <= 0 {
		return []models.Turn{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	start := max(len(s.turns)-n, 0)
	return append([]models.Turn{}, s.turns[start:]...), nil
}

func (m *MemoryStore) Reset(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

// Len reports the number of live sessions.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}
