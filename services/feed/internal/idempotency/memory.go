package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	done bool
	resp Response
}

// memoryStore is a development-only store. State is lost on restart and is
// not shared between instances. The oldest keys are evicted past capacity.
type memoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, memoryEntry]
}

func newMemoryStore(capacity int, ttl time.Duration) *memoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &memoryStore{cache: expirable.NewLRU[string, memoryEntry](capacity, nil, ttl)}
}

func (s *memoryStore) Reserve(_ context.Context, key string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache.Get(key); ok {
		if !e.done {
			return nil, ErrInFlight
		}
		resp := e.resp
		return &resp, nil
	}
	s.cache.Add(key, memoryEntry{})
	return nil, nil
}

func (s *memoryStore) Complete(_ context.Context, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(key, memoryEntry{done: true, resp: resp})
	return nil
}

func (s *memoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}
