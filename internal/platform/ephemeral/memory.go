package ephemeral

import (
	"bytes"
	"context"
	"sync"
	"time"

	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/requestcontext"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-instance runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return sentinel.ErrConflict
	}
	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, key string) ([]byte, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.entries, key)
	if !now.Before(e.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Peek(ctx context.Context, key string) ([]byte, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) TakeIfEqual(ctx context.Context, key string, value []byte) error {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) || !bytes.Equal(e.value, value) {
		return sentinel.ErrNotFound
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
