package store

import (
	"context"
	"sort"
	"sync"

	"insureflow/internal/client/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
)

// InMemoryStore keeps clients in a map. Returned values are deep copies.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	clients map[id.ClientID]*models.Client
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{clients: make(map[id.ClientID]*models.Client)}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = id.ClientID(s.nextID)
	s.clients[c.ID] = copyClient(c)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, clientID id.ClientID) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyClient(c), nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Client, 0, len(s.clients))
	for _, c := range s.clients {
		if filter.matches(c) {
			out = append(out, copyClient(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients), nil
}

func (s *InMemoryStore) Execute(_ context.Context, clientID id.ClientID, validate func(*models.Client) error, mutate func(*models.Client)) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := copyClient(c)
	if err := validate(cp); err != nil {
		return nil, err
	}
	mutate(cp)
	s.clients[clientID] = copyClient(cp)
	return cp, nil
}
