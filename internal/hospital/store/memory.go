package store

import (
	"context"
	"sort"
	"sync"

	"insureflow/internal/hospital/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
)

// InMemoryStore keeps hospitals in a map. Returned values are copies.
type InMemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	hospitals map[id.HospitalID]*models.Hospital
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{hospitals: make(map[id.HospitalID]*models.Hospital)}
}

func (s *InMemoryStore) Create(_ context.Context, h *models.Hospital) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h.ID = id.HospitalID(s.nextID)
	cp := *h
	s.hospitals[h.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, hospitalID id.HospitalID) (*models.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hospitals[hospitalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context, verifiedOnly bool) ([]*models.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Hospital, 0, len(s.hospitals))
	for _, h := range s.hospitals {
		if verifiedOnly && !h.Verified {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hospitals), nil
}

// Execute validates and mutates one hospital under the store lock.
func (s *InMemoryStore) Execute(_ context.Context, hospitalID id.HospitalID, validate func(*models.Hospital) error, mutate func(*models.Hospital)) (*models.Hospital, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hospitals[hospitalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	work := *h
	if err := validate(&work); err != nil {
		return nil, err
	}
	mutate(&work)
	s.hospitals[hospitalID] = &work
	cp := work
	return &cp, nil
}
