package store

import (
	"context"
	"sort"
	"sync"

	"insureflow/internal/claim/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
)

// InMemoryStore keeps claims in a map. Returned values are copies.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	claims  map[id.ClaimID]*models.Claim
	numbers map[string]id.ClaimID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		claims:  make(map[id.ClaimID]*models.Claim),
		numbers: make(map[string]id.ClaimID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.numbers[c.ClaimNumber]; taken {
		return sentinel.ErrConflict
	}
	s.nextID++
	c.ID = id.ClaimID(s.nextID)
	cp := *c
	s.claims[c.ID] = &cp
	s.numbers[c.ClaimNumber] = c.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, claimID id.ClaimID) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[claimID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Claim, 0, len(s.claims))
	for _, c := range s.claims {
		if filter.matches(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReferencesInsured reports whether any claim was filed for insuredID.
func (s *InMemoryStore) ReferencesInsured(_ context.Context, insuredID id.InsuredPersonID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.claims {
		if c.InsuredPersonID == insuredID {
			return true, nil
		}
	}
	return false, nil
}

// Stats aggregates all claims, or those of one hospital when hospitalID is set.
func (s *InMemoryStore) Stats(_ context.Context, hospitalID id.HospitalID) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := models.Stats{ByStatus: make(map[models.Status]int)}
	for _, c := range s.claims {
		if hospitalID.IsNil() || c.HospitalID == hospitalID {
			stats.Add(c.Status, 1, c.Amount)
		}
	}
	return stats, nil
}

func (s *InMemoryStore) Execute(_ context.Context, claimID id.ClaimID, mutate func(*models.Claim) error) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[claimID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	stored := cp
	s.claims[claimID] = &stored
	return &cp, nil
}
