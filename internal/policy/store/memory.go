package store

import (
	"context"
	"sort"
	"sync"

	"insureflow/internal/policy/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
)

// InMemoryStore keeps policies and insured persons in maps. Returned values are copies.
type InMemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	nextInsured int64
	policies    map[id.PolicyID]*models.Policy
	numbers     map[string]id.PolicyID
	insured     map[id.InsuredPersonID]*models.InsuredPerson
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		policies: make(map[id.PolicyID]*models.Policy),
		numbers:  make(map[string]id.PolicyID),
		insured:  make(map[id.InsuredPersonID]*models.InsuredPerson),
	}
}

func (s *InMemoryStore) Create(_ context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.numbers[p.PolicyNumber]; taken {
		return sentinel.ErrConflict
	}
	s.nextID++
	p.ID = id.PolicyID(s.nextID)
	cp := *p
	s.policies[p.ID] = &cp
	s.numbers[p.PolicyNumber] = p.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, policyID id.PolicyID) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[policyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if filter.matches(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Execute(_ context.Context, policyID id.PolicyID, validate func(*models.Policy) error, mutate func(*models.Policy)) (*models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[policyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	if err := validate(&cp); err != nil {
		return nil, err
	}
	mutate(&cp)
	stored := cp
	s.policies[policyID] = &stored
	return &cp, nil
}

func (s *InMemoryStore) AddInsured(_ context.Context, p *models.InsuredPerson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.PolicyID]; !ok {
		return sentinel.ErrNotFound
	}
	s.nextInsured++
	p.ID = id.InsuredPersonID(s.nextInsured)
	s.insured[p.ID] = copyInsured(p)
	return nil
}

func (s *InMemoryStore) FindInsured(_ context.Context, insuredID id.InsuredPersonID) (*models.InsuredPerson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.insured[insuredID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyInsured(p), nil
}

func (s *InMemoryStore) ListInsured(_ context.Context, policyID id.PolicyID) ([]*models.InsuredPerson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.InsuredPerson
	for _, p := range s.insured {
		if p.PolicyID == policyID {
			out = append(out, copyInsured(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) ExecuteInsured(_ context.Context, insuredID id.InsuredPersonID, mutate func(*models.InsuredPerson) error) (*models.InsuredPerson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.insured[insuredID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := copyInsured(p)
	if err := mutate(cp); err != nil {
		return nil, err
	}
	s.insured[insuredID] = copyInsured(cp)
	return cp, nil
}

func (s *InMemoryStore) DeleteInsured(_ context.Context, insuredID id.InsuredPersonID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.insured[insuredID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.insured, insuredID)
	return nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies), nil
}
