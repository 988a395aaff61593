package store

import (
	"context"
	"sort"
	"sync"

	"insureflow/internal/assignment/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
)

// InMemoryStore serializes assignment creation with a mutex. Returned values are copies.
type InMemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	assignments map[id.AssignmentID]*models.Assignment
	byTuple     map[tupleKey]id.AssignmentID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		assignments: make(map[id.AssignmentID]*models.Assignment),
		byTuple:     make(map[tupleKey]id.AssignmentID),
	}
}

// CreateOrGet inserts a unless its tuple already exists, in which case the stored record
// is returned with created=false.
func (s *InMemoryStore) CreateOrGet(_ context.Context, a *models.Assignment) (*models.Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byTuple[keyOf(a)]; ok {
		cp := *s.assignments[existing]
		return &cp, false, nil
	}
	s.nextID++
	a.ID = id.AssignmentID(s.nextID)
	stored := *a
	s.assignments[a.ID] = &stored
	s.byTuple[keyOf(a)] = a.ID
	cp := *a
	return &cp, true, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[assignmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		if filter.matches(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assignments), nil
}

// Execute validates and mutates one assignment under the store lock.
func (s *InMemoryStore) Execute(_ context.Context, assignmentID id.AssignmentID, mutate func(*models.Assignment) error) (*models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[assignmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	stored := cp
	s.assignments[assignmentID] = &stored
	return &cp, nil
}
