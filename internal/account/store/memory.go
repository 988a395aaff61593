package store

import (
	"context"
	"sort"
	"sync"

	"insureflow/internal/account/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
)

// InMemoryStore keeps users in maps keyed by id and email. Returned values are copies.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[id.UserID]*models.User
	byEmail map[string]id.UserID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:   make(map[id.UserID]*models.User),
		byEmail: make(map[string]id.UserID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return sentinel.ErrConflict
	}
	if !u.HospitalID.IsNil() {
		for _, existing := range s.users {
			if existing.HospitalID == u.HospitalID {
				return sentinel.ErrConflict
			}
		}
	}
	s.nextID++
	u.ID = id.UserID(s.nextID)
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, address string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byEmail[address]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.users[userID]
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Execute(_ context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	if err := validate(&cp); err != nil {
		return nil, err
	}
	mutate(&cp)
	stored := cp
	s.users[userID] = &stored
	return &cp, nil
}
