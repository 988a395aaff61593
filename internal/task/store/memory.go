package store

import (
	"context"
	"sort"
	"sync"

	"insureflow/internal/task/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
)

// InMemoryStore keeps tasks in a map. Returned values are copies.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[id.TaskID]*models.Task
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tasks: make(map[id.TaskID]*models.Task)}
}

func copyTask(t *models.Task) *models.Task {
	cp := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

func (s *InMemoryStore) Create(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = id.TaskID(s.nextID)
	s.tasks[t.ID] = copyTask(t)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, taskID id.TaskID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyTask(t), nil
}

// List returns matching tasks, newest first.
func (s *InMemoryStore) List(_ context.Context, filter models.Filter) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Matches(t) {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) Counts(_ context.Context, today id.Date) (models.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c models.Counts
	for _, t := range s.tasks {
		c.Add(t, today)
	}
	return c, nil
}

// Execute mutates one task under the store lock. A failed mutation stores nothing.
func (s *InMemoryStore) Execute(_ context.Context, taskID id.TaskID, mutate func(*models.Task) error) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	work := copyTask(t)
	if err := mutate(work); err != nil {
		return nil, err
	}
	s.tasks[taskID] = copyTask(work)
	return work, nil
}

func (s *InMemoryStore) Delete(_ context.Context, taskID id.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.tasks, taskID)
	return nil
}
