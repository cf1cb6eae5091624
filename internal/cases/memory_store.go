package cases

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory case store for tests and demo mode.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]*Case
}

// NewMemoryStore creates a new in-memory case store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*Case)}
}

func (m *MemoryStore) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Case
	for _, c := range m.cases {
		if q.Status != "" && c.Status != q.Status {
			continue
		}
		if q.Priority != "" && c.Priority != q.Priority {
			continue
		}
		if q.Checkpoint != "" && c.Checkpoint != q.Checkpoint {
			continue
		}
		if q.Assignee != "" && c.Assignee != q.Assignee {
			continue
		}
		result = append(result, c.Clone())
	}

	// Newest first, ID as the tiebreaker, matching the SQL ordering.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if q.Cursor != nil {
		idx := 0
		for idx < len(result) {
			c := result[idx]
			if c.CreatedAt.Before(q.Cursor.CreatedAt) ||
				(c.CreatedAt.Equal(q.Cursor.CreatedAt) && c.ID < q.Cursor.ID) {
				break
			}
			idx++
		}
		result = result[idx:]
	}

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[c.ID]; !ok {
		return ErrCaseNotFound
	}
	m.cases[c.ID] = c.Clone()
	return nil
}

var _ Store = (*MemoryStore)(nil)
