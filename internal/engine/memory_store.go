package engine

import (
	"context"
	"sync"
)

// MemoryDecisionStore is an in-memory decision audit log for development and
// tests. The newest decision is first.
type MemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions []*Decision
	byID      map[string]*Decision
}

// NewMemoryDecisionStore creates an empty in-memory decision store.
func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{byID: make(map[string]*Decision)}
}

func (m *MemoryDecisionStore) Record(_ context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append([]*Decision{d}, m.decisions...)
	m.byID[d.ID] = d
	return nil
}

func (m *MemoryDecisionStore) Get(_ context.Context, id string) (*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	return d, nil
}

func (m *MemoryDecisionStore) List(_ context.Context, q DecisionQuery) ([]*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var result []*Decision
	for _, d := range m.decisions {
		if q.Checkpoint != "" && d.Checkpoint != q.Checkpoint {
			continue
		}
		if q.Action != "" && d.Action != q.Action {
			continue
		}
		result = append(result, d)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

var _ DecisionStore = (*MemoryDecisionStore)(nil)
