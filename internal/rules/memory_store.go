package rules

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory rule store for tests and demo mode.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*Rule // by ID
}

// NewMemoryStore creates a new in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]*Rule)}
}

func (m *MemoryStore) Create(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.rules {
		if existing.Name == r.Name {
			return ErrNameTaken
		}
	}
	m.rules[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Rule
	for _, r := range m.rules {
		if q.Checkpoint != "" && r.Checkpoint != "" && r.Checkpoint != q.Checkpoint {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if q.Priority != nil && r.Priority != *q.Priority {
			continue
		}
		result = append(result, r.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority < result[j].Priority
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[r.ID]
	if !ok {
		return ErrRuleNotFound
	}
	for _, other := range m.rules {
		if other.ID != r.ID && other.Name == r.Name {
			return ErrNameTaken
		}
	}

	cp := r.Clone()
	// Counters are owned by the increment methods, not by rule edits.
	cp.Performance = existing.Performance
	m.rules[r.ID] = cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) IncrementTriggered(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if r, ok := m.rules[id]; ok {
			r.Performance.Triggered++
		}
	}
	return nil
}

func (m *MemoryStore) RecordOutcome(_ context.Context, ids []string, truePositive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		r, ok := m.rules[id]
		if !ok {
			continue
		}
		if truePositive {
			r.Performance.TruePositives++
		} else {
			r.Performance.FalsePositives++
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
