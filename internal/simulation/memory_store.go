package simulation

import (
	"context"
	"sort"
	"sync"
)

// MemoryCorpusStore is an in-memory replay corpus for tests and demo mode.
type MemoryCorpusStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryCorpusStore creates an empty in-memory corpus.
func NewMemoryCorpusStore() *MemoryCorpusStore {
	return &MemoryCorpusStore{}
}

func (m *MemoryCorpusStore) Add(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records = append(m.records, &cp)
	return nil
}

func (m *MemoryCorpusStore) List(_ context.Context, q CorpusQuery) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, r := range m.records {
		if q.Checkpoint != "" && r.Checkpoint != q.Checkpoint {
			continue
		}
		if !q.From.IsZero() && r.OccurredAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && r.OccurredAt.After(q.To) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	// Stable replay order regardless of insertion order.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].OccurredAt.Before(result[j].OccurredAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MemoryCorpusStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

var _ CorpusStore = (*MemoryCorpusStore)(nil)
