package feedback

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/qrfeedback/platform/internal/pagination"
)

// MemoryStore is an in-memory feedback store for demo/development.
type MemoryStore struct {
	mu         sync.RWMutex
	byBusiness map[string][]*Feedback
}

// NewMemoryStore creates a new in-memory feedback store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byBusiness: make(map[string][]*Feedback)}
}

func (m *MemoryStore) Create(_ context.Context, f *Feedback, quota Quota) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.byBusiness[f.BusinessID]
	if quota.Max > 0 {
		used := 0
		for _, existing := range list {
			if !existing.CreatedAt.Before(quota.Since) {
				used++
			}
		}
		if used >= quota.Max {
			return ErrQuotaExceeded
		}
	}
	cp := *f
	m.byBusiness[f.BusinessID] = append(list, &cp)
	return nil
}

func (m *MemoryStore) List(_ context.Context, businessID string, limit int, cursor *pagination.Cursor) ([]*Feedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Feedback
	for _, f := range m.byBusiness[businessID] {
		if !cursor.Before(f.CreatedAt, f.ID) {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Summary(_ context.Context, businessID string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Summary{Distribution: emptyDistribution()}
	total := 0
	for _, f := range m.byBusiness[businessID] {
		s.Count++
		total += f.Rating
		s.Distribution[f.Rating]++
		if f.Anonymous() {
			s.Anonymous++
		}
	}
	if s.Count > 0 {
		s.Average = math.Round(float64(total)/float64(s.Count)*100) / 100
	}
	return s, nil
}

var _ Store = (*MemoryStore)(nil)
