package plans

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory plan store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*Plan
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]*Plan), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Plan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, clone(p))
	}
	sortPlans(out)
	return out, nil
}

func (m *MemoryStore) ApplyBatch(_ context.Context, deleteIDs []string, plans []*Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Work on a copy so a failed batch leaves the catalog untouched.
	next := maps.Clone(m.plans)
	for _, id := range deleteIDs {
		delete(next, id)
	}

	now := m.now()
	for _, p := range plans {
		for id, other := range next {
			if id != p.ID && strings.EqualFold(other.Name, p.Name) {
				return ErrNameTaken
			}
		}
		cp := clone(p)
		if existing, ok := next[p.ID]; ok {
			cp.CreatedAt = existing.CreatedAt
		} else {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		next[p.ID] = cp
	}

	m.plans = next
	return nil
}

func sortPlans(ps []*Plan) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].SortOrder != ps[j].SortOrder {
			return ps[i].SortOrder < ps[j].SortOrder
		}
		return strings.ToLower(ps[i].Name) < strings.ToLower(ps[j].Name)
	})
}

func clone(p *Plan) *Plan {
	cp := *p
	cp.Features = maps.Clone(p.Features)
	return &cp
}

var _ Store = (*MemoryStore)(nil)
