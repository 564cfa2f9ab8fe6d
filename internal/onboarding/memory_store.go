package onboarding

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory onboarding store for demo/development.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

// NewMemoryStore creates a new in-memory onboarding store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (m *MemoryStore) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := clone(r)
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	if cp.Step == "" {
		cp.Step = StepDates
	}
	m.requests[r.ID] = cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Request
	for _, r := range m.requests {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !f.Cursor.Before(r.CreatedAt, r.ID) {
			continue
		}
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SetDates(_ context.Context, id string, start, end time.Time) (time.Time, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return time.Time{}, time.Time{}, ErrNotFound
	}
	if r.SubscriptionStart == nil || r.SubscriptionEnd == nil {
		r.SubscriptionStart, r.SubscriptionEnd = &start, &end
	}
	return *r.SubscriptionStart, *r.SubscriptionEnd, nil
}

func (m *MemoryStore) SetStep(_ context.Context, id string, step Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusPending {
		return ErrNotPending
	}
	r.Step = step
	return nil
}

func (m *MemoryStore) SetBusiness(_ context.Context, id, businessID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.BusinessID = businessID
	return nil
}

func (m *MemoryStore) MarkActive(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusPending {
		return ErrNotPending
	}
	r.Status = StatusActive
	r.Step = StepDone
	r.ActivatedAt = &at
	return nil
}

func clone(r *Request) *Request {
	cp := *r
	if r.SubscriptionStart != nil {
		t := *r.SubscriptionStart
		cp.SubscriptionStart = &t
	}
	if r.SubscriptionEnd != nil {
		t := *r.SubscriptionEnd
		cp.SubscriptionEnd = &t
	}
	if r.ActivatedAt != nil {
		t := *r.ActivatedAt
		cp.ActivatedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
