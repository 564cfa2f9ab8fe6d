package profile

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory profile store for demo/development.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*Profile),
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (m *MemoryStore) Upsert(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.profiles[p.ID]
	if !ok {
		cp := clone(p)
		cp.SubscriptionStart, cp.SubscriptionEnd, cp.BusinessID = nil, nil, ""
		cp.CreatedAt, cp.UpdatedAt = now, now
		m.profiles[p.ID] = cp
		return nil
	}
	existing.FullName = p.FullName
	existing.Email = p.Email
	existing.Role = p.Role
	existing.IsActive = p.IsActive
	existing.PlanID = p.PlanID
	existing.Phone = p.Phone
	existing.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Activate(_ context.Context, id string, a Activation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p, ok := m.profiles[id]
	if !ok {
		p = &Profile{ID: id, CreatedAt: now}
		m.profiles[id] = p
	}
	if p.Email == "" {
		p.Email = a.Email
	}
	start, end := a.Start, a.End
	p.FullName = a.FullName
	p.Role = RoleOwner
	p.IsActive = true
	p.PlanID = a.PlanID
	p.Phone = a.Phone
	p.SubscriptionStart = &start
	p.SubscriptionEnd = &end
	p.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Renew(_ context.Context, id string, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.IsActive = true
	p.SubscriptionStart = &start
	p.SubscriptionEnd = &end
	p.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) SetBusiness(_ context.Context, id, businessID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.BusinessID = businessID
	p.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, u Update) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}
	if u.Role != nil {
		p.Role = *u.Role
	}
	p.UpdatedAt = m.now()
	return clone(p), nil
}

func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Profile
	for _, p := range m.profiles {
		if f.Role != "" && p.Role != f.Role {
			continue
		}
		if !f.Cursor.Before(p.CreatedAt, p.ID) {
			continue
		}
		out = append(out, clone(p))
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ExpireDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, p := range m.profiles {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if p.Role != RoleOwner || !p.IsActive || p.SubscriptionEnd == nil || p.SubscriptionEnd.After(now) {
			continue
		}
		p.IsActive = false
		p.UpdatedAt = now
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func sortNewestFirst(ps []*Profile) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID > ps[j].ID
		}
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}

func clone(p *Profile) *Profile {
	cp := *p
	if p.SubscriptionStart != nil {
		t := *p.SubscriptionStart
		cp.SubscriptionStart = &t
	}
	if p.SubscriptionEnd != nil {
		t := *p.SubscriptionEnd
		cp.SubscriptionEnd = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
