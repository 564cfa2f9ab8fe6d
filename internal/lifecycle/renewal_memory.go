package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/qrfeedback/platform/internal/profile"
)

// MemoryRenewalStore is an in-memory renewal store. Approvals are serialized
// under its mutex together with the profile renewal.
type MemoryRenewalStore struct {
	mu       sync.RWMutex
	requests map[string]*RenewalRequest
	profiles profile.Store
}

// NewMemoryRenewalStore creates a renewal store that renews through profiles.
func NewMemoryRenewalStore(profiles profile.Store) *MemoryRenewalStore {
	return &MemoryRenewalStore{requests: make(map[string]*RenewalRequest), profiles: profiles}
}

func (m *MemoryRenewalStore) Create(_ context.Context, r *RenewalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.requests {
		if existing.UserID == r.UserID && existing.Status == RenewalPending {
			return ErrRenewalPending
		}
	}
	cp := cloneRenewal(r)
	if cp.Status == "" {
		cp.Status = RenewalPending
	}
	m.requests[r.ID] = cp
	return nil
}

func (m *MemoryRenewalStore) Get(_ context.Context, id string) (*RenewalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRenewal(r), nil
}

func (m *MemoryRenewalStore) List(_ context.Context, f RenewalFilter) ([]*RenewalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*RenewalRequest
	for _, r := range m.requests {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if !f.Cursor.Before(r.CreatedAt, r.ID) {
			continue
		}
		out = append(out, cloneRenewal(r))
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

func (m *MemoryRenewalStore) Approve(ctx context.Context, id, userID string, start, end, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != RenewalPending {
		return ErrAlreadyProcessed
	}
	if err := m.profiles.Renew(ctx, userID, start, end); err != nil {
		return err
	}
	r.Status = RenewalApproved
	r.ApprovedAt = &at
	return nil
}

func cloneRenewal(r *RenewalRequest) *RenewalRequest {
	cp := *r
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		cp.ApprovedAt = &t
	}
	return &cp
}

var _ RenewalStore = (*MemoryRenewalStore)(nil)
