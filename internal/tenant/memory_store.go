package tenant

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu           sync.RWMutex
	businesses   map[string]*Business // by ID
	byOnboarding map[string]string    // onboarding request ID → business ID
	qrcodes      map[string]*QRCode   // by ID
	byCode       map[string]string    // code → QR code ID
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		businesses:   make(map[string]*Business),
		byOnboarding: make(map[string]string),
		qrcodes:      make(map[string]*QRCode),
		byCode:       make(map[string]string),
	}
}

func (m *MemoryStore) CreateBusiness(_ context.Context, b *Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.OnboardingRequestID != "" {
		if _, exists := m.byOnboarding[b.OnboardingRequestID]; exists {
			return ErrDuplicateOnboarding
		}
		m.byOnboarding[b.OnboardingRequestID] = b.ID
	}
	cp := *b
	m.businesses[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBusiness(_ context.Context, id string) (*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.businesses[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) GetByOnboardingRequest(_ context.Context, requestID string) (*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOnboarding[requestID]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	cp := *m.businesses[id]
	return &cp, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Business
	for _, b := range m.businesses {
		if b.OwnerID == ownerID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CountByOwner(_ context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, b := range m.businesses {
		if b.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreateQRCode(_ context.Context, q *QRCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.businesses[q.BusinessID]; !ok {
		return ErrBusinessNotFound
	}
	if _, taken := m.byCode[q.Code]; taken {
		return ErrCodeTaken
	}
	cp := *q
	m.qrcodes[q.ID] = &cp
	m.byCode[q.Code] = q.ID
	return nil
}

func (m *MemoryStore) GetQRCodeByCode(_ context.Context, code string) (*QRCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCode[code]
	if !ok {
		return nil, ErrQRCodeNotFound
	}
	cp := *m.qrcodes[id]
	return &cp, nil
}

func (m *MemoryStore) ListQRCodes(_ context.Context, businessID string) ([]*QRCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*QRCode
	for _, q := range m.qrcodes {
		if q.BusinessID == businessID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CountQRCodes(_ context.Context, businessID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, q := range m.qrcodes {
		if q.BusinessID == businessID {
			count++
		}
	}
	return count, nil
}

var _ Store = (*MemoryStore)(nil)
