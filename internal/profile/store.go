package profile

import (
	"context"
	"time"
)

// Store persists profiles.
type Store interface {
	Get(ctx context.Context, id string) (*Profile, error)
	// Upsert writes the identity-derived fields (name, email, role, activation
	// flag, plan, phone). Subscription dates and business link are untouched.
	Upsert(ctx context.Context, p *Profile) error
	// Activate creates or updates the profile as an active owner with the
	// given subscription window.
	Activate(ctx context.Context, id string, a Activation) error
	// Renew marks the profile active with a new subscription window.
	Renew(ctx context.Context, id string, start, end time.Time) error
	SetBusiness(ctx context.Context, id, businessID string) error
	Update(ctx context.Context, id string, u Update) (*Profile, error)
	List(ctx context.Context, f ListFilter) ([]*Profile, error)
	// ExpireDue deactivates owners whose subscription ended at or before now
	// and returns their ids.
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}
