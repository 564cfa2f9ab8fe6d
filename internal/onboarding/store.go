package onboarding

import (
	"context"
	"time"
)

// Store persists onboarding requests. Every mutation after Create is
// conditional so repeated or concurrent activations cannot apply twice.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	List(ctx context.Context, f ListFilter) ([]*Request, error)

	// SetDates stores the subscription period unless one is already stored,
	// and returns whichever period is persisted.
	SetDates(ctx context.Context, id string, start, end time.Time) (time.Time, time.Time, error)
	// SetStep moves the activation cursor of a pending request. It returns
	// ErrNotPending once the request is active.
	SetStep(ctx context.Context, id string, step Step) error
	SetBusiness(ctx context.Context, id, businessID string) error
	// MarkActive moves a pending request to active. It returns ErrNotPending
	// when the request was already active.
	MarkActive(ctx context.Context, id string, at time.Time) error
}
