package lifecycle

import (
	"context"
	"time"

	"github.com/qrfeedback/platform/internal/pagination"
)

// RenewalStatus of a renewal request. The only transition is pending → approved.
type RenewalStatus string

const (
	RenewalPending  RenewalStatus = "pending"
	RenewalApproved RenewalStatus = "approved"
)

// RenewalRequest asks an admin to extend an owner's subscription.
type RenewalRequest struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	PlanID     string        `json:"planId"`
	Status     RenewalStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	ApprovedAt *time.Time    `json:"approvedAt,omitempty"`
}

// RenewalFilter selects renewal requests, newest first.
type RenewalFilter struct {
	Status RenewalStatus
	UserID string
	Limit  int
	Cursor *pagination.Cursor
}

// RenewalStore persists renewal requests.
type RenewalStore interface {
	// Create returns ErrRenewalPending when the user already has a pending request.
	Create(ctx context.Context, r *RenewalRequest) error
	Get(ctx context.Context, id string) (*RenewalRequest, error)
	List(ctx context.Context, f RenewalFilter) ([]*RenewalRequest, error)
	// Approve marks a pending request approved and renews the owner's
	// profile to [start, end) as one atomic change. It returns
	// ErrAlreadyProcessed, leaving the profile untouched, when the request
	// is no longer pending.
	Approve(ctx context.Context, id, userID string, start, end, at time.Time) error
}
