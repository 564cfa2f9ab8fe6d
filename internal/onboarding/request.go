// Package onboarding records tenant registrations: a new owner identity plus
// the business and plan they signed up for, held pending until an admin
// activates it.
package onboarding

import (
	"errors"
	"time"

	"github.com/qrfeedback/platform/internal/pagination"
)

var (
	ErrNotFound   = errors.New("onboarding: request not found")
	ErrNotPending = errors.New("onboarding: request is no longer pending")
)

// Status of an onboarding request. The only transition is pending → active.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// Step is the activation cursor persisted on a request, so an activation
// that stopped part-way resumes where it left off.
type Step string

const (
	StepDates    Step = "dates"
	StepProfile  Step = "profile"
	StepClaim    Step = "claim"
	StepBusiness Step = "business"
	StepLink     Step = "link"
	StepFinalize Step = "finalize"
	StepDone     Step = "done"
)

var stepOrder = map[Step]int{
	StepDates: 0, StepProfile: 1, StepClaim: 2, StepBusiness: 3, StepLink: 4, StepFinalize: 5, StepDone: 6,
}

// Reached reports whether the cursor is at or beyond target. Unknown steps
// count as the beginning.
func (s Step) Reached(target Step) bool {
	return stepOrder[s] >= stepOrder[target]
}

// Request is a prospective tenant's signup.
type Request struct {
	ID           string `json:"id"`
	BusinessName string `json:"businessName"`
	OwnerName    string `json:"ownerName"`
	Phone        string `json:"phone"`
	Wilaya       string `json:"wilaya"`
	ActivityType string `json:"activityType"`
	Email        string `json:"email"`
	PlanID       string `json:"planId"`
	Status       Status `json:"status"`
	UserID       string `json:"userId,omitempty"`

	Step              Step       `json:"step"`
	SubscriptionStart *time.Time `json:"subscriptionStart,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscriptionEnd,omitempty"`
	BusinessID        string     `json:"businessId,omitempty"`
	ActivatedAt       *time.Time `json:"activatedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// ListFilter selects requests for the admin queue, newest first.
type ListFilter struct {
	Status Status
	Limit  int
	Cursor *pagination.Cursor
}
