// Package tenant manages businesses (the public face of an owner's account)
// and the QR codes customers scan to reach them.
package tenant

import (
	"errors"
	"time"
)

var (
	ErrBusinessNotFound    = errors.New("tenant: business not found")
	ErrQRCodeNotFound      = errors.New("tenant: qr code not found")
	ErrDuplicateOnboarding = errors.New("tenant: business already created for onboarding request")
	ErrCodeTaken           = errors.New("tenant: qr code already in use")
	ErrPlanLimit           = errors.New("tenant: plan limit reached")
	ErrNotOwner            = errors.New("tenant: business belongs to another owner")
)

// Business is a tenant's public-facing entity. It is owned by exactly one
// identity.
type Business struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Category            string    `json:"category"`
	OwnerID             string    `json:"ownerId"`
	PlanID              string    `json:"planId,omitempty"`
	Phone               string    `json:"phone,omitempty"`
	Email               string    `json:"email,omitempty"`
	Address             string    `json:"address,omitempty"`
	Wilaya              string    `json:"wilaya,omitempty"`
	OnboardingRequestID string    `json:"onboardingRequestId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// QRCode is a printable entry point into a business's feedback form.
type QRCode struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"businessId"`
	Code       string    `json:"code"`
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PublicCard is what an anonymous customer sees after scanning a code.
type PublicCard struct {
	BusinessID string `json:"businessId"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	Code       string `json:"code"`
	Label      string `json:"label,omitempty"`
}

// LimitError reports which plan limit blocked a creation.
type LimitError struct {
	Limit string
	Max   int
}

func (e *LimitError) Error() string {
	return "tenant: plan limit reached: " + e.Limit
}

func (e *LimitError) Unwrap() error { return ErrPlanLimit }
