// Package lifecycle moves owner subscriptions through their states:
// pending registrations are activated, active subscriptions expire, and
// renewal requests extend them.
package lifecycle

import (
	"errors"
	"time"

	"github.com/qrfeedback/platform/internal/plans"
)

var (
	ErrUnauthorized     = errors.New("lifecycle: admin role required")
	ErrNotFound         = errors.New("lifecycle: request not found")
	ErrAlreadyProcessed = errors.New("lifecycle: request already processed")
	ErrNoIdentity       = errors.New("lifecycle: request has no linked user")
	ErrPlanNotFound     = errors.New("lifecycle: plan not found")
	ErrRenewalPending   = errors.New("lifecycle: a renewal request is already pending")
)

// NextPeriodEnd adds one billing period to from using calendar arithmetic:
// one year for yearly plans, one month otherwise. Month ends normalize the
// way time.AddDate does (Jan 31 + 1 month = Mar 2 or 3).
func NextPeriodEnd(from time.Time, period plans.BillingPeriod) time.Time {
	if period == plans.Yearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// ActivationResult is returned by ActivateOnboarding.
type ActivationResult struct {
	Message           string    `json:"message"`
	Success           bool      `json:"success"`
	SubscriptionStart time.Time `json:"subscription_start"`
	SubscriptionEnd   time.Time `json:"subscription_end"`
	BusinessID        string    `json:"businessId,omitempty"`
}

// RenewalResult is returned by ApproveRenewal.
type RenewalResult struct {
	Message         string    `json:"message"`
	Success         bool      `json:"success"`
	SubscriptionEnd time.Time `json:"subscription_end"`
}
