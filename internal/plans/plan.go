// Package plans manages the subscription plan catalog: plan definitions with
// pricing, feature flags and numeric limits that gate what an owner may do.
package plans

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("plans: plan not found")
	ErrForbidden = errors.New("plans: admin role required")
	ErrNameTaken = errors.New("plans: plan name already in use")
)

// BillingPeriod is how often a plan is billed, and how far a subscription
// is extended on activation or renewal.
type BillingPeriod string

const (
	Monthly BillingPeriod = "monthly"
	Yearly  BillingPeriod = "yearly"
)

// Minimum values for plan limits.
const (
	MinBusinesses      = 1
	MinBranches        = 1
	MinQRCodes         = 1
	MinFeedbackMonthly = 0
)

// PlaceholderPrefix marks ids the admin UI invents for plans that were never
// persisted.
const PlaceholderPrefix = "new-"

// Limits are the numeric quotas of a plan. MaxFeedbackMonthly of zero means
// unlimited.
type Limits struct {
	MaxBusinesses      int `json:"max_businesses"`
	MaxBranches        int `json:"max_branches"`
	MaxQRCodes         int `json:"max_qr_codes"`
	MaxFeedbackMonthly int `json:"max_feedback_monthly"`
}

// FeedbackUnlimited reports whether the plan has no monthly feedback cap.
func (l Limits) FeedbackUnlimited() bool {
	return l.MaxFeedbackMonthly <= 0
}

// Plan is a catalog entry.
type Plan struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         float64         `json:"price"`
	Currency      string          `json:"currency"`
	BillingPeriod BillingPeriod   `json:"billing_period"`
	Features      map[string]bool `json:"features"`
	Limits
	IsActive  bool      `json:"is_active"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Yearly reports whether the plan renews yearly. Anything else is monthly.
func (p *Plan) Yearly() bool {
	return p != nil && p.BillingPeriod == Yearly
}

// PlanInput is a plan as submitted by the admin editor. Limits are accepted
// as numbers or numeric strings.
type PlanInput struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Price              float64         `json:"price"`
	Currency           string          `json:"currency"`
	BillingPeriod      string          `json:"billing_period"`
	Features           map[string]bool `json:"features"`
	MaxBusinesses      FlexInt         `json:"max_businesses"`
	MaxBranches        FlexInt         `json:"max_branches"`
	MaxQRCodes         FlexInt         `json:"max_qr_codes"`
	MaxFeedbackMonthly FlexInt         `json:"max_feedback_monthly"`
	IsActive           *bool           `json:"is_active"`
	SortOrder          FlexInt         `json:"sort_order"`
}

// IsPlaceholder reports whether id was invented client-side.
func IsPlaceholder(id string) bool {
	return id == "" || strings.HasPrefix(id, PlaceholderPrefix)
}

// FlexInt is an integer that decodes from a JSON number or numeric string.
// Anything else decodes as unset rather than failing the request.
type FlexInt struct {
	n   int
	set bool
}

// Int returns a FlexInt holding n.
func Int(n int) FlexInt {
	return FlexInt{n: n, set: true}
}

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	*f = FlexInt{}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	var x float64
	switch t := v.(type) {
	case float64:
		x = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		x = parsed
	default:
		return nil
	}
	if math.IsNaN(x) || math.IsInf(x, 0) || x > math.MaxInt32 || x < math.MinInt32 {
		return nil
	}
	f.n, f.set = int(x), true
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(f.n)), nil
}

// AtLeast returns the value, or min when unset or below min.
func (f FlexInt) AtLeast(min int) int {
	if !f.set || f.n < min {
		return min
	}
	return f.n
}

// ValidationError rejects a plan batch. Details names the offending plan or
// field; Hint tells the admin how to fix it.
type ValidationError struct {
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Details == "" {
		return "plans: " + e.Message
	}
	return "plans: " + e.Message + ": " + e.Details
}
