// Package profile holds the local mirror of provider identities: role,
// activation flag, plan and subscription window.
package profile

import (
	"errors"
	"strings"
	"time"

	"github.com/qrfeedback/platform/internal/pagination"
)

// Errors
var (
	ErrNotFound    = errors.New("profile: not found")
	ErrInvalidRole = errors.New("profile: invalid role")
)

// Role is the platform role carried by a profile and by identity claims.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
	RoleManager    Role = "manager"
	RoleStaff      Role = "staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleSuperadmin, RoleManager, RoleStaff:
		return true
	}
	return false
}

// IsAdmin reports whether r may use administrative operations.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

// ParseRole normalizes s into a Role. Unknown values yield "".
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return ""
	}
	return r
}

// Profile mirrors an identity from the auth provider.
type Profile struct {
	ID                string     `json:"id"`
	FullName          string     `json:"fullName"`
	Email             string     `json:"email"`
	Role              Role       `json:"role"`
	IsActive          bool       `json:"isActive"`
	PlanID            string     `json:"planId,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	BusinessID        string     `json:"businessId,omitempty"`
	SubscriptionStart *time.Time `json:"subscriptionStart,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscriptionEnd,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// SubscriptionValid reports whether the owner's tenant routes are reachable at now.
func (p *Profile) SubscriptionValid(now time.Time) bool {
	return p.IsActive && p.SubscriptionEnd != nil && p.SubscriptionEnd.After(now)
}

// Activation carries the profile fields written when an onboarding request is activated.
type Activation struct {
	FullName string
	Email    string
	PlanID   string
	Phone    string
	Start    time.Time
	End      time.Time
}

// Update is a partial admin change. Nil fields are left untouched.
type Update struct {
	IsActive *bool `json:"isActive"`
	Role     *Role `json:"role"`
}

// ListFilter narrows profile listings.
type ListFilter struct {
	Role   Role
	Limit  int
	Cursor *pagination.Cursor
}
