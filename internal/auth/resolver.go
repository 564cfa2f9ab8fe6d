// Package auth resolves session credentials into principals and provides
// the reusable policy checks used by API handlers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/traces"
)

// Errors
var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrRoleUnresolved  = errors.New("auth: role could not be resolved")
)

// Where a principal's role came from.
const (
	RoleSourceClaim   = "claim"
	RoleSourceProfile = "profile"
)

// Principal is the resolved caller of a request.
type Principal struct {
	UserID     string       `json:"userId"`
	Email      string       `json:"email"`
	Role       profile.Role `json:"role,omitempty"`
	RoleSource string       `json:"roleSource,omitempty"`

	// Owner subscription state, loaded from the profile store.
	IsActive        bool       `json:"isActive"`
	SubscriptionEnd *time.Time `json:"subscriptionEnd,omitempty"`
	PlanID          string     `json:"planId,omitempty"`
	BusinessID      string     `json:"businessId,omitempty"`
}

// HasRole reports whether the principal holds one of roles.
func (p *Principal) HasRole(roles ...profile.Role) bool {
	if p == nil || p.Role == "" {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// RoleOrEmpty returns the resolved role; nil principals have none.
func (p *Principal) RoleOrEmpty() profile.Role {
	if p == nil {
		return ""
	}
	return p.Role
}

// SubscriptionValid reports whether the owner's subscription is usable at now.
func (p *Principal) SubscriptionValid(now time.Time) bool {
	return p != nil && p.IsActive && p.SubscriptionEnd != nil && p.SubscriptionEnd.After(now)
}

// Resolver turns a session token into a Principal. It keeps no state
// between calls.
type Resolver struct {
	provider identity.Provider
	profiles profile.Store
}

// NewResolver creates a resolver backed by the auth provider and profile store.
func NewResolver(provider identity.Provider, profiles profile.Store) *Resolver {
	return &Resolver{provider: provider, profiles: profiles}
}

// Resolve validates token and determines the caller's role. The token's role
// claim is used when present; otherwise the profile store is authoritative.
// When no role can be determined the identity is still returned together
// with ErrRoleUnresolved.
func (r *Resolver) Resolve(ctx context.Context, token string) (_ *Principal, err error) {
	ctx, span := traces.StartSpan(ctx, "auth.Resolve")
	defer func() {
		if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrRoleUnresolved) {
			traces.End(span, nil)
			return
		}
		traces.End(span, err)
	}()

	if token == "" {
		return nil, ErrUnauthenticated
	}

	user, err := r.provider.GetUser(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("auth: validate session: %w", err)
	}
	span.SetAttributes(traces.UserID(user.ID))

	p := &Principal{UserID: user.ID, Email: user.Email}
	claim := profile.ParseRole(user.RoleClaim())

	// Non-owner claims need nothing from the profile store.
	if claim != "" && claim != profile.RoleOwner {
		p.Role, p.RoleSource = claim, RoleSourceClaim
		span.SetAttributes(traces.Role(string(p.Role)))
		return p, nil
	}

	prof, err := r.profiles.Get(ctx, user.ID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		return nil, fmt.Errorf("auth: load profile: %w", err)
	}

	switch {
	case claim != "":
		p.Role, p.RoleSource = claim, RoleSourceClaim
	case prof != nil && prof.Role.Valid():
		p.Role, p.RoleSource = prof.Role, RoleSourceProfile
	default:
		return p, ErrRoleUnresolved
	}
	span.SetAttributes(traces.Role(string(p.Role)))

	if prof != nil {
		p.PlanID = prof.PlanID
		p.BusinessID = prof.BusinessID
		if p.Role == profile.RoleOwner {
			p.IsActive = prof.IsActive
			p.SubscriptionEnd = prof.SubscriptionEnd
		}
	}
	return p, nil
}
