// Package admin provides admin-only endpoints for managing accounts and
// forcing maintenance runs.
package admin

import (
	"context"
	"errors"
	"time"

	"github.com/qrfeedback/platform/internal/profile"
)

var (
	ErrSuperadminRequired = errors.New("admin: only a superadmin can change administrator accounts")
	ErrSelfRoleChange     = errors.New("admin: administrators cannot change their own role")
)

// ClaimSetter writes the role claim on the identity; identity.Provider
// satisfies it.
type ClaimSetter interface {
	SetRoleClaim(ctx context.Context, userID, role string) error
}

// ExpirySweeper deactivates expired owners; *lifecycle.ExpiryTimer
// satisfies it.
type ExpirySweeper interface {
	Sweep(ctx context.Context) int
}

// PlanCache is the plan catalog cache; *plans.CachedStore satisfies it.
type PlanCache interface {
	Invalidate(ctx context.Context) error
}

// SweepReport is the result of a forced expiry sweep.
type SweepReport struct {
	ExpiredCount int       `json:"expiredCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// CheckUpdate decides whether actor may apply u to target. Plain admins
// manage owner and staff accounts; granting, revoking or otherwise editing
// an admin or superadmin account needs a superadmin.
func CheckUpdate(actorID string, actor profile.Role, target *profile.Profile, u profile.Update) error {
	if !actor.IsAdmin() {
		return ErrSuperadminRequired
	}
	if u.Role != nil && target.ID == actorID && *u.Role != target.Role {
		return ErrSelfRoleChange
	}
	touchesAdmin := target.Role.IsAdmin() || (u.Role != nil && u.Role.IsAdmin())
	if touchesAdmin && actor != profile.RoleSuperadmin {
		return ErrSuperadminRequired
	}
	return nil
}
