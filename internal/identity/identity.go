// Package identity talks to the hosted authentication provider that owns
// user identities, passwords and session tokens.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Errors
var (
	ErrInvalidToken       = errors.New("identity: invalid or expired session token")
	ErrInvalidCredentials = errors.New("identity: invalid email or password")
	ErrEmailTaken         = errors.New("identity: email already registered")
	ErrUserNotFound       = errors.New("identity: user not found")
	ErrUpstream           = errors.New("identity: auth provider unavailable")
)

// User is an authenticated subject as reported by the provider.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
	// Role is the role claim from the user's own metadata. Users can write
	// this field themselves, so it is only honoured as "owner".
	Role string `json:"role,omitempty"`
	// AppRole is the role claim from provider-controlled app metadata.
	AppRole string `json:"appRole,omitempty"`
}

// OwnerRole is the only role accepted from user metadata.
const OwnerRole = "owner"

// RoleClaim returns the role embedded in the token. App metadata can only be
// written with the service key and always wins. A user metadata role is
// accepted only when it is OwnerRole, the tag set during signup.
func (u *User) RoleClaim() string {
	if u.AppRole != "" {
		return u.AppRole
	}
	if strings.EqualFold(strings.TrimSpace(u.Role), OwnerRole) {
		return OwnerRole
	}
	return ""
}

// CreateUserInput describes a new identity.
type CreateUserInput struct {
	Email          string
	Password       string
	FullName       string
	Role           string
	EmailConfirmed bool
}

// Session is the result of a password sign-in.
type Session struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        *User     `json:"user"`
}

// Provider is the subset of the auth provider used by the platform.
type Provider interface {
	// GetUser validates a session token and returns its subject.
	GetUser(ctx context.Context, token string) (*User, error)
	CreateUser(ctx context.Context, in CreateUserInput) (*User, error)
	// SetRoleClaim writes the role into the provider-controlled app metadata
	// claim, replacing any earlier grant.
	SetRoleClaim(ctx context.Context, userID, role string) error
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, token string) error
	Ping(ctx context.Context) error
}
