package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SessionTTL is the lifetime of tokens issued by MemoryProvider.
const SessionTTL = 24 * time.Hour

// MemoryProvider is an in-process auth provider for demo/development and tests.
type MemoryProvider struct {
	mu       sync.RWMutex
	users    map[string]*memUser // by ID
	byEmail  map[string]string   // lowercased email → ID
	sessions map[string]memSession
	now      func() time.Time
}

type memUser struct {
	user         User
	passwordHash []byte
}

type memSession struct {
	userID    string
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		users:    make(map[string]*memUser),
		byEmail:  make(map[string]string),
		sessions: make(map[string]memSession),
		now:      time.Now,
	}
}

func (m *MemoryProvider) GetUser(_ context.Context, token string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok || !m.now().Before(s.expiresAt) {
		return nil, ErrInvalidToken
	}
	u, ok := m.users[s.userID]
	if !ok {
		return nil, ErrInvalidToken
	}
	cp := u.user
	return &cp, nil
}

func (m *MemoryProvider) CreateUser(_ context.Context, in CreateUserInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byEmail[email]; taken {
		return nil, ErrEmailTaken
	}
	u := &memUser{
		user: User{
			ID:       uuid.NewString(),
			Email:    email,
			FullName: in.FullName,
			Role:     in.Role,
		},
		passwordHash: hash,
	}
	m.users[u.user.ID] = u
	m.byEmail[email] = u.user.ID

	cp := u.user
	return &cp, nil
}

func (m *MemoryProvider) SetRoleClaim(_ context.Context, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.user.AppRole = role
	return nil
}

func (m *MemoryProvider) SignIn(_ context.Context, email, password string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	u := m.users[id]
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	token, expiresAt := m.issueLocked(id)
	cp := u.user
	return &Session{AccessToken: token, ExpiresAt: expiresAt, User: &cp}, nil
}

func (m *MemoryProvider) SignOut(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
	return nil
}

func (m *MemoryProvider) Ping(context.Context) error { return nil }

// IssueToken mints a session token for an existing user without a password
// check. Used to seed development accounts and by tests.
func (m *MemoryProvider) IssueToken(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return "", ErrUserNotFound
	}
	token, _ := m.issueLocked(userID)
	return token, nil
}

// SetAppRole sets the provider-controlled role claim.
func (m *MemoryProvider) SetAppRole(userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.user.AppRole = role
	return nil
}

func (m *MemoryProvider) issueLocked(userID string) (string, time.Time) {
	token := "mem_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	expiresAt := m.now().Add(SessionTTL)
	m.sessions[token] = memSession{userID: userID, expiresAt: expiresAt}
	return token, expiresAt
}

var _ Provider = (*MemoryProvider)(nil)
