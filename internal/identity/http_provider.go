package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/qrfeedback/platform/internal/circuitbreaker"
)

const breakerKey = "auth_provider"

// HTTPProvider calls a GoTrue-compatible auth REST API.
type HTTPProvider struct {
	client     *resty.Client
	serviceKey string
	breaker    *circuitbreaker.Breaker
}

type apiUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

type apiError struct {
	Code      any    `json:"code"`
	ErrorCode string `json:"error_code"`
	Msg       string `json:"msg"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

func (e *apiError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

type tokenResponse struct {
	AccessToken string   `json:"access_token"`
	ExpiresIn   int      `json:"expires_in"`
	User        *apiUser `json:"user"`
}

// NewHTTPProvider creates a provider client. Requests are not retried; the
// circuit breaker opens after repeated upstream failures.
func NewHTTPProvider(baseURL, serviceKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("apikey", serviceKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPProvider{
		client:     client,
		serviceKey: serviceKey,
		breaker:    circuitbreaker.New(5, 30*time.Second),
	}
}

// GetUser validates a session token.
func (p *HTTPProvider) GetUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	var out apiUser
	err := p.call(func() error {
		resp, err := p.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetResult(&out).
			SetError(&apiError{}).
			Get("/auth/v1/user")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		switch code := resp.StatusCode(); {
		case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusNotFound:
			return ErrInvalidToken
		case resp.IsError():
			return upstreamStatus(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.toUser(), nil
}

// CreateUser creates a pre-confirmed identity using the service key.
func (p *HTTPProvider) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	body := map[string]any{
		"email":         in.Email,
		"password":      in.Password,
		"email_confirm": in.EmailConfirmed,
		"user_metadata": map[string]any{
			"role":      in.Role,
			"full_name": in.FullName,
		},
	}
	var out apiUser
	err := p.call(func() error {
		apiErr := &apiError{}
		resp, err := p.client.R().
			SetContext(ctx).
			SetAuthToken(p.serviceKey).
			SetBody(body).
			SetResult(&out).
			SetError(apiErr).
			Post("/auth/v1/admin/users")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		if resp.IsError() {
			if isDuplicateEmail(resp.StatusCode(), apiErr) {
				return ErrEmailTaken
			}
			if resp.StatusCode() < 500 {
				return fmt.Errorf("identity: create user rejected: %s", apiErr.text())
			}
			return upstreamStatus(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.toUser(), nil
}

// SetRoleClaim updates the role stored in the user's app metadata. Only the
// service key can write app metadata.
func (p *HTTPProvider) SetRoleClaim(ctx context.Context, userID, role string) error {
	return p.call(func() error {
		resp, err := p.client.R().
			SetContext(ctx).
			SetAuthToken(p.serviceKey).
			SetPathParam("id", userID).
			SetBody(map[string]any{"app_metadata": map[string]any{"role": role}}).
			SetError(&apiError{}).
			Put("/auth/v1/admin/users/{id}")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return ErrUserNotFound
		}
		if resp.IsError() {
			return upstreamStatus(resp)
		}
		return nil
	})
}

// SignIn exchanges email and password for a session.
func (p *HTTPProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var out tokenResponse
	err := p.call(func() error {
		resp, err := p.client.R().
			SetContext(ctx).
			SetQueryParam("grant_type", "password").
			SetBody(map[string]string{"email": email, "password": password}).
			SetResult(&out).
			SetError(&apiError{}).
			Post("/auth/v1/token")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		if code := resp.StatusCode(); code == http.StatusBadRequest || code == http.StatusUnauthorized {
			return ErrInvalidCredentials
		}
		if resp.IsError() {
			return upstreamStatus(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s := &Session{
		AccessToken: out.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}
	if out.User != nil {
		s.User = out.User.toUser()
	}
	return s, nil
}

// SignOut revokes the session token.
func (p *HTTPProvider) SignOut(ctx context.Context, token string) error {
	return p.call(func() error {
		resp, err := p.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			Post("/auth/v1/logout")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		// An already-invalid token is as good as signed out.
		if resp.StatusCode() == http.StatusUnauthorized {
			return nil
		}
		if resp.IsError() {
			return upstreamStatus(resp)
		}
		return nil
	})
}

// Ping checks the provider health endpoint. It bypasses the breaker so the
// readiness probe reflects the real upstream state.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/auth/v1/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.IsError() {
		return upstreamStatus(resp)
	}
	return nil
}

// BreakerState exposes the circuit state for diagnostics.
func (p *HTTPProvider) BreakerState() circuitbreaker.State {
	return p.breaker.State(breakerKey)
}

func (p *HTTPProvider) call(fn func() error) error {
	err := p.breaker.Do(breakerKey, fn, func(err error) bool {
		return errors.Is(err, ErrUpstream)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return err
}

func upstreamStatus(resp *resty.Response) error {
	return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode())
}

func isDuplicateEmail(status int, e *apiError) bool {
	if status == http.StatusConflict {
		return true
	}
	if e.ErrorCode == "email_exists" || e.ErrorCode == "user_already_exists" {
		return true
	}
	return status == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(e.text()), "already")
}

func (u *apiUser) toUser() *User {
	return &User{
		ID:       u.ID,
		Email:    u.Email,
		FullName: metaString(u.UserMetadata, "full_name"),
		Role:     metaString(u.UserMetadata, "role"),
		AppRole:  metaString(u.AppMetadata, "role"),
	}
}

func metaString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

var _ Provider = (*HTTPProvider)(nil)
