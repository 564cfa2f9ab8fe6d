package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/profile"
)

const (
	// ContextKeyPrincipal is the gin context key for the resolved *Principal
	ContextKeyPrincipal = "authPrincipal"
	// ContextKeyAuthError is the gin context key for the resolution error, if any
	ContextKeyAuthError = "authError"
)

// TokenFromRequest extracts the session credential from the Authorization
// header or, failing that, the session cookie.
func TokenFromRequest(c *gin.Context, cookieName string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookieName != "" {
		if token, err := c.Cookie(cookieName); err == nil {
			return token
		}
	}
	return ""
}

// Middleware resolves the request's session into a Principal. It never
// aborts; the route guard and RequireAuth/RequireRole make the decisions.
func Middleware(r *Resolver, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c, cookieName)
		if token == "" {
			c.Next()
			return
		}

		p, err := r.Resolve(c.Request.Context(), token)
		if p != nil {
			c.Set(ContextKeyPrincipal, p)
			c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), p.UserID))
		}
		if err != nil {
			c.Set(ContextKeyAuthError, err)
			if !errors.Is(err, ErrUnauthenticated) && !errors.Is(err, ErrRoleUnresolved) {
				logging.L(c.Request.Context()).Warn("session resolution failed", "error", err)
			}
		}

		c.Next()
	}
}

// GetPrincipal returns the resolved principal, if any.
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(ContextKeyPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok && p != nil
}

// ResolveError returns the error recorded by Middleware, if any.
func ResolveError(c *gin.Context) error {
	if v, ok := c.Get(ContextKeyAuthError); ok {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// RequireAuth middleware rejects requests without a resolved identity
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			abortUnauthenticated(c)
			return
		}
		c.Next()
	}
}

// RequireRole middleware requires an identity holding one of roles
func RequireRole(roles ...profile.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			abortUnauthenticated(c)
			return
		}
		if !p.HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "insufficient role for this operation",
			})
			return
		}
		c.Next()
	}
}

// RequireActiveSubscription middleware requires an owner whose subscription
// is active and not past its end date. Must run after RequireRole(owner).
func RequireActiveSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			abortUnauthenticated(c)
			return
		}
		if !p.SubscriptionValid(time.Now()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "inactive",
				"message": "subscription inactive or expired",
			})
			return
		}
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context) {
	if errors.Is(ResolveError(c), identity.ErrUpstream) {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":   "upstream_unavailable",
			"message": "authentication provider is unavailable, try again shortly",
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthenticated",
		"message": "a valid session is required",
	})
}
