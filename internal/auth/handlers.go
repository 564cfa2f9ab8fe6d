package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/security"
	"github.com/qrfeedback/platform/internal/validation"
)

// Handler provides the session endpoints.
type Handler struct {
	provider     identity.Provider
	resolver     *Resolver
	profiles     profile.Store
	cookieName   string
	secureCookie bool
}

// NewHandler creates a new session handler. secureCookie marks the session
// cookie Secure (set outside development).
func NewHandler(provider identity.Provider, resolver *Resolver, profiles profile.Store, cookieName string, secureCookie bool) *Handler {
	return &Handler{
		provider:     provider,
		resolver:     resolver,
		profiles:     profiles,
		cookieName:   cookieName,
		secureCookie: secureCookie,
	}
}

// RegisterRoutes sets up the session routes under /v1/auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/login", h.Login)
	r.POST("/logout", h.Logout)
	r.GET("/me", RequireAuth(), h.Me)
}

// Login handles POST /v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email      string `json:"email" binding:"required"`
		Password   string `json:"password" binding:"required"`
		RedirectTo string `json:"redirectTo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "email and password required"})
		return
	}

	ctx := c.Request.Context()
	sess, err := h.provider.SignIn(ctx, validation.NormalizeEmail(req.Email), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "message": "invalid email or password"})
		case errors.Is(err, identity.ErrUpstream):
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable", "message": "authentication provider is unavailable"})
		default:
			logging.L(ctx).Error("sign-in failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "sign-in failed"})
		}
		return
	}

	p, err := h.resolver.Resolve(ctx, sess.AccessToken)
	if err != nil && !errors.Is(err, ErrRoleUnresolved) {
		logging.L(ctx).Warn("session resolve after sign-in failed", "error", err)
	}

	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(identity.SessionTTL.Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, sess.AccessToken, maxAge, "/", "", h.secureCookie, true)

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"accessToken": sess.AccessToken,
		"expiresAt":   sess.ExpiresAt,
		"principal":   p,
		"redirectTo":  security.SafeRedirectPath(req.RedirectTo, LandingPath(p)),
	})
}

// Logout handles POST /v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	if token := TokenFromRequest(c, h.cookieName); token != "" {
		if err := h.provider.SignOut(c.Request.Context(), token); err != nil {
			logging.L(c.Request.Context()).Warn("provider sign-out failed", "error", err)
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", h.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me handles GET /v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	p, _ := GetPrincipal(c)

	resp := gin.H{"principal": p}
	prof, err := h.profiles.Get(c.Request.Context(), p.UserID)
	switch {
	case err == nil:
		resp["profile"] = prof
	case !errors.Is(err, profile.ErrNotFound):
		logging.L(c.Request.Context()).Warn("load profile failed", "error", err)
	}
	if p.Role == profile.RoleOwner {
		resp["subscriptionValid"] = p.SubscriptionValid(time.Now())
	}
	c.JSON(http.StatusOK, resp)
}

// LandingPath is where a principal goes after sign-in when no return path was given.
func LandingPath(p *Principal) string {
	switch {
	case p == nil:
		return "/"
	case p.Role == profile.RoleOwner:
		return "/dashboard"
	case p.Role.IsAdmin():
		return "/admin"
	default:
		return "/account"
	}
}
