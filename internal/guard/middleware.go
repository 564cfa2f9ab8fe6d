package guard

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/qrfeedback/platform/internal/auth"
	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/metrics"
)

var outcomeMessages = map[Outcome]string{
	OutcomeLogin:     "sign in to continue",
	OutcomeWrongRole: "this area is reserved for business owners",
	OutcomeForbidden: "administrator access required",
	OutcomeInactive:  "subscription inactive or expired",
}

// Middleware enforces the guard on every request. Page paths get a 303
// redirect; API paths (/v1/...) get a JSON error carrying the redirect.
// Must run after auth.Middleware.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _ := auth.GetPrincipal(c)
		d := g.AuthorizeRequest(c.Request, p)
		metrics.GuardDecisionsTotal.WithLabelValues(string(d.Outcome)).Inc()

		if d.Allowed() {
			c.Next()
			return
		}

		if !isAPIPath(c.Request.URL.Path) {
			c.Redirect(http.StatusSeeOther, d.RedirectTo)
			c.Abort()
			return
		}

		status := http.StatusForbidden
		code := string(d.Outcome)
		if d.Outcome == OutcomeLogin {
			status, code = http.StatusUnauthorized, "unauthenticated"
			if errors.Is(auth.ResolveError(c), identity.ErrUpstream) {
				status, code = http.StatusBadGateway, "upstream_unavailable"
			}
		}
		c.AbortWithStatusJSON(status, gin.H{
			"error":    code,
			"message":  outcomeMessages[d.Outcome],
			"redirect": d.RedirectTo,
		})
	}
}

// RegisterRoutes exposes decisions to the web frontend under /v1/auth.
func (g *Guard) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/authorize", g.AuthorizeHandler)
}

// AuthorizeHandler handles POST /v1/auth/authorize
func (g *Guard) AuthorizeHandler(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "path required"})
		return
	}
	p, _ := auth.GetPrincipal(c)
	d := g.Authorize(req.Path, p)
	metrics.GuardDecisionsTotal.WithLabelValues(string(d.Outcome)).Inc()
	c.JSON(http.StatusOK, d)
}

func isAPIPath(p string) bool {
	return p == "/v1" || strings.HasPrefix(p, "/v1/")
}
