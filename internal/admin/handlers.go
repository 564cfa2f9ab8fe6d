package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qrfeedback/platform/internal/auth"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/metrics"
	"github.com/qrfeedback/platform/internal/pagination"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/validation"
)

// Handler provides admin HTTP endpoints.
type Handler struct {
	profiles  profile.Store
	claims    ClaimSetter
	sweeper   ExpirySweeper
	planCache PlanCache
}

// NewHandler creates a new admin handler.
func NewHandler(profiles profile.Store, claims ClaimSetter) *Handler {
	return &Handler{profiles: profiles, claims: claims}
}

// WithExpirySweeper enables the forced expiry sweep endpoint.
func (h *Handler) WithExpirySweeper(s ExpirySweeper) *Handler {
	h.sweeper = s
	return h
}

// WithPlanCache enables the plan cache invalidation endpoint.
func (h *Handler) WithPlanCache(c PlanCache) *Handler {
	h.planCache = c
	return h
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/profiles", h.listProfiles)
	r.GET("/profiles/:id", validation.IDParamMiddleware(), h.getProfile)
	r.PATCH("/profiles/:id", validation.IDParamMiddleware(), h.updateProfile)
	r.POST("/subscriptions/expire", h.forceExpire)
	r.POST("/plans/cache/invalidate", h.invalidatePlanCache)
}

// listProfiles handles GET /v1/admin/profiles?role=&cursor=&limit=
func (h *Handler) listProfiles(c *gin.Context) {
	var role profile.Role
	if s := c.Query("role"); s != "" {
		if role = profile.ParseRole(s); role == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role", "message": "unknown role " + s})
			return
		}
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	list, err := h.profiles.List(c.Request.Context(), profile.ListFilter{Role: role, Limit: limit + 1, Cursor: cursor})
	if err != nil {
		logging.L(c.Request.Context()).Error("list profiles failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list profiles"})
		return
	}
	c.JSON(http.StatusOK, pagination.ComputePage(list, limit, func(p *profile.Profile) (time.Time, string) {
		return p.CreatedAt, p.ID
	}))
}

// getProfile handles GET /v1/admin/profiles/:id
func (h *Handler) getProfile(c *gin.Context) {
	p, err := h.profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeProfileError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

type updateRequest struct {
	IsActive *bool   `json:"isActive"`
	Role     *string `json:"role"`
}

// updateProfile handles PATCH /v1/admin/profiles/:id
func (h *Handler) updateProfile(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}
	u := profile.Update{IsActive: req.IsActive}
	if req.Role != nil {
		role := profile.ParseRole(*req.Role)
		if role == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role", "message": "unknown role " + *req.Role})
			return
		}
		u.Role = &role
	}
	if u.IsActive == nil && u.Role == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "nothing to update"})
		return
	}

	ctx := c.Request.Context()
	actor, _ := auth.GetPrincipal(c)
	target, err := h.profiles.Get(ctx, c.Param("id"))
	if err != nil {
		writeProfileError(c, err)
		return
	}
	var actorID string
	if actor != nil {
		actorID = actor.UserID
	}
	if err := CheckUpdate(actorID, actor.RoleOrEmpty(), target, u); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrSelfRoleChange) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "forbidden", "message": err.Error()})
		return
	}

	updated, err := h.profiles.Update(ctx, target.ID, u)
	if err != nil {
		writeProfileError(c, err)
		return
	}

	log := logging.L(ctx).With("target_id", target.ID)
	claimSynced := true
	if u.Role != nil && *u.Role != target.Role {
		if err := h.claims.SetRoleClaim(ctx, target.ID, string(*u.Role)); err != nil {
			claimSynced = false
			metrics.ToleratedStepFailuresTotal.WithLabelValues("profile_update", "claim").Inc()
			log.Warn("role claim sync failed, continuing", "role", string(*u.Role), "error", err)
		}
		log.Info("profile role changed", "from", string(target.Role), "to", string(*u.Role))
	}
	c.JSON(http.StatusOK, gin.H{"profile": updated, "claimSynced": claimSynced})
}

// forceExpire runs the subscription expiry sweep immediately.
func (h *Handler) forceExpire(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "expiry sweeper not configured"})
		return
	}
	n := h.sweeper.Sweep(c.Request.Context())
	c.JSON(http.StatusOK, SweepReport{ExpiredCount: n, Timestamp: time.Now()})
}

// invalidatePlanCache drops the cached plan catalog.
func (h *Handler) invalidatePlanCache(c *gin.Context) {
	if h.planCache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "plan cache not configured"})
		return
	}
	if err := h.planCache.Invalidate(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invalidate plan cache", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": true})
}

func writeProfileError(c *gin.Context, err error) {
	if errors.Is(err, profile.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "profile not found"})
		return
	}
	logging.L(c.Request.Context()).Error("profile request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "request failed"})
}
