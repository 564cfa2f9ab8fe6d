package lifecycle

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qrfeedback/platform/internal/auth"
	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/pagination"
	"github.com/qrfeedback/platform/internal/profile"
)

// Handler provides HTTP endpoints for activations and renewals.
type Handler struct {
	svc *Service
}

// NewHandler creates a new lifecycle handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterAdminRoutes sets up activation and renewal approval routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/onboarding/activate", h.Activate)
	r.GET("/renewals", h.ListRenewals)
	r.POST("/renewals/approve", h.ApproveRenewal)
}

// RegisterAccountRoutes sets up the owner's subscription routes. They stay
// reachable while the subscription is expired.
func (h *Handler) RegisterAccountRoutes(r *gin.RouterGroup) {
	r.GET("/subscription", h.Subscription)
	r.POST("/renewals", h.RequestRenewal)
}

type requestIDBody struct {
	RequestID string `json:"requestId" binding:"required"`
}

// Activate handles POST /v1/admin/onboarding/activate
func (h *Handler) Activate(c *gin.Context) {
	var req requestIDBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request", "message": "requestId is required"})
		return
	}
	p, _ := auth.GetPrincipal(c)
	res, err := h.svc.ActivateOnboarding(c.Request.Context(), req.RequestID, p.RoleOrEmpty())
	if err != nil {
		writeError(c, err, "activation failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// ApproveRenewal handles POST /v1/admin/renewals/approve
func (h *Handler) ApproveRenewal(c *gin.Context) {
	var req requestIDBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request", "message": "requestId is required"})
		return
	}
	p, _ := auth.GetPrincipal(c)
	res, err := h.svc.ApproveRenewal(c.Request.Context(), req.RequestID, p.RoleOrEmpty())
	if err != nil {
		writeError(c, err, "renewal approval failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListRenewals handles GET /v1/admin/renewals?status=&cursor=&limit=
func (h *Handler) ListRenewals(c *gin.Context) {
	status := RenewalStatus(c.DefaultQuery("status", string(RenewalPending)))
	if status == "all" {
		status = ""
	} else if status != RenewalPending && status != RenewalApproved {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "status must be pending, approved or all"})
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	list, err := h.svc.Renewals(c.Request.Context(), RenewalFilter{Status: status, Limit: limit + 1, Cursor: cursor})
	if err != nil {
		logging.L(c.Request.Context()).Error("list renewals failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list renewals"})
		return
	}
	c.JSON(http.StatusOK, pagination.ComputePage(list, limit, func(r *RenewalRequest) (time.Time, string) {
		return r.CreatedAt, r.ID
	}))
}

type renewalBody struct {
	PlanID string `json:"planId"`
}

// RequestRenewal handles POST /v1/account/renewals
func (h *Handler) RequestRenewal(c *gin.Context) {
	p, ok := ownerPrincipal(c)
	if !ok {
		return
	}
	var body renewalBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
			return
		}
	}
	r, err := h.svc.RequestRenewal(c.Request.Context(), p.UserID, body.PlanID)
	if err != nil {
		writeError(c, err, "renewal request failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "renewal": r})
}

// Subscription handles GET /v1/account/subscription
func (h *Handler) Subscription(c *gin.Context) {
	p, ok := ownerPrincipal(c)
	if !ok {
		return
	}
	sub, err := h.svc.SubscriptionFor(c.Request.Context(), p.UserID)
	if err != nil {
		writeError(c, err, "failed to load subscription")
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func ownerPrincipal(c *gin.Context) (*auth.Principal, bool) {
	p, ok := auth.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "a valid session is required"})
		return nil, false
	}
	if p.Role != profile.RoleOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "owner access required"})
		return nil, false
	}
	return p, true
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "forbidden", "message": "administrator access required"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not_found", "message": "request not found"})
	case errors.Is(err, ErrPlanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "plan_not_found", "message": "plan not found"})
	case errors.Is(err, ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "already_processed", "message": "request was already processed"})
	case errors.Is(err, ErrRenewalPending):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "renewal_pending", "message": "a renewal request is already pending"})
	case errors.Is(err, ErrNoIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no_identity", "message": "request has no linked user account"})
	case errors.Is(err, identity.ErrUpstream):
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "upstream_unavailable", "message": "auth provider unavailable"})
	default:
		logging.L(c.Request.Context()).Error(fallback, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error", "message": fallback + ": " + err.Error()})
	}
}
