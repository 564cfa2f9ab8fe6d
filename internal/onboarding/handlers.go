package onboarding

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/pagination"
	"github.com/qrfeedback/platform/internal/validation"
)

// Handler provides HTTP endpoints for registration and the admin queue.
type Handler struct {
	svc *Service
}

// NewHandler creates a new onboarding handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up the public signup route. mw runs before the
// handler (the server passes the registration rate limiter).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, mw ...gin.HandlerFunc) {
	r.POST("/register", append(mw, h.Register)...)
}

// RegisterAdminRoutes sets up the onboarding queue.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/onboarding", h.ListQueue)
	r.GET("/onboarding/:id", validation.IDParamMiddleware(), h.GetRequest)
}

// Register handles POST /v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request", "message": "invalid body"})
		return
	}

	res, err := h.svc.SubmitRegistration(c.Request.Context(), req)
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "validation_failed",
				"message": verrs.Error(),
				"fields":  verrs,
			})
		case errors.Is(err, identity.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error":   "email_taken",
				"message": "an account with this email already exists",
			})
		case errors.Is(err, identity.ErrUpstream):
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error":   "upstream_unavailable",
				"message": "registration is temporarily unavailable, try again shortly",
			})
		default:
			logging.L(c.Request.Context()).Error("registration failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "internal_error",
				"message": "registration failed",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"userId":    res.UserID,
		"requestId": res.RequestID,
	})
}

// ListQueue handles GET /v1/admin/onboarding?status=&cursor=&limit=
func (h *Handler) ListQueue(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusPending)))
	if status == "all" {
		status = ""
	} else if status != StatusPending && status != StatusActive {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "status must be pending, active or all"})
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	items, err := h.svc.Queue(c.Request.Context(), ListFilter{Status: status, Limit: limit + 1, Cursor: cursor})
	if err != nil {
		logging.L(c.Request.Context()).Error("list onboarding queue failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list requests"})
		return
	}
	c.JSON(http.StatusOK, pagination.ComputePage(items, limit, func(i *QueueItem) (time.Time, string) {
		return i.CreatedAt, i.ID
	}))
}

// GetRequest handles GET /v1/admin/onboarding/:id
func (h *Handler) GetRequest(c *gin.Context) {
	r, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "onboarding request not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": r})
}
