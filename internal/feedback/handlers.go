package feedback

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qrfeedback/platform/internal/auth"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/pagination"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/tenant"
	"github.com/qrfeedback/platform/internal/validation"
)

// Handler provides HTTP endpoints for feedback.
type Handler struct {
	svc *Service
}

// NewHandler creates a new feedback handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes sets up the customer submission route. mw runs
// before the handler.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup, mw ...gin.HandlerFunc) {
	r.POST("/feedback", append(mw, h.Submit)...)
}

// RegisterOwnerRoutes sets up the owner's feedback views.
func (h *Handler) RegisterOwnerRoutes(r *gin.RouterGroup) {
	r.GET("/businesses/:id/feedback", validation.IDParamMiddleware(), h.List)
	r.GET("/businesses/:id/feedback/summary", validation.IDParamMiddleware(), h.Summary)
}

// Submit handles POST /v1/feedback
func (h *Handler) Submit(c *gin.Context) {
	var req Submission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}
	f, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": f.ID})
}

// List handles GET /v1/owner/businesses/:id/feedback?cursor=&limit=
func (h *Handler) List(c *gin.Context) {
	p, ok := owner(c)
	if !ok {
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	items, err := h.svc.List(c.Request.Context(), p.UserID, c.Param("id"), limit, cursor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pagination.ComputePage(items, limit, func(f *Feedback) (time.Time, string) {
		return f.CreatedAt, f.ID
	}))
}

// Summary handles GET /v1/owner/businesses/:id/feedback/summary
func (h *Handler) Summary(c *gin.Context) {
	p, ok := owner(c)
	if !ok {
		return
	}
	s, err := h.svc.Summary(c.Request.Context(), p.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": s})
}

func owner(c *gin.Context) (*auth.Principal, bool) {
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

func writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": verrs.Error(), "fields": verrs})
	case errors.Is(err, ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "quota_exceeded", "message": "this business has reached its monthly feedback limit"})
	case errors.Is(err, ErrUnknownCode):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "qr code not found"})
	case errors.Is(err, tenant.ErrBusinessNotFound), errors.Is(err, tenant.ErrNotOwner):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "business not found"})
	default:
		logging.L(c.Request.Context()).Error("feedback request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "request failed"})
	}
}
