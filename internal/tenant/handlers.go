package tenant

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/qrfeedback/platform/internal/auth"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/validation"
)

// Handler provides HTTP endpoints for businesses and QR codes.
type Handler struct {
	svc *Service
}

// NewHandler creates a new tenant handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterOwnerRoutes sets up the owner dashboard routes.
func (h *Handler) RegisterOwnerRoutes(r *gin.RouterGroup) {
	r.GET("/businesses", h.ListBusinesses)
	r.POST("/businesses", h.CreateBusiness)
	r.GET("/businesses/:id", validation.IDParamMiddleware(), h.GetBusiness)
	r.GET("/businesses/:id/qrcodes", validation.IDParamMiddleware(), h.ListQRCodes)
	r.POST("/businesses/:id/qrcodes", validation.IDParamMiddleware(), h.CreateQRCode)
}

// RegisterPublicRoutes sets up the customer-facing code lookup.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/q/:code", h.ResolveCode)
}

// RegisterAdminRoutes sets up admin business creation.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/businesses", h.AdminCreateBusiness)
}

// ---------- Owner endpoints ----------

// ListBusinesses handles GET /v1/owner/businesses
func (h *Handler) ListBusinesses(c *gin.Context) {
	p, ok := owner(c)
	if !ok {
		return
	}
	list, err := h.svc.ListForOwner(c.Request.Context(), p.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []*Business{}
	}
	c.JSON(http.StatusOK, gin.H{"businesses": list, "count": len(list)})
}

// CreateBusiness handles POST /v1/owner/businesses
func (h *Handler) CreateBusiness(c *gin.Context) {
	p, ok := owner(c)
	if !ok {
		return
	}
	var req BusinessInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}
	b, err := h.svc.CreateForOwner(c.Request.Context(), p.UserID, p.PlanID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"business": b})
}

// GetBusiness handles GET /v1/owner/businesses/:id
func (h *Handler) GetBusiness(c *gin.Context) {
	p, ok := owner(c)
	if !ok {
		return
	}
	b, err := h.svc.OwnedBusiness(c.Request.Context(), p.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"business": b})
}

// ListQRCodes handles GET /v1/owner/businesses/:id/qrcodes
func (h *Handler) ListQRCodes(c *gin.Context) {
	p, ok := owner(c)
	if !ok {
		return
	}
	codes, err := h.svc.ListQRCodes(c.Request.Context(), p.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if codes == nil {
		codes = []*QRCode{}
	}
	c.JSON(http.StatusOK, gin.H{"qrCodes": codes, "count": len(codes)})
}

// CreateQRCode handles POST /v1/owner/businesses/:id/qrcodes
func (h *Handler) CreateQRCode(c *gin.Context) {
	p, ok := owner(c)
	if !ok {
		return
	}
	var req struct {
		Label string `json:"label"`
	}
	// Body is optional.
	_ = c.ShouldBindJSON(&req)

	q, err := h.svc.CreateQRCode(c.Request.Context(), p.UserID, p.PlanID, c.Param("id"), req.Label)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"qrCode": q})
}

// ---------- Public endpoints ----------

// ResolveCode handles GET /v1/q/:code
func (h *Handler) ResolveCode(c *gin.Context) {
	card, err := h.svc.PublicCard(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"business": card})
}

// ---------- Admin endpoints ----------

// AdminCreateBusiness handles POST /v1/admin/businesses
func (h *Handler) AdminCreateBusiness(c *gin.Context) {
	var req struct {
		OwnerID string `json:"ownerId" binding:"required"`
		BusinessInput
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "ownerId and name required"})
		return
	}
	b, err := h.svc.CreateByAdmin(c.Request.Context(), req.OwnerID, req.BusinessInput)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"business": b})
}

// owner returns the calling owner, writing 401/403 when there is none.
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
	var (
		limitErr *LimitError
		verrs    validation.ValidationErrors
	)
	switch {
	case errors.As(err, &limitErr):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "plan_limit",
			"message": "your plan does not allow more of these",
			"limit":   limitErr.Limit,
			"max":     limitErr.Max,
		})
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": verrs.Error(), "fields": verrs})
	case errors.Is(err, ErrBusinessNotFound), errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "business not found"})
	case errors.Is(err, ErrQRCodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "qr code not found"})
	case errors.Is(err, profile.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "owner profile not found"})
	default:
		logging.L(c.Request.Context()).Error("tenant request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "request failed"})
	}
}
