package plans

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/qrfeedback/platform/internal/auth"
	"github.com/qrfeedback/platform/internal/logging"
)

// Handler provides HTTP endpoints for the plan catalog.
type Handler struct {
	catalog *Catalog
}

// NewHandler creates a new plan handler.
func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterRoutes sets up the public catalog route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListActive)
}

// RegisterAdminRoutes sets up the catalog editor routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListAll)
	r.PUT("/plans", h.Save)
}

// ListActive handles GET /v1/plans
func (h *Handler) ListActive(c *gin.Context) {
	h.list(c, true)
}

// ListAll handles GET /v1/admin/plans
func (h *Handler) ListAll(c *gin.Context) {
	h.list(c, false)
}

func (h *Handler) list(c *gin.Context, activeOnly bool) {
	list, err := h.catalog.List(c.Request.Context(), activeOnly)
	if err != nil {
		logging.L(c.Request.Context()).Error("list plans failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load plans"})
		return
	}
	if list == nil {
		list = []*Plan{}
	}
	c.JSON(http.StatusOK, gin.H{"plans": list, "count": len(list)})
}

// SaveRequest is the body of PUT /v1/admin/plans.
type SaveRequest struct {
	Plans          []PlanInput `json:"plans"`
	DeletedPlanIDs []string    `json:"deletedPlanIds"`
}

// Save handles PUT /v1/admin/plans
func (h *Handler) Save(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "plans array required"})
		return
	}

	p, _ := auth.GetPrincipal(c)
	saved, err := h.catalog.SavePlans(c.Request.Context(), req.Plans, req.DeletedPlanIDs, p.RoleOrEmpty())
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verr.Message,
				"details": verr.Details,
				"hint":    verr.Hint,
			})
		case errors.Is(err, ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "administrator access required"})
		default:
			logging.L(c.Request.Context()).Error("save plans failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to save plans"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "plans": saved})
}
