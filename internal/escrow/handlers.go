package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/assetmarket/internal/payments"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/escrow/:id", h.GetEscrow)
	r.GET("/accounts/:accountId/escrows", h.ListEscrows)
	r.POST("/escrow/:id/fund", h.FundEscrow)
	r.POST("/escrow/:id/release", h.ReleaseEscrow)
	r.POST("/escrow/:id/refund", h.RefundEscrow)
	r.POST("/escrow/:id/dispute", h.DisputeEscrow)
}

// RegisterAdminRoutes sets up the arbiter-only resolution route.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/:id/resolve", h.ResolveEscrow)
}

// GetEscrow handles GET /v1/escrow/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": tx})
}

// ListEscrows handles GET /v1/accounts/:accountId/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	txs, err := h.service.ListByAccount(c.Request.Context(), c.Param("accountId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list escrows",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrows": txs, "count": len(txs)})
}

// FundEscrow handles POST /v1/escrow/:id/fund
func (h *Handler) FundEscrow(c *gin.Context) {
	tx, err := h.service.Fund(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": tx})
}

// ReleaseEscrow handles POST /v1/escrow/:id/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	tx, err := h.service.Release(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": tx})
}

// RefundEscrow handles POST /v1/escrow/:id/refund
func (h *Handler) RefundEscrow(c *gin.Context) {
	tx, err := h.service.Refund(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": tx})
}

// DisputeEscrow handles POST /v1/escrow/:id/dispute
func (h *Handler) DisputeEscrow(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Dispute reason is required",
		})
		return
	}

	tx, err := h.service.FlagDispute(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"), req.Reason)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": tx})
}

// ResolveEscrow handles POST /v1/admin/escrow/:id/resolve
func (h *Handler) ResolveEscrow(c *gin.Context) {
	var req struct {
		Decision string `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Resolution decision is required",
		})
		return
	}

	tx, err := h.service.Resolve(c.Request.Context(), c.Param("id"), Decision(req.Decision), c.GetString("authAccountID"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": tx})
}

func respondEscrowError(c *gin.Context, err error) {
	var gwErr *payments.GatewayError

	switch {
	case errors.Is(err, ErrEscrowNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not authorized for this escrow operation",
		})
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	case errors.Is(err, ErrBadDecision):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.As(err, &gwErr):
		// Gateway failure is retryable; the escrow kept its prior state.
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "payment_gateway_error",
			"message": "Payment processor call failed, try again",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
