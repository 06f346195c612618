package subscriptions

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for subscription operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required subscription routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/subscription", h.GetSubscription)
	r.POST("/subscription", h.Subscribe)
	r.POST("/subscription/:id/cancel", h.CancelSubscription)
}

// GetSubscription handles GET /v1/subscription
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := h.service.GetByAccount(c.Request.Context(), c.GetString("authAccountID"))
	if err != nil {
		respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// Subscribe handles POST /v1/subscription
func (h *Handler) Subscribe(c *gin.Context) {
	var req struct {
		Plan        string    `json:"plan" binding:"required"`
		BillingRef  string    `json:"billingRef"`
		PeriodStart time.Time `json:"periodStart"`
		PeriodEnd   time.Time `json:"periodEnd"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	sub, err := h.service.Subscribe(c.Request.Context(), c.GetString("authAccountID"),
		Plan(req.Plan), req.BillingRef, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// CancelSubscription handles POST /v1/subscription/:id/cancel
func (h *Handler) CancelSubscription(c *gin.Context) {
	sub, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func respondSubscriptionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Subscription not found",
		})
	case errors.Is(err, ErrInvalidPlan):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, ErrAlreadySubscribed), errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
