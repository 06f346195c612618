package offers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/assetmarket/internal/listings"
)

// Handler provides HTTP endpoints for offer operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new offer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required offer routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/offers", h.CreateOffer)
	r.GET("/offers/:id", h.GetOffer)
	r.POST("/offers/:id/accept", h.AcceptOffer)
	r.POST("/offers/:id/reject", h.RejectOffer)
	r.POST("/offers/:id/withdraw", h.WithdrawOffer)
	r.POST("/offers/:id/counter", h.CounterOffer)
	r.GET("/listings/:id/offers", h.ListByListing)
	r.GET("/accounts/:accountId/offers", h.ListByAccount)
}

// CreateOffer handles POST /v1/offers
func (h *Handler) CreateOffer(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if caller := c.GetString("authAccountID"); caller != req.AccountID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Authenticated account must be the buyer",
		})
		return
	}

	offer, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondOfferError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"offer": offer})
}

// GetOffer handles GET /v1/offers/:id
func (h *Handler) GetOffer(c *gin.Context) {
	offer, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

// AcceptOffer handles POST /v1/offers/:id/accept
func (h *Handler) AcceptOffer(c *gin.Context) {
	offer, escrowID, err := h.service.Accept(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": offer, "escrowId": escrowID})
}

// RejectOffer handles POST /v1/offers/:id/reject
func (h *Handler) RejectOffer(c *gin.Context) {
	offer, err := h.service.Reject(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

// WithdrawOffer handles POST /v1/offers/:id/withdraw
func (h *Handler) WithdrawOffer(c *gin.Context) {
	offer, err := h.service.Withdraw(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

// CounterOffer handles POST /v1/offers/:id/counter
func (h *Handler) CounterOffer(c *gin.Context) {
	var req CounterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	counter, err := h.service.Counter(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"), req)
	if err != nil {
		respondOfferError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"offer": counter})
}

// ListByListing handles GET /v1/listings/:id/offers
func (h *Handler) ListByListing(c *gin.Context) {
	offers, err := h.service.ListByListing(c.Request.Context(), c.Param("id"), c.Query("status"), parseLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list offers",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers, "count": len(offers)})
}

// ListByAccount handles GET /v1/accounts/:accountId/offers
func (h *Handler) ListByAccount(c *gin.Context) {
	offers, err := h.service.ListByAccount(c.Request.Context(), c.Param("accountId"), c.Query("status"), parseLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list offers",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers, "count": len(offers)})
}

func respondOfferError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOfferNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Offer not found",
		})
	case errors.Is(err, listings.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Listing not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not authorized for this offer",
		})
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrListingNotActive),
		errors.Is(err, ErrOfferExpired):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	case errors.Is(err, ErrSelfOffer), errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}

func parseLimit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}
