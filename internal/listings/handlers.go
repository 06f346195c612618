package listings

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for listing operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new listing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) listing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/listings", h.ListLive)
	r.GET("/listings/:id", h.GetListing)
}

// RegisterProtectedRoutes sets up auth-required listing routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.CreateListing)
	r.PUT("/listings/:id", h.UpdateListing)
	r.POST("/listings/:id/submit", h.SubmitForApproval)
	r.POST("/listings/:id/pay-fee", h.PayListingFee)
	r.POST("/listings/:id/cancel", h.CancelListing)
	r.GET("/accounts/:accountId/listings", h.ListByAccount)
}

// RegisterAdminRoutes sets up admin-only approval routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/listings/:id/approve", h.ApproveListing)
	r.POST("/listings/:id/reject", h.RejectListing)
}

// CreateListing handles POST /v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
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
			"message": "Authenticated account must be the seller",
		})
		return
	}

	listing, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Asking price must be a valid positive amount",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "listing_failed",
			"message": "Failed to create listing",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": listing})
}

// UpdateListing handles PUT /v1/listings/:id
func (h *Handler) UpdateListing(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	listing, err := h.service.Update(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"), req)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Asking price must be a valid positive amount",
			})
			return
		}
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	listing, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// ListLive handles GET /v1/listings. A `q` query parameter filters live
// listings by title or description.
func (h *Handler) ListLive(c *gin.Context) {
	var listings []*Listing
	var err error
	if q := c.Query("q"); q != "" {
		listings, err = h.service.Search(c.Request.Context(), q, parseLimit(c))
	} else {
		listings, err = h.service.ListLive(c.Request.Context(), parseLimit(c))
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list listings",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

// ListByAccount handles GET /v1/accounts/:accountId/listings
func (h *Handler) ListByAccount(c *gin.Context) {
	accountID := c.Param("accountId")
	listings, err := h.service.ListByAccount(c.Request.Context(), accountID, c.Query("status"), parseLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list listings",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

// SubmitForApproval handles POST /v1/listings/:id/submit
func (h *Handler) SubmitForApproval(c *gin.Context) {
	listing, err := h.service.SubmitForApproval(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// PayListingFee handles POST /v1/listings/:id/pay-fee
func (h *Handler) PayListingFee(c *gin.Context) {
	listing, err := h.service.PayListingFee(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// CancelListing handles POST /v1/listings/:id/cancel
func (h *Handler) CancelListing(c *gin.Context) {
	listing, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// ApproveListing handles POST /v1/admin/listings/:id/approve
func (h *Handler) ApproveListing(c *gin.Context) {
	listing, err := h.service.Approve(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// RejectListing handles POST /v1/admin/listings/:id/reject
func (h *Handler) RejectListing(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Reject reason is required",
		})
		return
	}

	listing, err := h.service.Reject(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"), req.Reason)
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

func respondListingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Listing not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Not authorized for this listing",
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": "Listing state does not permit this operation",
		})
	case errors.Is(err, ErrFeeUnpaid):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "fee_unpaid",
			"message": "Listing fee has not been paid",
		})
	case errors.Is(err, ErrHasActiveEscrow):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "escrow_active",
			"message": "Listing has a sale in progress",
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
