package sla

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for support tickets.
type Handler struct {
	service *Service
}

// NewHandler creates a new ticket handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required ticket routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/tickets", h.CreateTicket)
	r.GET("/tickets/:id", h.GetTicket)
	r.GET("/accounts/:accountId/tickets", h.ListTickets)
}

// RegisterAdminRoutes sets up agent-side ticket routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tickets/:id/respond", h.RecordFirstResponse)
	r.POST("/tickets/:id/resolve", h.ResolveTicket)
}

// CreateTicket handles POST /v1/tickets
func (h *Handler) CreateTicket(c *gin.Context) {
	var req struct {
		Subject  string `json:"subject" binding:"required"`
		Priority string `json:"priority" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Subject and priority are required",
		})
		return
	}

	ticket, err := h.service.Create(c.Request.Context(), c.GetString("authAccountID"), req.Subject, Priority(req.Priority))
	if err != nil {
		respondTicketError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ticket": ticket})
}

// GetTicket handles GET /v1/tickets/:id
func (h *Handler) GetTicket(c *gin.Context) {
	ticket, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTicketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// ListTickets handles GET /v1/accounts/:accountId/tickets
func (h *Handler) ListTickets(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	tickets, err := h.service.ListByAccount(c.Request.Context(), c.Param("accountId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list tickets",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets, "count": len(tickets)})
}

// RecordFirstResponse handles POST /v1/admin/tickets/:id/respond
func (h *Handler) RecordFirstResponse(c *gin.Context) {
	ticket, err := h.service.RecordFirstResponse(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTicketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// ResolveTicket handles POST /v1/admin/tickets/:id/resolve
func (h *Handler) ResolveTicket(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	_ = c.ShouldBindJSON(&req)
	terminal := StatusResolved
	if req.Status != "" {
		terminal = Status(req.Status)
	}

	ticket, err := h.service.Resolve(c.Request.Context(), c.Param("id"), terminal)
	if err != nil {
		respondTicketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

func respondTicketError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Ticket not found",
		})
	case errors.Is(err, ErrInvalidPriority):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidStatus):
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
