package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/supportdesk/assignment/internal/models"
)

type AssignRequest struct {
	AgentID string `json:"agent_id" validate:"omitempty,max=128"`
}

type TicketRequest struct {
	ID            string `json:"id" validate:"required,max=128"`
	Priority      string `json:"priority" validate:"required,oneof=low medium high urgent"`
	CategoryID    string `json:"category_id" validate:"required,max=128"`
	SubcategoryID string `json:"subcategory_id" validate:"omitempty,max=128"`
	Status        string `json:"status" validate:"omitempty,oneof=open in_progress pending resolved closed"`
	Assign        bool   `json:"assign"`
}

// @Summary Register a ticket
// @Description Stores the assignment-relevant projection of a ticket and optionally assigns it
// @Tags tickets
// @Accept json
// @Produce json
// @Param body body TicketRequest true "ticket"
// @Success 200 {object} models.AssignmentResult
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/tickets [post]
func (h *Handler) TicketCreate(c *gin.Context) {
	var req TicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	status := models.TicketStatus(req.Status)
	if status == "" {
		status = models.TicketStatusOpen
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	ticket := models.Ticket{
		ID:            req.ID,
		Priority:      models.Priority(req.Priority),
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
		Status:        status,
	}
	if err := h.Store.SaveTicket(ctx, ticket); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to save ticket", err.Error())
		return
	}
	if !req.Assign {
		c.JSON(http.StatusCreated, gin.H{"status": "ok", "ticket_id": ticket.ID})
		return
	}
	result, err := h.Engine.Assign(ctx, ticket.ID, "")
	if err != nil {
		h.writeEngineError(c, ticket.ID, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Recommend an assignee
// @Description Runs the assignment chain without committing anything
// @Tags tickets
// @Produce json
// @Param id path string true "ticket id"
// @Success 200 {object} models.AssignmentResult
// @Failure 404 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /api/tickets/{id}/recommendation [get]
func (h *Handler) Recommend(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.Engine.Recommend(ctx, id)
	if err != nil {
		h.writeEngineError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Assign a ticket
// @Description Assigns automatically, or to agent_id when given. A result with success=false (for example manual_assignment_required) is not an error.
// @Tags tickets
// @Accept json
// @Produce json
// @Param id path string true "ticket id"
// @Param body body AssignRequest false "explicit agent"
// @Success 200 {object} models.AssignmentResult
// @Failure 404 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /api/tickets/{id}/assign [post]
func (h *Handler) Assign(c *gin.Context) {
	id := c.Param("id")
	var req AssignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return
		}
		if err := h.Validator.Struct(req); err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
			return
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.Engine.Assign(ctx, id, req.AgentID)
	if err != nil {
		h.writeEngineError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Assignment history of a ticket
// @Tags tickets
// @Produce json
// @Param id path string true "ticket id"
// @Success 200 {array} models.Assignment
// @Router /api/tickets/{id}/assignments [get]
func (h *Handler) AssignmentHistory(c *gin.Context) {
	items, err := h.Store.ListAssignments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list assignments", err.Error())
		return
	}
	if items == nil {
		items = []models.Assignment{}
	}
	c.JSON(http.StatusOK, items)
}

// @Summary Rebalance workload
// @Description Moves non-urgent tickets from overloaded to underloaded agents
// @Tags rebalance
// @Produce json
// @Success 200 {object} models.RebalanceResult
// @Failure 409 {object} map[string]any
// @Router /api/rebalance [post]
func (h *Handler) Rebalance(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.Rebalancer.Rebalance(ctx)
	if errors.Is(err, models.ErrAlreadyRunning) {
		writeError(c, http.StatusConflict, "ALREADY_RUNNING", "A rebalance run is already in progress", result)
		return
	}
	if err != nil {
		var providerErr *models.ProviderError
		if errors.As(err, &providerErr) {
			writeError(c, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "Agent or ticket data unavailable", err.Error())
			return
		}
		h.Logger.Error().Err(err).Msg("rebalance failed")
		writeError(c, http.StatusInternalServerError, "REBALANCE_FAILED", "Rebalance failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}
