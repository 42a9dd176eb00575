package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/supportdesk/assignment/internal/models"
)

type Store interface {
	Ping(ctx context.Context) error
	ListAgents(ctx context.Context) ([]models.Agent, error)
	UpsertAgents(ctx context.Context, agents []models.Agent) (int64, error)
	SaveTicket(ctx context.Context, t models.Ticket) error
	ListAssignments(ctx context.Context, ticketID string) ([]models.Assignment, error)
	GetLatestRun(ctx context.Context) (models.Run, error)
}

type Engine interface {
	Assign(ctx context.Context, ticketID, explicitAgentID string) (models.AssignmentResult, error)
	Recommend(ctx context.Context, ticketID string) (models.AssignmentResult, error)
}

type Rebalancer interface {
	Rebalance(ctx context.Context) (models.RebalanceResult, error)
}

type Handler struct {
	Store          Store
	Engine         Engine
	Rebalancer     Rebalancer
	Validator      *validator.Validate
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

func (h *Handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := h.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Latest rebalance run
// @Tags runs
// @Produce json
// @Success 200 {object} models.Run
// @Failure 404 {object} map[string]any
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	run, err := h.Store.GetLatestRun(c.Request.Context())
	if errors.Is(err, models.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", nil)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load run", err.Error())
		return
	}
	c.JSON(http.StatusOK, run)
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// writeEngineError maps engine failures onto the error envelope.
func (h *Handler) writeEngineError(c *gin.Context, ticketID string, err error) {
	var (
		providerErr *models.ProviderError
		commitErr   *models.CommitError
	)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
	case errors.As(err, &commitErr):
		h.Logger.Error().Err(err).Str("ticket_id", ticketID).Str("agent_id", commitErr.AgentID).Msg("assignment commit failed")
		writeError(c, http.StatusBadGateway, "COMMIT_FAILED", "Assignment could not be committed", gin.H{
			"ticket_id": commitErr.TicketID,
			"agent_id":  commitErr.AgentID,
			"error":     commitErr.Err.Error(),
		})
	case errors.As(err, &providerErr):
		h.Logger.Error().Err(err).Str("ticket_id", ticketID).Msg("provider unavailable")
		writeError(c, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "Agent or ticket data unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", err.Error())
	default:
		h.Logger.Error().Err(err).Str("ticket_id", ticketID).Msg("assignment failed")
		writeError(c, http.StatusInternalServerError, "INTERNAL", "Assignment failed", err.Error())
	}
}
