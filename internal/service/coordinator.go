package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdesk/assignment/internal/locks"
	"github.com/supportdesk/assignment/internal/models"
	"github.com/supportdesk/assignment/internal/scoring"
)

const defaultCommitAttempts = 3

// Coordinator is the entry point for single-ticket assignment. It owns the
// fallback chain and the per-ticket lock.
type Coordinator struct {
	Provider AgentProvider
	Tickets  TicketSource
	Sink     PersistenceSink
	Notifier NotificationSink
	Locks    locks.Locker
	History  AssignmentHistory
	Weights  scoring.Weights
	Timeouts Timeouts
	// CommitAttempts bounds re-selection after a capacity race.
	CommitAttempts int
	Logger         zerolog.Logger
	Now            func() time.Time
}

func (c *Coordinator) selector() *Selector {
	return &Selector{Provider: c.Provider, Weights: c.Weights, Timeouts: c.Timeouts}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Coordinator) commitAttempts() int {
	if c.CommitAttempts <= 0 {
		return defaultCommitAttempts
	}
	return c.CommitAttempts
}

func ticketLockKey(ticketID string) string {
	return "ticket:" + ticketID
}

// Assign assigns a ticket. With explicitAgentID set scoring is skipped and
// the agent is only checked for availability and capacity. Errors are
// returned for lookup failures, a provider outage that defeats every
// fallback level, and commit failures; everything else is reported in the
// result.
func (c *Coordinator) Assign(ctx context.Context, ticketID, explicitAgentID string) (models.AssignmentResult, error) {
	unlock, err := c.Locks.Lock(ctx, ticketLockKey(ticketID))
	if err != nil {
		return models.AssignmentResult{}, fmt.Errorf("lock ticket %s: %w", ticketID, err)
	}
	defer unlock()

	ticket, err := c.getTicket(ctx, ticketID)
	if err != nil {
		return models.AssignmentResult{}, err
	}
	if !ticket.Status.Assignable() {
		return notAssignable(ticket), nil
	}

	if explicitAgentID != "" {
		return c.assignManual(ctx, ticket, explicitAgentID)
	}

	exclude := map[string]bool{}
	var result models.AssignmentResult
	for attempt := 1; attempt <= c.commitAttempts(); attempt++ {
		result, err = c.decide(ctx, ticket, exclude)
		if err != nil {
			return models.AssignmentResult{}, err
		}
		if !result.Success {
			c.Logger.Info().
				Str("ticket_id", ticket.ID).
				Str("reason", result.Reason.Code).
				Msg("ticket left for manual assignment")
			return result, nil
		}
		err := c.commit(ctx, ticket, result)
		if errors.Is(err, models.ErrCapacityViolation) {
			c.Logger.Warn().
				Str("ticket_id", ticket.ID).
				Str("agent_id", result.AssignedAgentID).
				Int("attempt", attempt).
				Msg("agent filled up before commit, reselecting")
			exclude[result.AssignedAgentID] = true
			continue
		}
		if err != nil {
			return result, err
		}
		c.Logger.Info().
			Str("ticket_id", ticket.ID).
			Str("agent_id", result.AssignedAgentID).
			Str("method", string(result.Method)).
			Float64("confidence", result.Confidence).
			Msg("ticket assigned")
		return result, nil
	}
	return manualRequired(ticket.ID, "agents kept reaching capacity during commit"), nil
}

// Recommend runs the fallback chain without locking, committing or
// notifying.
func (c *Coordinator) Recommend(ctx context.Context, ticketID string) (models.AssignmentResult, error) {
	ticket, err := c.getTicket(ctx, ticketID)
	if err != nil {
		return models.AssignmentResult{}, err
	}
	if !ticket.Status.Assignable() {
		return notAssignable(ticket), nil
	}
	return c.decide(ctx, ticket, nil)
}

func (c *Coordinator) getTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.provider())
	defer cancel()
	ticket, err := c.Tickets.GetTicket(ctx, ticketID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Ticket{}, fmt.Errorf("ticket %s: %w", ticketID, err)
	}
	if err != nil {
		return models.Ticket{}, &models.ProviderError{Op: "get ticket", Err: err}
	}
	return ticket, nil
}

// decide walks intelligent -> round-robin -> manual and stops at the first
// level that yields an agent. A provider failure in the intelligent step
// only moves the chain on; when round-robin cannot load the roster either
// the *models.ProviderError is returned.
func (c *Coordinator) decide(ctx context.Context, ticket models.Ticket, exclude map[string]bool) (models.AssignmentResult, error) {
	sel := c.selector()
	intelligent, err := sel.Select(ctx, ticket, exclude)
	if err == nil && intelligent.Success {
		return intelligent, nil
	}
	cause := intelligent.Reason.Code
	if err != nil {
		cause = "provider_error"
		c.Logger.Warn().Err(err).Str("ticket_id", ticket.ID).Msg("intelligent selection failed, falling back to round-robin")
	}

	agents, err := sel.Roster(ctx)
	if err != nil {
		c.Logger.Warn().Err(err).Str("ticket_id", ticket.ID).Msg("round-robin selection failed")
		return models.AssignmentResult{}, fmt.Errorf("assign ticket %s: %w", ticket.ID, err)
	}
	agents = withoutAgents(agents, exclude)
	agent, ok := PickRoundRobin(agents, c.History)
	if !ok {
		return manualRequired(ticket.ID, cause+"; no agent available for round-robin"), nil
	}
	return roundRobinResult(ticket.ID, agent, countAvailable(agents)), nil
}

func (c *Coordinator) assignManual(ctx context.Context, ticket models.Ticket, agentID string) (models.AssignmentResult, error) {
	agents, err := c.selector().Roster(ctx)
	if err != nil {
		return models.AssignmentResult{}, fmt.Errorf("manual assignment of ticket %s: %w", ticket.ID, err)
	}
	var agent *models.Agent
	for i := range agents {
		if agents[i].ID == agentID {
			agent = &agents[i]
			break
		}
	}
	switch {
	case agent == nil:
		return manualRejected(ticket.ID, models.ReasonAgentNotFound, fmt.Sprintf("agent %s does not exist", agentID)), nil
	case agent.Availability == models.AvailabilityOffline:
		return manualRejected(ticket.ID, models.ReasonAgentOffline, fmt.Sprintf("agent %s is offline", agentID)), nil
	case agent.AtCapacity() && !assignedTo(ticket, agentID):
		return manualRejected(ticket.ID, models.ReasonAgentAtCapacity, fmt.Sprintf("agent %s has %d/%d open tickets", agentID, agent.CurrentWorkload, agent.MaxConcurrentTickets)), nil
	}

	result := models.AssignmentResult{
		TicketID:          ticket.ID,
		Success:           true,
		AssignedAgentID:   agentID,
		Method:            models.MethodManual,
		Reason:            models.Reason{Code: models.ReasonManual, Text: fmt.Sprintf("assigned to %s by request", agentID)},
		Confidence:        1,
		AlternativeAgents: []models.Candidate{},
	}
	err = c.commit(ctx, ticket, result)
	if errors.Is(err, models.ErrCapacityViolation) {
		return manualRejected(ticket.ID, models.ReasonAgentAtCapacity, fmt.Sprintf("agent %s reached capacity", agentID)), nil
	}
	if err != nil {
		return result, err
	}
	c.Logger.Info().Str("ticket_id", ticket.ID).Str("agent_id", agentID).Msg("ticket assigned manually")
	return result, nil
}

// commit increments the agent, records the assignment, releases a previous
// assignee and queues the notification. A failed release is only logged
// since the reassignment is already recorded. A capacity race is returned as
// models.ErrCapacityViolation so the caller can reselect; anything else is
// a *models.CommitError.
func (c *Coordinator) commit(ctx context.Context, ticket models.Ticket, result models.AssignmentResult) error {
	agentID := result.AssignedAgentID
	if assignedTo(ticket, agentID) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.commit())
	defer cancel()

	weight := ticket.Priority.Weight()
	if err := c.Provider.IncrementWorkload(ctx, agentID, weight); err != nil {
		if errors.Is(err, models.ErrCapacityViolation) {
			return err
		}
		return &models.CommitError{TicketID: ticket.ID, AgentID: agentID, Err: err}
	}
	if err := c.Sink.RecordAssignment(ctx, ticket.ID, agentID, result.Reason, result.Confidence); err != nil {
		if derr := c.Provider.DecrementWorkload(ctx, agentID, weight); derr != nil {
			c.Logger.Error().Err(derr).Str("ticket_id", ticket.ID).Str("agent_id", agentID).Msg("compensating workload decrement failed")
		}
		return &models.CommitError{TicketID: ticket.ID, AgentID: agentID, Err: err}
	}
	if ticket.AssigneeID != nil && *ticket.AssigneeID != "" {
		if err := c.Provider.DecrementWorkload(ctx, *ticket.AssigneeID, weight); err != nil {
			c.Logger.Error().Err(err).
				Str("ticket_id", ticket.ID).
				Str("agent_id", *ticket.AssigneeID).
				Msg("release of previous assignee failed")
		}
	}

	if c.History != nil {
		c.History.Touch(agentID, c.now())
	}
	if c.Notifier != nil {
		if ticket.AssigneeID != nil && *ticket.AssigneeID != "" {
			c.Notifier.NotifyReassigned(ctx, ticket.ID, *ticket.AssigneeID, agentID)
		} else {
			c.Notifier.NotifyAssigned(ctx, ticket.ID, agentID)
		}
	}
	return nil
}

func assignedTo(ticket models.Ticket, agentID string) bool {
	return ticket.AssigneeID != nil && *ticket.AssigneeID == agentID
}

func notAssignable(ticket models.Ticket) models.AssignmentResult {
	return models.AssignmentResult{
		TicketID:          ticket.ID,
		Reason:            models.Reason{Code: models.ReasonTicketNotAssignable, Text: fmt.Sprintf("ticket status is %s", ticket.Status)},
		AlternativeAgents: []models.Candidate{},
	}
}

func manualRequired(ticketID, detail string) models.AssignmentResult {
	return models.AssignmentResult{
		TicketID:          ticketID,
		Reason:            models.Reason{Code: models.ReasonManualAssignmentRequired, Text: detail},
		AlternativeAgents: []models.Candidate{},
	}
}

func manualRejected(ticketID, code, text string) models.AssignmentResult {
	return models.AssignmentResult{
		TicketID:          ticketID,
		Reason:            models.Reason{Code: code, Text: text},
		AlternativeAgents: []models.Candidate{},
	}
}
