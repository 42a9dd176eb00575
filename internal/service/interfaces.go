package service

import (
	"context"
	"time"

	"github.com/supportdesk/assignment/internal/models"
)

type AgentProvider interface {
	ListEligibleAgents(ctx context.Context) ([]models.Agent, error)
	// IncrementWorkload returns models.ErrCapacityViolation when the agent
	// is already full.
	IncrementWorkload(ctx context.Context, agentID string, priorityWeight float64) error
	DecrementWorkload(ctx context.Context, agentID string, priorityWeight float64) error
}

type TicketSource interface {
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListOpenTickets(ctx context.Context, agentID string) ([]models.Ticket, error)
}

type PersistenceSink interface {
	RecordAssignment(ctx context.Context, ticketID, agentID string, reason models.Reason, confidence float64) error
	RecordReassignment(ctx context.Context, move models.Move, reason models.Reason) error
}

// NotificationSink is fire-and-forget. Implementations log their own
// delivery failures.
type NotificationSink interface {
	NotifyAssigned(ctx context.Context, ticketID, agentID string)
	NotifyReassigned(ctx context.Context, ticketID, fromAgentID, toAgentID string)
}

type AssignmentHistory interface {
	Touch(agentID string, at time.Time)
	LastAssignedAt(agentID string) (time.Time, bool)
}

type RunRecorder interface {
	CreateRun(ctx context.Context, status string) (string, error)
	FinishRun(ctx context.Context, runID string, status string, summary []byte) error
}

type Timeouts struct {
	Provider time.Duration
	Commit   time.Duration
}

func (t Timeouts) provider() time.Duration {
	if t.Provider <= 0 {
		return 5 * time.Second
	}
	return t.Provider
}

func (t Timeouts) commit() time.Duration {
	if t.Commit <= 0 {
		return 10 * time.Second
	}
	return t.Commit
}
