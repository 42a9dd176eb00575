package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventAssigned   = "ticket_assigned"
	EventReassigned = "ticket_reassigned"
)

// Event is the outbound message for agents. Reassignments address both the
// previous and the new assignee.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	TicketID    string    `json:"ticket_id"`
	AgentID     string    `json:"agent_id"`
	FromAgentID string    `json:"from_agent_id,omitempty"`
	Recipients  []string  `json:"recipients"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewAssigned(ticketID, agentID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       EventAssigned,
		TicketID:   ticketID,
		AgentID:    agentID,
		Recipients: []string{agentID},
		Timestamp:  at,
	}
}

func NewReassigned(ticketID, fromAgentID, toAgentID string, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        EventReassigned,
		TicketID:    ticketID,
		AgentID:     toAgentID,
		FromAgentID: fromAgentID,
		Recipients:  []string{fromAgentID, toAgentID},
		Timestamp:   at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// LogPublisher writes events to the service log. It is used when no
// broker is configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, evt Event) error {
	p.Logger.Info().
		Str("event_id", evt.ID).
		Str("type", evt.Type).
		Str("ticket_id", evt.TicketID).
		Strs("recipients", evt.Recipients).
		Msg("notification")
	return nil
}

func (LogPublisher) Close() error { return nil }
