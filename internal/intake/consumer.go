package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/supportdesk/assignment/internal/models"
)

const (
	EventTicketCreated     = "ticket_created"
	EventTicketTransferred = "ticket_transferred"
)

// Event is a ticket lifecycle message. AgentID on a transfer names the
// requested new owner; empty means pick one.
type Event struct {
	Type    string        `json:"type"`
	Ticket  models.Ticket `json:"ticket"`
	AgentID string        `json:"agent_id,omitempty"`
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type TicketStore interface {
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	SaveTicket(ctx context.Context, t models.Ticket) error
}

type Assigner interface {
	Assign(ctx context.Context, ticketID, explicitAgentID string) (models.AssignmentResult, error)
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// Consumer feeds ticket events into the assigner through a bounded pool of
// workers.
type Consumer struct {
	Reader   MessageReader
	Tickets  TicketStore
	Assigner Assigner
	Workers  int
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Run blocks until ctx is cancelled or the reader fails. In-flight events
// finish before it returns.
func (c *Consumer) Run(ctx context.Context) error {
	workers := c.Workers
	if workers <= 0 {
		workers = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var fetchErr error
	for {
		msg, err := c.Reader.FetchMessage(gctx)
		if err != nil {
			if ctx.Err() == nil {
				fetchErr = fmt.Errorf("fetch ticket event: %w", err)
			}
			break
		}
		g.Go(func() error {
			c.handle(gctx, msg)
			if err := c.Reader.CommitMessages(gctx, msg); err != nil && gctx.Err() == nil {
				c.Logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("commit ticket event failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return fetchErr
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var evt Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		c.Logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("skip malformed ticket event")
		return
	}
	if err := c.Process(ctx, evt); err != nil {
		c.Logger.Error().Err(err).
			Str("type", evt.Type).
			Str("ticket_id", evt.Ticket.ID).
			Msg("ticket event failed")
	}
}

// Process applies one ticket event: the projection is stored, then the
// ticket is routed through the assigner.
func (c *Consumer) Process(ctx context.Context, evt Event) error {
	if evt.Ticket.ID == "" {
		return errors.New("ticket id is required")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if evt.Ticket.Status == "" {
		evt.Ticket.Status = models.TicketStatusOpen
	}
	if evt.Ticket.Priority == "" {
		evt.Ticket.Priority = models.PriorityMedium
	}

	explicit := ""
	switch evt.Type {
	case EventTicketCreated:
		existing, err := c.Tickets.GetTicket(ctx, evt.Ticket.ID)
		if err == nil && existing.AssigneeID != nil {
			c.Logger.Debug().Str("ticket_id", evt.Ticket.ID).Msg("ticket already assigned, skipping redelivery")
			return nil
		}
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("lookup ticket: %w", err)
		}
	case EventTicketTransferred:
		explicit = evt.AgentID
	default:
		c.Logger.Debug().Str("type", evt.Type).Msg("ignore ticket event")
		return nil
	}

	if err := c.Tickets.SaveTicket(ctx, evt.Ticket); err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	res, err := c.Assigner.Assign(ctx, evt.Ticket.ID, explicit)
	if err != nil {
		return fmt.Errorf("assign: %w", err)
	}
	c.Logger.Info().
		Str("ticket_id", evt.Ticket.ID).
		Str("type", evt.Type).
		Bool("success", res.Success).
		Str("agent_id", res.AssignedAgentID).
		Str("reason", res.Reason.Code).
		Msg("ticket event processed")
	return nil
}
