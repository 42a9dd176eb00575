package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher queues notification intents and delivers them from background
// workers. Delivery failures and queue overflow are logged and dropped;
// they never reach the caller.
type Dispatcher struct {
	publisher Publisher
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

type DispatcherConfig struct {
	Buffer  int
	Workers int
	Timeout time.Duration
}

func NewDispatcher(p Publisher, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		publisher: p,
		timeout:   cfg.Timeout,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		queue:     make(chan Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) NotifyAssigned(_ context.Context, ticketID, agentID string) {
	d.enqueue(NewAssigned(ticketID, agentID, d.now()))
}

func (d *Dispatcher) NotifyReassigned(_ context.Context, ticketID, fromAgentID, toAgentID string) {
	d.enqueue(NewReassigned(ticketID, fromAgentID, toAgentID, d.now()))
}

func (d *Dispatcher) enqueue(evt Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Str("ticket_id", evt.TicketID).Str("type", evt.Type).Msg("notification dropped, dispatcher closed")
		return
	}
	select {
	case d.queue <- evt:
	default:
		d.logger.Warn().Str("ticket_id", evt.TicketID).Str("type", evt.Type).Msg("notification dropped, queue full")
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.publisher.Publish(ctx, evt)
		cancel()
		if err != nil {
			d.logger.Error().Err(err).
				Str("event_id", evt.ID).
				Str("ticket_id", evt.TicketID).
				Str("type", evt.Type).
				Msg("notification delivery failed")
		}
	}
}

// Close stops accepting events, drains the queue and closes the publisher.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return d.publisher.Close()
}
