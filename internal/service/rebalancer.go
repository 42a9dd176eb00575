package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdesk/assignment/internal/locks"
	"github.com/supportdesk/assignment/internal/models"
	"github.com/supportdesk/assignment/internal/scoring"
)

const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusPartial   = "PARTIAL"
	RunStatusFailed    = "FAILED"

	rebalanceLockKey = "rebalance"
)

type RebalanceConfig struct {
	OverloadThreshold  float64
	UnderloadThreshold float64
	MaxMoves           int
}

func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{OverloadThreshold: 0.9, UnderloadThreshold: 0.5, MaxMoves: 20}
}

func (c RebalanceConfig) withDefaults() RebalanceConfig {
	d := DefaultRebalanceConfig()
	if c.OverloadThreshold <= 0 {
		c.OverloadThreshold = d.OverloadThreshold
	}
	if c.UnderloadThreshold <= 0 {
		c.UnderloadThreshold = d.UnderloadThreshold
	}
	if c.MaxMoves <= 0 {
		c.MaxMoves = d.MaxMoves
	}
	return c
}

// Rebalancer moves non-urgent tickets from overloaded to underloaded
// agents. Only one run executes at a time across everything sharing
// RunLock.
type Rebalancer struct {
	Provider AgentProvider
	Tickets  TicketSource
	Sink     PersistenceSink
	Notifier NotificationSink
	// Locks is the per-ticket lock shared with the Coordinator.
	Locks    locks.Locker
	RunLock  locks.TryLocker
	Runs     RunRecorder
	History  AssignmentHistory
	Weights  scoring.Weights
	Config   RebalanceConfig
	Timeouts Timeouts
	Logger   zerolog.Logger
	Now      func() time.Time
}

type plannedMove struct {
	move   models.Move
	ticket models.Ticket
}

// snapshot is the in-memory view a run plans against. It is never written
// back to the provider.
type snapshot struct {
	agents  []models.Agent
	index   map[string]int
	tickets map[string][]models.Ticket
}

func newSnapshot(agents []models.Agent) *snapshot {
	s := &snapshot{
		agents:  append([]models.Agent(nil), agents...),
		index:   make(map[string]int, len(agents)),
		tickets: map[string][]models.Ticket{},
	}
	for i, a := range s.agents {
		s.index[a.ID] = i
	}
	return s
}

func (s *snapshot) agent(id string) *models.Agent {
	return &s.agents[s.index[id]]
}

func (s *snapshot) apply(m plannedMove) {
	w := m.ticket.Priority.Weight()
	from, to := s.agent(m.move.FromAgentID), s.agent(m.move.ToAgentID)
	from.CurrentWorkload--
	from.WeightedWorkload -= w
	to.CurrentWorkload++
	to.WeightedWorkload += w

	src := s.tickets[m.move.FromAgentID]
	for i, t := range src {
		if t.ID == m.ticket.ID {
			s.tickets[m.move.FromAgentID] = append(src[:i:i], src[i+1:]...)
			break
		}
	}
	s.tickets[m.move.ToAgentID] = append(s.tickets[m.move.ToAgentID], m.ticket)
}

func (r *Rebalancer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Rebalance runs one pass. A concurrent pass yields a result with reason
// already_running together with models.ErrAlreadyRunning.
func (r *Rebalancer) Rebalance(ctx context.Context) (models.RebalanceResult, error) {
	unlock, ok, err := r.RunLock.TryLock(ctx, rebalanceLockKey)
	if err != nil {
		return models.RebalanceResult{}, fmt.Errorf("acquire rebalance lock: %w", err)
	}
	if !ok {
		return models.RebalanceResult{
			Success: false,
			Reason:  models.ReasonAlreadyRunning,
			Moves:   []models.Move{},
			Message: "a rebalance run is already in progress",
		}, models.ErrAlreadyRunning
	}
	defer unlock()

	runID := r.startRun(ctx)
	result, err := r.run(ctx)
	result.RunID = runID
	r.finishRun(ctx, runID, result, err)
	return result, err
}

func (r *Rebalancer) run(ctx context.Context) (models.RebalanceResult, error) {
	cfg := r.Config.withDefaults()
	sel := &Selector{Provider: r.Provider, Weights: r.Weights, Timeouts: r.Timeouts}
	agents, err := sel.Roster(ctx)
	if err != nil {
		return models.RebalanceResult{Moves: []models.Move{}}, fmt.Errorf("rebalance: %w", err)
	}

	snap := newSnapshot(agents)
	overloaded, underloaded := classify(snap.agents, cfg)
	if len(overloaded) == 0 || len(underloaded) == 0 {
		return models.RebalanceResult{Success: true, Moves: []models.Move{}, Message: "workload is balanced"}, nil
	}

	planned, err := r.plan(ctx, snap, overloaded, cfg)
	if err != nil {
		return models.RebalanceResult{Moves: []models.Move{}}, err
	}
	if len(planned) == 0 {
		return models.RebalanceResult{Success: true, Moves: []models.Move{}, Message: "no movable tickets"}, nil
	}

	result := models.RebalanceResult{Moves: []models.Move{}}
	for _, p := range planned {
		if err := r.commitMove(ctx, p); err != nil {
			r.Logger.Warn().Err(err).
				Str("ticket_id", p.move.TicketID).
				Str("from_agent_id", p.move.FromAgentID).
				Str("to_agent_id", p.move.ToAgentID).
				Msg("rebalance move failed")
			result.Failed = append(result.Failed, models.FailedMove{Move: p.move, Error: err.Error()})
			continue
		}
		result.Moves = append(result.Moves, p.move)
	}
	result.Reassignments = len(result.Moves)
	result.Success = len(result.Failed) == 0 || result.Reassignments > 0
	if len(result.Failed) == 0 {
		result.Message = fmt.Sprintf("moved %d tickets", result.Reassignments)
	} else {
		result.Message = fmt.Sprintf("moved %d of %d planned tickets, %d failed", result.Reassignments, len(planned), len(result.Failed))
	}
	return result, nil
}

// classify returns overloaded agent ids, busiest first, and the underloaded
// set.
func classify(agents []models.Agent, cfg RebalanceConfig) ([]string, map[string]bool) {
	var over []models.Agent
	under := map[string]bool{}
	for _, a := range agents {
		if !a.Role.Assignable() {
			continue
		}
		u := a.Utilization()
		if u >= cfg.OverloadThreshold {
			over = append(over, a)
		}
		if u <= cfg.UnderloadThreshold && a.Availability != models.AvailabilityOffline {
			under[a.ID] = true
		}
	}
	sort.SliceStable(over, func(i, j int) bool {
		ui, uj := over[i].Utilization(), over[j].Utilization()
		if ui != uj {
			return ui > uj
		}
		return over[i].ID < over[j].ID
	})
	ids := make([]string, 0, len(over))
	for _, a := range over {
		ids = append(ids, a.ID)
	}
	return ids, under
}

func (r *Rebalancer) plan(ctx context.Context, snap *snapshot, overloaded []string, cfg RebalanceConfig) ([]plannedMove, error) {
	for _, id := range overloaded {
		tickets, err := r.openTickets(ctx, id)
		if err != nil {
			return nil, err
		}
		snap.tickets[id] = tickets
	}

	moved := map[string]bool{}
	var planned []plannedMove
	for len(planned) < cfg.MaxMoves {
		progress := false
		for _, src := range overloaded {
			if len(planned) >= cfg.MaxMoves {
				break
			}
			if snap.agent(src).Utilization() < cfg.OverloadThreshold {
				continue
			}
			ticket, ok := pickMovable(snap.tickets[src], moved)
			if !ok {
				continue
			}
			targets := underloadedPool(snap.agents, src, cfg)
			if len(targets) == 0 {
				return planned, nil
			}
			ranked := Rank(snap.agents, ticket, r.Weights, targets)
			if len(ranked) == 0 {
				continue
			}
			p := plannedMove{
				move: models.Move{
					TicketID:    ticket.ID,
					FromAgentID: src,
					ToAgentID:   ranked[0].AgentID,
					Priority:    ticket.Priority,
				},
				ticket: ticket,
			}
			moved[ticket.ID] = true
			snap.apply(p)
			planned = append(planned, p)
			progress = true
		}
		if !progress {
			break
		}
	}
	return planned, nil
}

func (r *Rebalancer) openTickets(ctx context.Context, agentID string) ([]models.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeouts.provider())
	defer cancel()
	tickets, err := r.Tickets.ListOpenTickets(ctx, agentID)
	if err != nil {
		return nil, &models.ProviderError{Op: "list open tickets", Err: err}
	}
	return tickets, nil
}

// underloadedPool recomputes the target set from the current snapshot so a
// target stops receiving once it climbs past the threshold.
func underloadedPool(agents []models.Agent, exclude string, cfg RebalanceConfig) map[string]bool {
	out := map[string]bool{}
	for _, a := range agents {
		if a.ID == exclude || a.Availability == models.AvailabilityOffline || !a.Role.Assignable() {
			continue
		}
		if a.Utilization() <= cfg.UnderloadThreshold {
			out[a.ID] = true
		}
	}
	return out
}

// pickMovable returns the lowest-priority non-urgent assignable ticket not
// yet moved in this run. Ties go to the most recently created, then id.
func pickMovable(tickets []models.Ticket, moved map[string]bool) (models.Ticket, bool) {
	var best *models.Ticket
	for i := range tickets {
		t := &tickets[i]
		if moved[t.ID] || t.Priority == models.PriorityUrgent || !t.Status.Assignable() {
			continue
		}
		if best == nil || lessMovable(*t, *best) {
			best = t
		}
	}
	if best == nil {
		return models.Ticket{}, false
	}
	return *best, true
}

func lessMovable(a, b models.Ticket) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// commitMove re-validates the ticket under its lock and applies the move
// through the same per-agent path as a normal assignment.
func (r *Rebalancer) commitMove(ctx context.Context, p plannedMove) error {
	unlock, err := r.Locks.Lock(ctx, ticketLockKey(p.move.TicketID))
	if err != nil {
		return fmt.Errorf("lock ticket: %w", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, r.Timeouts.commit())
	defer cancel()

	current, err := r.Tickets.GetTicket(ctx, p.move.TicketID)
	if err != nil {
		return fmt.Errorf("reload ticket: %w", err)
	}
	if !current.Status.Assignable() || current.AssigneeID == nil || *current.AssigneeID != p.move.FromAgentID {
		return errors.New("ticket changed since snapshot")
	}
	if current.Priority == models.PriorityUrgent {
		return errors.New("ticket became urgent since snapshot")
	}

	weight := current.Priority.Weight()
	if err := r.Provider.IncrementWorkload(ctx, p.move.ToAgentID, weight); err != nil {
		return fmt.Errorf("increment target: %w", err)
	}
	reason := models.Reason{
		Code: models.ReasonRebalance,
		Text: fmt.Sprintf("moved from overloaded agent %s", p.move.FromAgentID),
	}
	if err := r.Sink.RecordReassignment(ctx, p.move, reason); err != nil {
		if derr := r.Provider.DecrementWorkload(ctx, p.move.ToAgentID, weight); derr != nil {
			r.Logger.Error().Err(derr).Str("agent_id", p.move.ToAgentID).Msg("compensating workload decrement failed")
		}
		return &models.CommitError{TicketID: p.move.TicketID, AgentID: p.move.ToAgentID, Err: err}
	}
	if err := r.Provider.DecrementWorkload(ctx, p.move.FromAgentID, weight); err != nil {
		r.Logger.Error().Err(err).Str("agent_id", p.move.FromAgentID).Str("ticket_id", p.move.TicketID).Msg("release source workload failed")
	}

	if r.History != nil {
		r.History.Touch(p.move.ToAgentID, r.now())
	}
	if r.Notifier != nil {
		r.Notifier.NotifyReassigned(ctx, p.move.TicketID, p.move.FromAgentID, p.move.ToAgentID)
	}
	return nil
}

func (r *Rebalancer) startRun(ctx context.Context) string {
	if r.Runs == nil {
		return ""
	}
	id, err := r.Runs.CreateRun(ctx, RunStatusRunning)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("create rebalance run failed")
		return ""
	}
	return id
}

func (r *Rebalancer) finishRun(ctx context.Context, runID string, result models.RebalanceResult, runErr error) {
	status := RunStatusCompleted
	switch {
	case runErr != nil || !result.Success:
		status = RunStatusFailed
	case len(result.Failed) > 0:
		status = RunStatusPartial
	}

	evt := r.Logger.Info()
	if runErr != nil {
		evt = r.Logger.Error().Err(runErr)
	}
	evt.Str("run_id", runID).
		Str("status", status).
		Int("reassignments", result.Reassignments).
		Int("failed", len(result.Failed)).
		Msg("rebalance run finished")

	if r.Runs == nil || runID == "" {
		return
	}
	summary, err := json.Marshal(result)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("encode rebalance summary failed")
		return
	}
	if err := r.Runs.FinishRun(ctx, runID, status, summary); err != nil {
		r.Logger.Warn().Err(err).Str("run_id", runID).Msg("finish rebalance run failed")
	}
}

// Start runs Rebalance every interval until ctx is done. A non-positive
// interval disables the loop.
func (r *Rebalancer) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		r.Logger.Info().Msg("periodic rebalancing disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := r.Rebalance(ctx)
			if errors.Is(err, models.ErrAlreadyRunning) {
				r.Logger.Debug().Msg("rebalance skipped, previous run still active")
				continue
			}
			if err != nil && ctx.Err() == nil {
				r.Logger.Error().Err(err).Msg("scheduled rebalance failed")
			}
		}
	}
}
