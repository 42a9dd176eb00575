package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supportdesk/assignment/internal/models"
)

// MemoryStore keeps agents, tickets and history in process. It backs the
// service when no DATABASE_URL is configured and doubles as the fake in
// tests.
type MemoryStore struct {
	mu          sync.Mutex
	agents      map[string]models.Agent
	tickets     map[string]models.Ticket
	assignments []models.Assignment
	runs        []models.Run
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:  map[string]models.Agent{},
		tickets: map[string]models.Ticket{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) UpsertAgents(_ context.Context, agents []models.Agent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range agents {
		if prev, ok := m.agents[a.ID]; ok {
			a.CurrentWorkload = prev.CurrentWorkload
			a.WeightedWorkload = prev.WeightedWorkload
			a.LastAssignedAt = prev.LastAssignedAt
		}
		m.agents[a.ID] = a
	}
	return int64(len(agents)), nil
}

// SaveTicket inserts or updates a ticket. Updating a known ticket moves
// its assignee's counters when it leaves or re-enters the open states or
// changes priority. Inserts never touch counters.
func (m *MemoryStore) SaveTicket(_ context.Context, t models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.tickets[t.ID]
	if ok && t.AssigneeID == nil {
		t.AssigneeID = prev.AssigneeID
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	if ok {
		for _, c := range workloadChanges(prev, t) {
			a, found := m.agents[c.AgentID]
			if !found {
				continue
			}
			a.CurrentWorkload = max(a.CurrentWorkload+c.Tickets, 0)
			a.WeightedWorkload = max(a.WeightedWorkload+c.Weight, 0)
			m.agents[c.AgentID] = a
		}
	}
	m.tickets[t.ID] = t
	return nil
}

func (m *MemoryStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	return m.ListEligibleAgents(ctx)
}

func (m *MemoryStore) ListEligibleAgents(context.Context) ([]models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id string) (models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return models.Agent{}, models.ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) IncrementWorkload(_ context.Context, agentID string, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, models.ErrNotFound)
	}
	if a.AtCapacity() {
		return fmt.Errorf("agent %s: %w", agentID, models.ErrCapacityViolation)
	}
	now := m.now()
	a.CurrentWorkload++
	a.WeightedWorkload += weight
	a.LastAssignedAt = &now
	m.agents[agentID] = a
	return nil
}

func (m *MemoryStore) DecrementWorkload(_ context.Context, agentID string, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, models.ErrNotFound)
	}
	a.CurrentWorkload = max(a.CurrentWorkload-1, 0)
	a.WeightedWorkload = max(a.WeightedWorkload-weight, 0)
	m.agents[agentID] = a
	return nil
}

func (m *MemoryStore) GetTicket(_ context.Context, ticketID string) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return models.Ticket{}, models.ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) ListOpenTickets(_ context.Context, agentID string) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ticket
	for _, t := range m.tickets {
		if t.AssigneeID != nil && *t.AssigneeID == agentID && t.Status.Assignable() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) RecordAssignment(_ context.Context, ticketID, agentID string, reason models.Reason, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return fmt.Errorf("ticket %s: %w", ticketID, models.ErrNotFound)
	}
	var from string
	if t.AssigneeID != nil {
		from = *t.AssigneeID
	}
	id := agentID
	t.AssigneeID = &id
	m.tickets[ticketID] = t
	m.assignments = append(m.assignments, models.Assignment{
		TicketID:    ticketID,
		AgentID:     agentID,
		FromAgentID: from,
		ReasonCode:  reason.Code,
		ReasonText:  reason.Text,
		Confidence:  confidence,
		AssignedAt:  m.now(),
	})
	return nil
}

func (m *MemoryStore) RecordReassignment(_ context.Context, move models.Move, reason models.Reason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[move.TicketID]
	if !ok {
		return fmt.Errorf("ticket %s: %w", move.TicketID, models.ErrNotFound)
	}
	if t.AssigneeID == nil || *t.AssigneeID != move.FromAgentID {
		return fmt.Errorf("ticket %s is no longer assigned to %s", move.TicketID, move.FromAgentID)
	}
	to := move.ToAgentID
	t.AssigneeID = &to
	m.tickets[move.TicketID] = t
	m.assignments = append(m.assignments, models.Assignment{
		TicketID:    move.TicketID,
		AgentID:     move.ToAgentID,
		FromAgentID: move.FromAgentID,
		ReasonCode:  reason.Code,
		ReasonText:  reason.Text,
		AssignedAt:  m.now(),
	})
	return nil
}

func (m *MemoryStore) ListAssignments(_ context.Context, ticketID string) ([]models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Assignment
	for _, a := range m.assignments {
		if a.TicketID == ticketID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateRun(_ context.Context, status string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.runs = append(m.runs, models.Run{ID: id, StartedAt: m.now(), Status: status})
	return id, nil
}

func (m *MemoryStore) FinishRun(_ context.Context, runID string, status string, summary []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == runID {
			now := m.now()
			m.runs[i].Status = status
			m.runs[i].Summary = summary
			m.runs[i].FinishedAt = &now
			return nil
		}
	}
	return fmt.Errorf("run %s: %w", runID, models.ErrNotFound)
}

func (m *MemoryStore) GetLatestRun(context.Context) (models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return models.Run{}, models.ErrNotFound
	}
	return m.runs[len(m.runs)-1], nil
}
