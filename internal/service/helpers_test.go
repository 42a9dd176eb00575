package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdesk/assignment/internal/db"
	"github.com/supportdesk/assignment/internal/locks"
	"github.com/supportdesk/assignment/internal/models"
	"github.com/supportdesk/assignment/internal/scoring"
)

var errBoom = errors.New("boom")

// flakyProvider wraps the memory store and injects failures.
type flakyProvider struct {
	*db.MemoryStore

	mu          sync.Mutex
	listFails   int
	raceAgentID string
	incrFail    error
	decrFail    error
	increments  int
}

func (p *flakyProvider) ListEligibleAgents(ctx context.Context) ([]models.Agent, error) {
	p.mu.Lock()
	if p.listFails > 0 {
		p.listFails--
		p.mu.Unlock()
		return nil, errBoom
	}
	p.mu.Unlock()
	return p.MemoryStore.ListEligibleAgents(ctx)
}

func (p *flakyProvider) IncrementWorkload(ctx context.Context, agentID string, weight float64) error {
	p.mu.Lock()
	p.increments++
	if agentID == p.raceAgentID {
		p.raceAgentID = ""
		p.mu.Unlock()
		return fmt.Errorf("agent %s: %w", agentID, models.ErrCapacityViolation)
	}
	if p.incrFail != nil {
		err := p.incrFail
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()
	return p.MemoryStore.IncrementWorkload(ctx, agentID, weight)
}

func (p *flakyProvider) DecrementWorkload(ctx context.Context, agentID string, weight float64) error {
	p.mu.Lock()
	if p.decrFail != nil {
		err := p.decrFail
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()
	return p.MemoryStore.DecrementWorkload(ctx, agentID, weight)
}

type failingSink struct {
	*db.MemoryStore
	failTicket string
}

func (s *failingSink) RecordAssignment(ctx context.Context, ticketID, agentID string, reason models.Reason, confidence float64) error {
	if ticketID == s.failTicket {
		return errBoom
	}
	return s.MemoryStore.RecordAssignment(ctx, ticketID, agentID, reason, confidence)
}

func (s *failingSink) RecordReassignment(ctx context.Context, move models.Move, reason models.Reason) error {
	if move.TicketID == s.failTicket {
		return errBoom
	}
	return s.MemoryStore.RecordReassignment(ctx, move, reason)
}

type notification struct {
	kind     string
	ticketID string
	from, to string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) NotifyAssigned(_ context.Context, ticketID, agentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "assigned", ticketID: ticketID, to: agentID})
}

func (n *recordingNotifier) NotifyReassigned(_ context.Context, ticketID, from, to string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "reassigned", ticketID: ticketID, from: from, to: to})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixedHistory map[string]time.Time

func (h fixedHistory) Touch(agentID string, at time.Time) { h[agentID] = at }

func (h fixedHistory) LastAssignedAt(agentID string) (time.Time, bool) {
	at, ok := h[agentID]
	return at, ok
}

func agent(id string, workload, capacity int) models.Agent {
	return models.Agent{
		ID:                   id,
		Role:                 models.RoleAgent,
		MaxConcurrentTickets: capacity,
		CurrentWorkload:      workload,
		WeightedWorkload:     float64(workload) * models.PriorityMedium.Weight(),
		Availability:         models.AvailabilityAvailable,
	}
}

func openTicket(id string, p models.Priority) models.Ticket {
	return models.Ticket{
		ID:        id,
		Priority:  p,
		Status:    models.TicketStatusOpen,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func seed(t *testing.T, agents []models.Agent, tickets []models.Ticket) *db.MemoryStore {
	t.Helper()
	store := db.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.UpsertAgents(ctx, agents); err != nil {
		t.Fatalf("seed agents: %v", err)
	}
	for _, tk := range tickets {
		if err := store.SaveTicket(ctx, tk); err != nil {
			t.Fatalf("seed ticket: %v", err)
		}
	}
	return store
}

func newCoordinator(store *db.MemoryStore, n *recordingNotifier) *Coordinator {
	return &Coordinator{
		Provider: store,
		Tickets:  store,
		Sink:     store,
		Notifier: n,
		Locks:    locks.NewKeyedMutex(),
		History:  fixedHistory{},
		Weights:  scoring.DefaultWeights(),
		Logger:   zerolog.Nop(),
	}
}

func mustAgent(t *testing.T, store *db.MemoryStore, id string) models.Agent {
	t.Helper()
	a, err := store.GetAgent(context.Background(), id)
	if err != nil {
		t.Fatalf("get agent %s: %v", id, err)
	}
	return a
}
