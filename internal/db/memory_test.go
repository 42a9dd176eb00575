package db

import (
	"context"
	"errors"
	"testing"

	"github.com/supportdesk/assignment/internal/models"
)

func TestMemoryUpsertKeepsWorkload(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, _ = m.UpsertAgents(ctx, []models.Agent{{ID: "a1", MaxConcurrentTickets: 2}})
	if err := m.IncrementWorkload(ctx, "a1", 2); err != nil {
		t.Fatalf("increment: %v", err)
	}
	_, _ = m.UpsertAgents(ctx, []models.Agent{{ID: "a1", Name: "Ann", MaxConcurrentTickets: 3}})

	a, err := m.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Name != "Ann" || a.MaxConcurrentTickets != 3 || a.CurrentWorkload != 1 || a.WeightedWorkload != 2 {
		t.Fatalf("unexpected agent after upsert %+v", a)
	}
	if a.LastAssignedAt == nil {
		t.Fatalf("expected last assignment time kept")
	}
}

func TestMemoryIncrementRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, _ = m.UpsertAgents(ctx, []models.Agent{{ID: "a1", MaxConcurrentTickets: 1}})

	if err := m.IncrementWorkload(ctx, "a1", 1); err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if err := m.IncrementWorkload(ctx, "a1", 1); !errors.Is(err, models.ErrCapacityViolation) {
		t.Fatalf("expected capacity violation, got %v", err)
	}
	if err := m.IncrementWorkload(ctx, "ghost", 1); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_ = m.DecrementWorkload(ctx, "a1", 1)
	_ = m.DecrementWorkload(ctx, "a1", 1)
	if a, _ := m.GetAgent(ctx, "a1"); a.CurrentWorkload != 0 || a.WeightedWorkload != 0 {
		t.Fatalf("expected workload floored at zero, got %+v", a)
	}
}

func TestMemoryAssignmentsAndReassignment(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.SaveTicket(ctx, models.Ticket{ID: "t1", Status: models.TicketStatusOpen})

	if err := m.RecordAssignment(ctx, "t1", "a1", models.Reason{Code: models.ReasonIntelligent}, 0.8); err != nil {
		t.Fatalf("record: %v", err)
	}
	open, _ := m.ListOpenTickets(ctx, "a1")
	if len(open) != 1 {
		t.Fatalf("expected t1 open for a1, got %v", open)
	}

	stale := models.Move{TicketID: "t1", FromAgentID: "a9", ToAgentID: "a2"}
	if err := m.RecordReassignment(ctx, stale, models.Reason{Code: models.ReasonRebalance}); err == nil {
		t.Fatalf("expected stale move to be rejected")
	}
	move := models.Move{TicketID: "t1", FromAgentID: "a1", ToAgentID: "a2"}
	if err := m.RecordReassignment(ctx, move, models.Reason{Code: models.ReasonRebalance}); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	// a later projection update without assignee must not drop the owner
	_ = m.SaveTicket(ctx, models.Ticket{ID: "t1", Status: models.TicketStatusInProgress})
	tk, _ := m.GetTicket(ctx, "t1")
	if tk.AssigneeID == nil || *tk.AssigneeID != "a2" {
		t.Fatalf("expected a2 to own t1, got %+v", tk)
	}

	history, _ := m.ListAssignments(ctx, "t1")
	if len(history) != 2 || history[1].FromAgentID != "a1" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestMemoryRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if _, err := m.GetLatestRun(ctx); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	id, _ := m.CreateRun(ctx, "RUNNING")
	if err := m.FinishRun(ctx, id, "COMPLETED", []byte(`{"reassignments":0}`)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	run, err := m.GetLatestRun(ctx)
	if err != nil || run.ID != id || run.Status != "COMPLETED" || run.FinishedAt == nil {
		t.Fatalf("unexpected run %+v %v", run, err)
	}
	if err := m.FinishRun(ctx, "missing", "FAILED", nil); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for unknown run, got %v", err)
	}
}

func TestMemorySaveTicketReleasesClosedTicket(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, _ = m.UpsertAgents(ctx, []models.Agent{{ID: "a1", MaxConcurrentTickets: 1}})
	_ = m.SaveTicket(ctx, models.Ticket{ID: "t1", Priority: models.PriorityHigh, Status: models.TicketStatusOpen})
	if err := m.IncrementWorkload(ctx, "a1", models.PriorityHigh.Weight()); err != nil {
		t.Fatalf("increment: %v", err)
	}
	_ = m.RecordAssignment(ctx, "t1", "a1", models.Reason{Code: models.ReasonIntelligent}, 0.9)

	if err := m.SaveTicket(ctx, models.Ticket{ID: "t1", Priority: models.PriorityHigh, Status: models.TicketStatusResolved}); err != nil {
		t.Fatalf("save: %v", err)
	}
	a, _ := m.GetAgent(ctx, "a1")
	if a.CurrentWorkload != 0 || a.WeightedWorkload != 0 {
		t.Fatalf("expected resolved ticket released, got %+v", a)
	}
	if err := m.IncrementWorkload(ctx, "a1", 1); err != nil {
		t.Fatalf("expected capacity freed, got %v", err)
	}

	// saving the resolved ticket again changes nothing
	_ = m.SaveTicket(ctx, models.Ticket{ID: "t1", Priority: models.PriorityHigh, Status: models.TicketStatusClosed})
	if a, _ := m.GetAgent(ctx, "a1"); a.CurrentWorkload != 1 {
		t.Fatalf("expected workload 1, got %+v", a)
	}
}

func TestMemorySaveTicketReopenAndPriorityChange(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, _ = m.UpsertAgents(ctx, []models.Agent{{ID: "a1", MaxConcurrentTickets: 5}})
	_ = m.SaveTicket(ctx, models.Ticket{ID: "t1", Priority: models.PriorityLow, Status: models.TicketStatusOpen})
	_ = m.IncrementWorkload(ctx, "a1", models.PriorityLow.Weight())
	_ = m.RecordAssignment(ctx, "t1", "a1", models.Reason{Code: models.ReasonIntelligent}, 0.9)

	_ = m.SaveTicket(ctx, models.Ticket{ID: "t1", Priority: models.PriorityUrgent, Status: models.TicketStatusInProgress})
	a, _ := m.GetAgent(ctx, "a1")
	if a.CurrentWorkload != 1 || a.WeightedWorkload != models.PriorityUrgent.Weight() {
		t.Fatalf("expected weighted workload to follow priority, got %+v", a)
	}

	_ = m.SaveTicket(ctx, models.Ticket{ID: "t1", Priority: models.PriorityUrgent, Status: models.TicketStatusPending})
	_ = m.SaveTicket(ctx, models.Ticket{ID: "t1", Priority: models.PriorityUrgent, Status: models.TicketStatusOpen})
	a, _ = m.GetAgent(ctx, "a1")
	if a.CurrentWorkload != 1 || a.WeightedWorkload != models.PriorityUrgent.Weight() {
		t.Fatalf("expected reopened ticket counted once, got %+v", a)
	}
}
