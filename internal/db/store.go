package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportdesk/assignment/internal/models"
	"github.com/supportdesk/assignment/internal/utils"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	Pool *pgxpool.Pool
	// Retry applies to reads only. Writes are never retried here.
	Retry utils.RetryPolicy
}

func New(ctx context.Context, databaseURL string, retry utils.RetryPolicy) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if retry.Retryable == nil {
		retry.Retryable = retryable
	}
	return &Store{Pool: pool, Retry: retry}, nil
}

func retryable(err error) bool {
	return !errors.Is(err, models.ErrNotFound) && !errors.Is(err, pgx.ErrNoRows)
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const agentColumns = `id, name, role, max_concurrent_tickets, current_workload, weighted_workload, availability,
	resolution_rate, avg_resolution_time_hours, satisfaction_score,
	category_expertise, subcategory_expertise, last_activity, last_assigned_at`

func scanAgent(row pgx.Row) (models.Agent, error) {
	var (
		a            models.Agent
		rate         *float64
		hours        *float64
		satisfaction *float64
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Role, &a.MaxConcurrentTickets, &a.CurrentWorkload, &a.WeightedWorkload, &a.Availability,
		&rate, &hours, &satisfaction,
		&a.CategoryExpertise, &a.SubcategoryExpertise, &a.LastActivity, &a.LastAssignedAt); err != nil {
		return models.Agent{}, err
	}
	if rate != nil && hours != nil && satisfaction != nil {
		a.Performance = &models.Performance{ResolutionRate: *rate, AvgResolutionTimeHours: *hours, SatisfactionScore: *satisfaction}
	}
	return a, nil
}

// ListEligibleAgents returns the full roster. Eligibility filtering is the
// selector's job; the name matches the provider contract.
func (s *Store) ListEligibleAgents(ctx context.Context) ([]models.Agent, error) {
	var out []models.Agent
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		rows, err := s.Pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			a, err := scanAgent(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	return s.ListEligibleAgents(ctx)
}

// IncrementWorkload locks the agent row and re-checks capacity in the same
// transaction, so concurrent commits to one agent are serialized by
// Postgres.
func (s *Store) IncrementWorkload(ctx context.Context, agentID string, weight float64) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var current, capacity int
		err := tx.QueryRow(ctx, `SELECT current_workload, max_concurrent_tickets FROM agents WHERE id = $1 FOR UPDATE`, agentID).Scan(&current, &capacity)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("agent %s: %w", agentID, models.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if current >= capacity {
			return fmt.Errorf("agent %s: %w", agentID, models.ErrCapacityViolation)
		}
		_, err = tx.Exec(ctx, `
			UPDATE agents
			SET current_workload = current_workload + 1,
				weighted_workload = weighted_workload + $1,
				last_assigned_at = NOW(),
				updated_at = NOW()
			WHERE id = $2
		`, weight, agentID)
		return err
	})
}

func (s *Store) DecrementWorkload(ctx context.Context, agentID string, weight float64) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE agents
		SET current_workload = GREATEST(current_workload - 1, 0),
			weighted_workload = GREATEST(weighted_workload - $1, 0),
			updated_at = NOW()
		WHERE id = $2
	`, weight, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", agentID, models.ErrNotFound)
	}
	return nil
}

// UpsertAgents inserts or updates roster rows. Workload counters of
// existing agents are left untouched.
func (s *Store) UpsertAgents(ctx context.Context, agents []models.Agent) (int64, error) {
	batch := &pgx.Batch{}
	for _, a := range agents {
		var rate, hours, satisfaction *float64
		if a.Performance != nil {
			rate, hours, satisfaction = &a.Performance.ResolutionRate, &a.Performance.AvgResolutionTimeHours, &a.Performance.SatisfactionScore
		}
		category := a.CategoryExpertise
		if category == nil {
			category = map[string]models.ExpertiseLevel{}
		}
		subcategory := a.SubcategoryExpertise
		if subcategory == nil {
			subcategory = map[string]models.ExpertiseLevel{}
		}
		lastActivity := a.LastActivity
		if lastActivity.IsZero() {
			lastActivity = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO agents (id, name, role, max_concurrent_tickets, availability,
				resolution_rate, avg_resolution_time_hours, satisfaction_score,
				category_expertise, subcategory_expertise, last_activity)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				role = EXCLUDED.role,
				max_concurrent_tickets = EXCLUDED.max_concurrent_tickets,
				availability = EXCLUDED.availability,
				resolution_rate = EXCLUDED.resolution_rate,
				avg_resolution_time_hours = EXCLUDED.avg_resolution_time_hours,
				satisfaction_score = EXCLUDED.satisfaction_score,
				category_expertise = EXCLUDED.category_expertise,
				subcategory_expertise = EXCLUDED.subcategory_expertise,
				last_activity = EXCLUDED.last_activity,
				updated_at = NOW()
		`, a.ID, a.Name, string(a.Role), a.MaxConcurrentTickets, string(a.Availability),
			rate, hours, satisfaction, category, subcategory, lastActivity)
	}

	var affected int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for range agents {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return err
			}
			affected += tag.RowsAffected()
		}
		return br.Close()
	})
	return affected, err
}

const ticketColumns = `id, priority, category_id, subcategory_id, created_at, status, assignee_id`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.ID, &t.Priority, &t.CategoryID, &t.SubcategoryID, &t.CreatedAt, &t.Status, &t.AssigneeID)
	return t, err
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	var t models.Ticket
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		t, err = scanTicket(s.Pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID))
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		return err
	})
	return t, err
}

func (s *Store) ListOpenTickets(ctx context.Context, agentID string) ([]models.Ticket, error) {
	var out []models.Ticket
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		rows, err := s.Pool.Query(ctx, `
			SELECT `+ticketColumns+` FROM tickets
			WHERE assignee_id = $1 AND status IN ('open', 'in_progress')
			ORDER BY id ASC
		`, agentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			t, err := scanTicket(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// SaveTicket upserts the assignment-relevant projection of a ticket. An
// existing assignee is kept. When an assigned ticket leaves or re-enters
// the open states, or changes priority, the assignee's counters are
// adjusted in the same transaction.
func (s *Store) SaveTicket(ctx context.Context, t models.Ticket) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var (
			prev     models.Ticket
			priority string
			status   string
		)
		err := tx.QueryRow(ctx, `SELECT priority, status, assignee_id FROM tickets WHERE id = $1 FOR UPDATE`, t.ID).
			Scan(&priority, &status, &prev.AssigneeID)
		exists := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		prev.Priority = models.Priority(priority)
		prev.Status = models.TicketStatus(status)

		if _, err := tx.Exec(ctx, `
			INSERT INTO tickets (id, priority, category_id, subcategory_id, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO UPDATE SET
				priority = EXCLUDED.priority,
				category_id = EXCLUDED.category_id,
				subcategory_id = EXCLUDED.subcategory_id,
				status = EXCLUDED.status
		`, t.ID, string(t.Priority), t.CategoryID, t.SubcategoryID, string(t.Status), createdAt); err != nil {
			return err
		}
		if !exists {
			return nil
		}

		next := t
		next.AssigneeID = prev.AssigneeID
		for _, c := range workloadChanges(prev, next) {
			if _, err := tx.Exec(ctx, `
				UPDATE agents
				SET current_workload = GREATEST(current_workload + $1, 0),
					weighted_workload = GREATEST(weighted_workload + $2, 0),
					updated_at = NOW()
				WHERE id = $3
			`, c.Tickets, c.Weight, c.AgentID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RecordAssignment(ctx context.Context, ticketID, agentID string, reason models.Reason, confidence float64) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var prev *string
		err := tx.QueryRow(ctx, `SELECT assignee_id FROM tickets WHERE id = $1 FOR UPDATE`, ticketID).Scan(&prev)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("ticket %s: %w", ticketID, models.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE tickets SET assignee_id = $1 WHERE id = $2`, agentID, ticketID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO assignments (ticket_id, agent_id, from_agent_id, reason_code, reason_text, confidence)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ticketID, agentID, prev, reason.Code, reason.Text, confidence)
		return err
	})
}

func (s *Store) RecordReassignment(ctx context.Context, move models.Move, reason models.Reason) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE tickets SET assignee_id = $1 WHERE id = $2 AND assignee_id = $3`, move.ToAgentID, move.TicketID, move.FromAgentID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("ticket %s is no longer assigned to %s", move.TicketID, move.FromAgentID)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO assignments (ticket_id, agent_id, from_agent_id, reason_code, reason_text)
			VALUES ($1,$2,$3,$4,$5)
		`, move.TicketID, move.ToAgentID, move.FromAgentID, reason.Code, reason.Text)
		return err
	})
}

func (s *Store) ListAssignments(ctx context.Context, ticketID string) ([]models.Assignment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT ticket_id, agent_id, COALESCE(from_agent_id, ''), reason_code, reason_text, confidence, assigned_at
		FROM assignments WHERE ticket_id = $1 ORDER BY assigned_at ASC, id ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Assignment
	for rows.Next() {
		var a models.Assignment
		if err := rows.Scan(&a.TicketID, &a.AgentID, &a.FromAgentID, &a.ReasonCode, &a.ReasonText, &a.Confidence, &a.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context, status string) (string, error) {
	id := uuid.NewString()
	_, err := s.Pool.Exec(ctx, `INSERT INTO runs (id, status, started_at) VALUES ($1, $2, NOW())`, id, status)
	return id, err
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, status, summary, runID)
	return err
}

func (s *Store) GetLatestRun(ctx context.Context) (models.Run, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, started_at, finished_at, status, summary FROM runs ORDER BY started_at DESC LIMIT 1`)
	var r models.Run
	if err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Summary); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Run{}, models.ErrNotFound
		}
		return models.Run{}, err
	}
	return r, nil
}
