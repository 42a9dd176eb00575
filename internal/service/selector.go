package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/supportdesk/assignment/internal/models"
	"github.com/supportdesk/assignment/internal/scoring"
)

const maxAlternatives = 4

// EligibilityResult mirrors the filter stages a roster passes through
// before scoring.
type EligibilityResult struct {
	Available   []models.Agent
	Specialists []models.Agent
	Active      []models.Agent
	Excluded    map[string]string
}

// FilterEligible drops offline and full agents, then narrows to
// specialists when the ticket has any. restrictTo, when non-nil, limits
// the pool to the listed agent ids.
func FilterEligible(agents []models.Agent, ticket models.Ticket, restrictTo map[string]bool) EligibilityResult {
	res := EligibilityResult{Excluded: map[string]string{}}
	for _, a := range agents {
		switch {
		case restrictTo != nil && !restrictTo[a.ID]:
			res.Excluded[a.ID] = "not_in_pool"
		case !a.Role.Assignable():
			res.Excluded[a.ID] = "role_not_assignable"
		case a.Availability == models.AvailabilityOffline:
			res.Excluded[a.ID] = models.ReasonAgentOffline
		case a.AtCapacity():
			res.Excluded[a.ID] = models.ReasonAgentAtCapacity
		default:
			res.Available = append(res.Available, a)
			if scoring.IsSpecialist(a, ticket) {
				res.Specialists = append(res.Specialists, a)
			}
		}
	}
	res.Active = res.Available
	if len(res.Specialists) > 0 {
		res.Active = res.Specialists
	}
	return res
}

// Rank scores the eligible part of a roster snapshot for a ticket, best
// first, ties broken by ascending agent id.
func Rank(agents []models.Agent, ticket models.Ticket, w scoring.Weights, restrictTo map[string]bool) []models.Candidate {
	active := FilterEligible(agents, ticket, restrictTo).Active
	out := make([]models.Candidate, 0, len(active))
	for _, a := range active {
		r := scoring.Score(a, ticket, w)
		out = append(out, models.Candidate{AgentID: a.ID, Score: r.Score, Breakdown: models.ScoreBreakdown(r.Breakdown)})
	}
	SortCandidates(out)
	return out
}

func SortCandidates(c []models.Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		return c[i].AgentID < c[j].AgentID
	})
}

// Confidence measures how decisively the top candidate beat the runner-up.
func Confidence(ranked []models.Candidate) float64 {
	switch len(ranked) {
	case 0:
		return 0
	case 1:
		return min(ranked[0].Score, 0.9)
	}
	top, second := ranked[0].Score, ranked[1].Score
	v := (top - second) / max(top, 0.01)
	return min(max(v, 0), 1)
}

// Decide turns a ranking into the intelligent-assignment result.
func Decide(ticketID string, ranked []models.Candidate) models.AssignmentResult {
	if len(ranked) == 0 {
		return models.AssignmentResult{
			TicketID:          ticketID,
			Reason:            models.Reason{Code: models.ReasonNoAvailableAgents, Text: models.ErrNoEligibleAgents.Error()},
			AlternativeAgents: []models.Candidate{},
		}
	}
	top := ranked[0]
	alts := ranked[1:]
	if len(alts) > maxAlternatives {
		alts = alts[:maxAlternatives]
	}
	breakdown := top.Breakdown
	return models.AssignmentResult{
		TicketID:          ticketID,
		Success:           true,
		AssignedAgentID:   top.AgentID,
		Method:            models.MethodIntelligent,
		Reason:            models.Reason{Code: models.ReasonIntelligent, Text: scoring.Breakdown(top.Breakdown).Explain()},
		Confidence:        Confidence(ranked),
		Score:             top.Score,
		Breakdown:         &breakdown,
		AlternativeAgents: append([]models.Candidate{}, alts...),
	}
}

// Selector reads a fresh roster per decision and ranks it.
type Selector struct {
	Provider AgentProvider
	Weights  scoring.Weights
	Timeouts Timeouts
}

func (s *Selector) Roster(ctx context.Context) ([]models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeouts.provider())
	defer cancel()
	agents, err := s.Provider.ListEligibleAgents(ctx)
	if err != nil {
		return nil, &models.ProviderError{Op: "list agents", Err: err}
	}
	return agents, nil
}

// Select runs intelligent selection. Provider failures come back as
// *models.ProviderError; an empty pool is a result, not an error.
func (s *Selector) Select(ctx context.Context, ticket models.Ticket, exclude map[string]bool) (models.AssignmentResult, error) {
	agents, err := s.Roster(ctx)
	if err != nil {
		return models.AssignmentResult{}, fmt.Errorf("select agent for ticket %s: %w", ticket.ID, err)
	}
	return Decide(ticket.ID, Rank(withoutAgents(agents, exclude), ticket, s.Weights, nil)), nil
}

func withoutAgents(agents []models.Agent, exclude map[string]bool) []models.Agent {
	if len(exclude) == 0 {
		return agents
	}
	out := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		if !exclude[a.ID] {
			out = append(out, a)
		}
	}
	return out
}
