package service

import (
	"math"
	"testing"

	"github.com/supportdesk/assignment/internal/models"
	"github.com/supportdesk/assignment/internal/scoring"
)

func TestRankPrefersSpecialists(t *testing.T) {
	generalist := agent("a-general", 0, 10)
	generalist.Performance = &models.Performance{ResolutionRate: 1, SatisfactionScore: 5, AvgResolutionTimeHours: 1}
	specialist := agent("b-special", 4, 5)
	specialist.Availability = models.AvailabilityAway
	specialist.SubcategoryExpertise = map[string]models.ExpertiseLevel{"refunds": models.ExpertiseBasic}

	ticket := openTicket("t1", models.PriorityMedium)
	ticket.CategoryID = "billing"
	ticket.SubcategoryID = "refunds"

	ranked := Rank([]models.Agent{generalist, specialist}, ticket, scoring.DefaultWeights(), nil)
	if len(ranked) != 1 || ranked[0].AgentID != "b-special" {
		t.Fatalf("expected only the specialist, got %+v", ranked)
	}
}

func TestRankFallsBackToGeneralists(t *testing.T) {
	ticket := openTicket("t1", models.PriorityLow)
	ticket.CategoryID = "hardware"
	ranked := Rank([]models.Agent{agent("a", 1, 5), agent("b", 0, 5)}, ticket, scoring.DefaultWeights(), nil)
	if len(ranked) != 2 || ranked[0].AgentID != "b" {
		t.Fatalf("expected both generalists with b first, got %+v", ranked)
	}
}

func TestRankExcludesOfflineAndFull(t *testing.T) {
	offline := agent("a-offline", 0, 5)
	offline.Availability = models.AvailabilityOffline
	full := agent("b-full", 5, 5)
	ok := agent("c-ok", 3, 5)

	ranked := Rank([]models.Agent{offline, full, ok}, openTicket("t1", models.PriorityHigh), scoring.DefaultWeights(), nil)
	if len(ranked) != 1 || ranked[0].AgentID != "c-ok" {
		t.Fatalf("expected only c-ok, got %+v", ranked)
	}
}

func TestRankTieBreaksByID(t *testing.T) {
	ranked := Rank([]models.Agent{agent("z", 1, 5), agent("m", 1, 5), agent("a", 1, 5)}, openTicket("t1", models.PriorityLow), scoring.DefaultWeights(), nil)
	if ranked[0].AgentID != "a" || ranked[1].AgentID != "m" || ranked[2].AgentID != "z" {
		t.Fatalf("expected ascending ids on equal scores, got %+v", ranked)
	}
}

func TestRankRestrictTo(t *testing.T) {
	ranked := Rank([]models.Agent{agent("a", 0, 5), agent("b", 2, 5)}, openTicket("t1", models.PriorityLow), scoring.DefaultWeights(), map[string]bool{"b": true})
	if len(ranked) != 1 || ranked[0].AgentID != "b" {
		t.Fatalf("expected restriction to b, got %+v", ranked)
	}
}

func TestExpertiseOverrideTieBreak(t *testing.T) {
	// b: raw 0.70 plus a 0.15 expert bonus lands exactly on a's 0.85.
	cands := []models.Candidate{
		{AgentID: "b", Score: 0.85, Breakdown: models.ScoreBreakdown{Weighted: 0.70, ExpertiseBonus: 0.15, Total: 0.85}},
		{AgentID: "a", Score: 0.85, Breakdown: models.ScoreBreakdown{Weighted: 0.85, Total: 0.85}},
	}
	SortCandidates(cands)
	if cands[0].AgentID != "a" {
		t.Fatalf("expected a to win exact tie by id, got %s", cands[0].AgentID)
	}

	cands = []models.Candidate{
		{AgentID: "a", Score: 0.85},
		{AgentID: "b", Score: 0.88, Breakdown: models.ScoreBreakdown{Weighted: 0.70, ExpertiseBonus: 0.18, Total: 0.88}},
	}
	SortCandidates(cands)
	if cands[0].AgentID != "b" {
		t.Fatalf("expected b to win with larger bonus, got %s", cands[0].AgentID)
	}
}

func TestConfidenceNearTie(t *testing.T) {
	c := Confidence([]models.Candidate{{AgentID: "a", Score: 0.80}, {AgentID: "b", Score: 0.79}})
	if math.Abs(c-0.0125) > 1e-9 {
		t.Fatalf("expected ~0.0125, got %v", c)
	}
}

func TestConfidenceSingleCandidateCapped(t *testing.T) {
	if c := Confidence([]models.Candidate{{AgentID: "a", Score: 0.95}}); c != 0.9 {
		t.Fatalf("expected cap 0.9, got %v", c)
	}
	if c := Confidence([]models.Candidate{{AgentID: "a", Score: 0.4}}); c != 0.4 {
		t.Fatalf("expected score as confidence, got %v", c)
	}
	if c := Confidence(nil); c != 0 {
		t.Fatalf("expected 0 for empty ranking, got %v", c)
	}
}

func TestConfidenceLowTopScore(t *testing.T) {
	c := Confidence([]models.Candidate{{AgentID: "a", Score: 0.005}, {AgentID: "b", Score: 0}})
	if math.Abs(c-0.5) > 1e-9 {
		t.Fatalf("expected denominator floor of 0.01, got %v", c)
	}
}

func TestDecideCapsAlternatives(t *testing.T) {
	var agents []models.Agent
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		agents = append(agents, agent(id, 0, 5))
	}
	res := Decide("t1", Rank(agents, openTicket("t1", models.PriorityLow), scoring.DefaultWeights(), nil))
	if !res.Success || res.AssignedAgentID != "a" {
		t.Fatalf("expected a to win, got %+v", res)
	}
	if len(res.AlternativeAgents) != 4 || res.AlternativeAgents[0].AgentID != "b" || res.AlternativeAgents[3].AgentID != "e" {
		t.Fatalf("expected b..e as alternatives, got %+v", res.AlternativeAgents)
	}
	if res.Breakdown == nil || res.Reason.Code != models.ReasonIntelligent {
		t.Fatalf("expected breakdown and intelligent reason, got %+v", res)
	}
}

func TestDecideEmpty(t *testing.T) {
	res := Decide("t1", nil)
	if res.Success || res.Reason.Code != models.ReasonNoAvailableAgents || res.Confidence != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPickRoundRobinLeastRecentlyAssigned(t *testing.T) {
	history := fixedHistory{}
	base := openTicket("x", models.PriorityLow).CreatedAt
	history.Touch("a", base.Add(2))
	history.Touch("b", base.Add(1))

	got, ok := PickRoundRobin([]models.Agent{agent("a", 1, 5), agent("b", 1, 5), agent("c", 2, 5)}, history)
	if !ok || got.ID != "b" {
		t.Fatalf("expected b (least recently assigned), got %+v", got)
	}

	got, _ = PickRoundRobin([]models.Agent{agent("b", 1, 5), agent("a", 1, 5)}, nil)
	if got.ID != "a" {
		t.Fatalf("expected id tie-break without history, got %s", got.ID)
	}
}

func TestPickRoundRobinNoneEligible(t *testing.T) {
	offline := agent("a", 0, 5)
	offline.Availability = models.AvailabilityOffline
	if _, ok := PickRoundRobin([]models.Agent{offline, agent("b", 5, 5)}, nil); ok {
		t.Fatalf("expected no round-robin pick")
	}
}
