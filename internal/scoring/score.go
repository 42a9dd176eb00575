package scoring

import (
	"fmt"
	"strings"

	"github.com/supportdesk/assignment/internal/models"
)

const (
	ScopeSubcategory = "subcategory"
	ScopeCategory    = "category"
)

type Breakdown models.ScoreBreakdown

type Result struct {
	Score     float64
	Breakdown Breakdown
}

// Score rates how well an agent suits a ticket, in [0,1]. Callers filter
// offline and full agents beforehand.
func Score(agent models.Agent, ticket models.Ticket, w Weights) Result {
	b := Breakdown{
		Workload:     WorkloadScore(agent),
		Performance:  PerformanceScore(agent.Performance, w),
		Availability: AvailabilityScore(agent.Availability, w),
	}
	b.ExpertiseBonus, b.ExpertiseScope, b.ExpertiseLevel = ExpertiseBonus(agent, ticket, w)
	b.Weighted = w.Workload*b.Workload + w.Performance*b.Performance + w.Availability*b.Availability
	b.Total = clamp(b.Weighted+b.ExpertiseBonus, 0, 1)
	return Result{Score: b.Total, Breakdown: b}
}

func WorkloadScore(agent models.Agent) float64 {
	if agent.MaxConcurrentTickets <= 0 {
		return 0
	}
	capacity := float64(agent.MaxConcurrentTickets) * models.MaxPriorityWeight
	return max(0, 1-agent.WeightedWorkload/capacity)
}

func PerformanceScore(p *models.Performance, w Weights) float64 {
	rate := w.Neutral.ResolutionRate
	satisfaction := w.Neutral.SatisfactionScore
	hours := w.Neutral.AvgResolutionTimeHours
	if p != nil {
		rate = p.ResolutionRate
		satisfaction = p.SatisfactionScore
		hours = p.AvgResolutionTimeHours
	}
	timeScore := clamp(1-hours/w.BaselineHours, 0, 1)
	return (rate + satisfaction/w.MaxSatisfaction + timeScore) / 3
}

func AvailabilityScore(a models.Availability, w Weights) float64 {
	switch a {
	case models.AvailabilityAvailable:
		return w.AvailabilityScores.Available
	case models.AvailabilityBusy:
		return w.AvailabilityScores.Busy
	case models.AvailabilityAway:
		return w.AvailabilityScores.Away
	default:
		return w.AvailabilityScores.Offline
	}
}

// ExpertiseBonus returns the bonus and where it came from. Subcategory
// expertise wins over category expertise.
func ExpertiseBonus(agent models.Agent, ticket models.Ticket, w Weights) (float64, string, string) {
	if ticket.SubcategoryID != "" {
		if level, ok := agent.SubcategoryExpertise[ticket.SubcategoryID]; ok {
			return w.SubcategoryBonus.For(level), ScopeSubcategory, string(level)
		}
	}
	if ticket.CategoryID != "" {
		if level, ok := agent.CategoryExpertise[ticket.CategoryID]; ok {
			return w.SubcategoryBonus.For(level) * w.CategoryFactor, ScopeCategory, string(level)
		}
	}
	return 0, "", ""
}

// IsSpecialist reports whether the agent has recorded expertise in the
// ticket's subcategory or category.
func IsSpecialist(agent models.Agent, ticket models.Ticket) bool {
	if ticket.SubcategoryID != "" {
		if _, ok := agent.SubcategoryExpertise[ticket.SubcategoryID]; ok {
			return true
		}
	}
	if ticket.CategoryID != "" {
		if _, ok := agent.CategoryExpertise[ticket.CategoryID]; ok {
			return true
		}
	}
	return false
}

func (b Breakdown) Explain() string {
	parts := []string{
		fmt.Sprintf("workload %.2f", b.Workload),
		fmt.Sprintf("performance %.2f", b.Performance),
		fmt.Sprintf("availability %.2f", b.Availability),
	}
	if b.ExpertiseBonus > 0 {
		parts = append(parts, fmt.Sprintf("%s %s expertise +%.2f", b.ExpertiseLevel, b.ExpertiseScope, b.ExpertiseBonus))
	}
	return fmt.Sprintf("score %.2f (%s)", b.Total, strings.Join(parts, ", "))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
