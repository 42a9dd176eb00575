package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/supportdesk/assignment/internal/models"
)

const roundRobinConfidence = 0.3

// PickRoundRobin returns the eligible agent with the lowest open-ticket
// count. Ties go to whoever was assigned least recently, then to the
// lowest id. Agents with no known history sort first.
func PickRoundRobin(agents []models.Agent, history AssignmentHistory) (models.Agent, bool) {
	var pool []models.Agent
	for _, a := range agents {
		if !a.Role.Assignable() || a.Availability == models.AvailabilityOffline || a.AtCapacity() {
			continue
		}
		pool = append(pool, a)
	}
	if len(pool) == 0 {
		return models.Agent{}, false
	}

	last := make(map[string]time.Time, len(pool))
	for _, a := range pool {
		if history != nil {
			if at, ok := history.LastAssignedAt(a.ID); ok {
				last[a.ID] = at
				continue
			}
		}
		if a.LastAssignedAt != nil {
			last[a.ID] = *a.LastAssignedAt
		}
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].CurrentWorkload != pool[j].CurrentWorkload {
			return pool[i].CurrentWorkload < pool[j].CurrentWorkload
		}
		li, lj := last[pool[i].ID], last[pool[j].ID]
		if !li.Equal(lj) {
			return li.Before(lj)
		}
		return pool[i].ID < pool[j].ID
	})
	return pool[0], true
}

func roundRobinResult(ticketID string, agent models.Agent, poolSize int) models.AssignmentResult {
	return models.AssignmentResult{
		TicketID:        ticketID,
		Success:         true,
		AssignedAgentID: agent.ID,
		Method:          models.MethodRoundRobin,
		Reason: models.Reason{
			Code: models.ReasonRoundRobin,
			Text: fmt.Sprintf("lowest workload (%d open) among %d available agents", agent.CurrentWorkload, poolSize),
		},
		Confidence:        roundRobinConfidence,
		AlternativeAgents: []models.Candidate{},
	}
}

func countAvailable(agents []models.Agent) int {
	n := 0
	for _, a := range agents {
		if a.Role.Assignable() && a.Availability != models.AvailabilityOffline && !a.AtCapacity() {
			n++
		}
	}
	return n
}
