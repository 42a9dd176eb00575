package db

import "github.com/supportdesk/assignment/internal/models"

// workloadChange is a counter adjustment for one agent.
type workloadChange struct {
	AgentID string
	Tickets int
	Weight  float64
}

// openLoad returns the agent a ticket counts against and its weight, or ""
// when the ticket is unassigned or no longer open.
func openLoad(t models.Ticket) (string, float64) {
	if t.AssigneeID == nil || *t.AssigneeID == "" || !t.Status.Assignable() {
		return "", 0
	}
	return *t.AssigneeID, t.Priority.Weight()
}

// workloadChanges lists the adjustments that keep agent counters in line
// when a stored ticket changes from prev to next.
func workloadChanges(prev, next models.Ticket) []workloadChange {
	from, fromWeight := openLoad(prev)
	to, toWeight := openLoad(next)
	if from == to {
		if from == "" || fromWeight == toWeight {
			return nil
		}
		return []workloadChange{{AgentID: from, Weight: toWeight - fromWeight}}
	}
	var out []workloadChange
	if from != "" {
		out = append(out, workloadChange{AgentID: from, Tickets: -1, Weight: -fromWeight})
	}
	if to != "" {
		out = append(out, workloadChange{AgentID: to, Tickets: 1, Weight: toWeight})
	}
	return out
}
