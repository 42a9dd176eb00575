package models

import "time"

type Role string

const (
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Assignable reports whether the role may receive tickets. Admins are
// assignable exactly like agents.
func (r Role) Assignable() bool {
	switch r {
	case RoleAgent, RoleAdmin:
		return true
	default:
		return false
	}
}

type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityAway      Availability = "away"
	AvailabilityOffline   Availability = "offline"
)

type ExpertiseLevel string

const (
	ExpertiseExpert       ExpertiseLevel = "expert"
	ExpertiseIntermediate ExpertiseLevel = "intermediate"
	ExpertiseBasic        ExpertiseLevel = "basic"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// MaxPriorityWeight is the weight of the heaviest priority.
const MaxPriorityWeight = 3.0

// Weight returns the workload weight of a ticket of this priority.
// Unknown priorities weigh like medium.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 1
	default:
		return 1.5
	}
}

// Rank orders priorities low < medium < high < urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// Assignable reports whether a ticket in this status may be (re)assigned.
func (s TicketStatus) Assignable() bool {
	return s == TicketStatusOpen || s == TicketStatusInProgress
}

type Performance struct {
	ResolutionRate         float64 `json:"resolution_rate"`
	AvgResolutionTimeHours float64 `json:"avg_resolution_time_hours"`
	SatisfactionScore      float64 `json:"satisfaction_score"`
}

type Agent struct {
	ID                   string                    `json:"id"`
	Name                 string                    `json:"name"`
	Role                 Role                      `json:"role"`
	MaxConcurrentTickets int                       `json:"max_concurrent_tickets"`
	CurrentWorkload      int                       `json:"current_workload"`
	WeightedWorkload     float64                   `json:"weighted_workload"`
	Availability         Availability              `json:"availability"`
	Performance          *Performance              `json:"performance,omitempty"`
	CategoryExpertise    map[string]ExpertiseLevel `json:"category_expertise,omitempty"`
	SubcategoryExpertise map[string]ExpertiseLevel `json:"subcategory_expertise,omitempty"`
	LastActivity         time.Time                 `json:"last_activity"`
	LastAssignedAt       *time.Time                `json:"last_assigned_at,omitempty"`
}

// AtCapacity reports whether the agent cannot take another ticket.
func (a Agent) AtCapacity() bool {
	return a.CurrentWorkload >= a.MaxConcurrentTickets
}

// Utilization is current workload over capacity. An agent without
// capacity counts as fully utilized.
func (a Agent) Utilization() float64 {
	if a.MaxConcurrentTickets <= 0 {
		return 1
	}
	return float64(a.CurrentWorkload) / float64(a.MaxConcurrentTickets)
}

type Ticket struct {
	ID            string       `json:"id"`
	Priority      Priority     `json:"priority"`
	CategoryID    string       `json:"category_id"`
	SubcategoryID string       `json:"subcategory_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	Status        TicketStatus `json:"status"`
	AssigneeID    *string      `json:"assignee_id,omitempty"`
}

type Method string

const (
	MethodIntelligent Method = "intelligent"
	MethodRoundRobin  Method = "round_robin"
	MethodManual      Method = "manual"
)

const (
	ReasonIntelligent              = "intelligent_match"
	ReasonRoundRobin               = "round_robin"
	ReasonManual                   = "manual_assignment"
	ReasonNoAvailableAgents        = "no_available_agents"
	ReasonManualAssignmentRequired = "manual_assignment_required"
	ReasonTicketNotAssignable      = "ticket_not_assignable"
	ReasonAgentNotFound            = "agent_not_found"
	ReasonAgentOffline             = "agent_offline"
	ReasonAgentAtCapacity          = "agent_at_capacity"
	ReasonRebalance                = "workload_rebalance"
	ReasonAlreadyRunning           = "already_running"
)

type Reason struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type ScoreBreakdown struct {
	Workload       float64 `json:"workload"`
	Performance    float64 `json:"performance"`
	Availability   float64 `json:"availability"`
	ExpertiseBonus float64 `json:"expertise_bonus"`
	ExpertiseScope string  `json:"expertise_scope,omitempty"`
	ExpertiseLevel string  `json:"expertise_level,omitempty"`
	Weighted       float64 `json:"weighted"`
	Total          float64 `json:"total"`
}

type Candidate struct {
	AgentID   string         `json:"agent_id"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

type AssignmentResult struct {
	TicketID          string          `json:"ticket_id"`
	Success           bool            `json:"success"`
	AssignedAgentID   string          `json:"assigned_agent_id,omitempty"`
	Method            Method          `json:"method,omitempty"`
	Reason            Reason          `json:"reason"`
	Confidence        float64         `json:"confidence"`
	Score             float64         `json:"score"`
	Breakdown         *ScoreBreakdown `json:"breakdown,omitempty"`
	AlternativeAgents []Candidate     `json:"alternative_agents"`
}

type Move struct {
	TicketID    string   `json:"ticket_id"`
	FromAgentID string   `json:"from_agent_id"`
	ToAgentID   string   `json:"to_agent_id"`
	Priority    Priority `json:"priority"`
}

type FailedMove struct {
	Move
	Error string `json:"error"`
}

type RebalanceResult struct {
	RunID         string       `json:"run_id,omitempty"`
	Success       bool         `json:"success"`
	Reason        string       `json:"reason,omitempty"`
	Reassignments int          `json:"reassignments"`
	Moves         []Move       `json:"moves"`
	Failed        []FailedMove `json:"failed,omitempty"`
	Message       string       `json:"message"`
}

type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Summary    []byte     `json:"summary"`
}

// Assignment is one row of assignment history. FromAgentID is set for
// reassignments.
type Assignment struct {
	TicketID    string    `json:"ticket_id"`
	AgentID     string    `json:"agent_id"`
	FromAgentID string    `json:"from_agent_id,omitempty"`
	ReasonCode  string    `json:"reason_code"`
	ReasonText  string    `json:"reason_text"`
	Confidence  float64   `json:"confidence"`
	AssignedAt  time.Time `json:"assigned_at"`
}
