package models

import (
	"errors"
	"fmt"
)

var (
	ErrNoEligibleAgents  = errors.New("no eligible agents")
	ErrCapacityViolation = errors.New("agent at capacity")
	ErrAlreadyRunning    = errors.New("rebalance already running")
	ErrNotFound          = errors.New("not found")
)

// ProviderError reports that the agent roster or ticket data could not be
// read. It is recoverable during scoring.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CommitError reports a failure after a decision was made. Callers must not
// assume the ticket is unassigned.
type CommitError struct {
	TicketID string
	AgentID  string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit ticket %s to agent %s: %v", e.TicketID, e.AgentID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
