package domain

import (
	"fmt"
	"time"
)

// DelegationStatus tracks a task through the worker pool.
type DelegationStatus string

const (
	DelegationPending   DelegationStatus = "PENDING"
	DelegationRunning   DelegationStatus = "RUNNING"
	DelegationCompleted DelegationStatus = "COMPLETED"
	DelegationFailed    DelegationStatus = "FAILED"
)

var delegationTransitions = map[DelegationStatus][]DelegationStatus{
	DelegationPending:   {DelegationRunning, DelegationFailed},
	DelegationRunning:   {DelegationCompleted, DelegationFailed},
	DelegationCompleted: {},
	DelegationFailed:    {},
}

// Terminal reports whether no further transition is allowed.
func (s DelegationStatus) Terminal() bool {
	return s == DelegationCompleted || s == DelegationFailed
}

// DelegationTask is one unit of asynchronous incident analysis.
type DelegationTask struct {
	ID               string
	TicketID         string
	TicketNumber     string
	Subject          string
	TicketText       string
	Entity           string
	InitialDiagnosis string
	Urgency          Urgency
	Status           DelegationStatus
	Attempts         int
	LastError        string
	SubmittedAt      time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// NewDelegationTask creates a Pending task for the given routing decision.
func NewDelegationTask(ticket *Ticket, decision RoutingDecision, diagnosis Diagnosis) *DelegationTask {
	return &DelegationTask{
		ID:               decision.TaskRef,
		TicketID:         ticket.ID,
		TicketNumber:     ticket.Number,
		Subject:          ticket.Subject,
		TicketText:       ticket.Text(),
		Entity:           decision.Entity,
		InitialDiagnosis: diagnosis.Classification(),
		Urgency:          decision.Urgency,
		Status:           DelegationPending,
		SubmittedAt:      time.Now().UTC(),
	}
}

// Transition moves the task forward. Backward or repeated transitions are rejected.
func (t *DelegationTask) Transition(next DelegationStatus) error {
	for _, allowed := range delegationTransitions[t.Status] {
		if allowed == next {
			now := time.Now().UTC()
			switch next {
			case DelegationRunning:
				t.StartedAt = &now
			case DelegationCompleted, DelegationFailed:
				t.FinishedAt = &now
			}
			t.Status = next
			return nil
		}
	}
	return fmt.Errorf("invalid delegation transition %s -> %s", t.Status, next)
}
