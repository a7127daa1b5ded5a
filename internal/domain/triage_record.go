package domain

import "time"

// TriageOutcome summarizes how a triage pass ended.
type TriageOutcome string

const (
	OutcomeAnswered          TriageOutcome = "ANSWERED"
	OutcomeDelegated         TriageOutcome = "DELEGATED"
	OutcomeEscalated         TriageOutcome = "ESCALATED"
	OutcomeAlreadyProcessing TriageOutcome = "ALREADY_PROCESSING"
	OutcomeManualFollowUp    TriageOutcome = "MANUAL_FOLLOW_UP"
	OutcomeFallback          TriageOutcome = "FALLBACK"
)

// TriageRecord is an immutable audit entry written once per triage pass.
type TriageRecord struct {
	ID            string
	TicketID      string
	TicketType    TicketType
	Route         RouteKind
	Criticality   int
	SecurityAlert bool
	Entity        string
	TaskID        *string
	Outcome       TriageOutcome
	Detail        map[string]any
	CreatedAt     time.Time
}
