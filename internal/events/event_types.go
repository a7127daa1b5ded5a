package events

import (
	"time"

	"github.com/spec-kit/triage-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketTriaged       EventType = "ticket_triaged"
	EventEmergencyEscalated  EventType = "emergency_escalated"
	EventDelegationQueued    EventType = "delegation_queued"
	EventDelegationRejected  EventType = "delegation_rejected"
	EventDelegationCompleted EventType = "delegation_completed"
	EventDelegationFailed    EventType = "delegation_failed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketTriagedPayload payload.
type TicketTriagedPayload struct {
	TicketType    domain.TicketType    `json:"ticket_type"`
	Route         domain.RouteKind     `json:"route"`
	Criticality   int                  `json:"criticality"`
	SecurityAlert bool                 `json:"security_alert"`
	Entity        string               `json:"entity,omitempty"`
	TaskID        *string              `json:"task_id,omitempty"`
	Outcome       domain.TriageOutcome `json:"outcome"`
	Reason        string               `json:"reason,omitempty"`
}

// EmergencyEscalatedPayload payload.
type EmergencyEscalatedPayload struct {
	TicketNumber   string `json:"ticket_number"`
	Subject        string `json:"subject"`
	Entity         string `json:"entity"`
	Criticality    int    `json:"criticality"`
	Classification string `json:"classification"`
}

// DelegationPayload carries a snapshot of the task after the transition.
type DelegationPayload struct {
	Task   domain.DelegationTask  `json:"task"`
	Report *domain.AnalysisReport `json:"report,omitempty"`
	Reason string                 `json:"reason,omitempty"`
}
