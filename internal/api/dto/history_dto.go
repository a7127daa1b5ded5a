package dto

import (
	"time"

	"github.com/spec-kit/triage-service/internal/domain"
)

// TriageRecordResponse is the public shape of an audit entry.
type TriageRecordResponse struct {
	ID            string         `json:"id"`
	TicketType    string         `json:"ticket_type"`
	Route         string         `json:"route"`
	Criticality   int            `json:"criticality"`
	SecurityAlert bool           `json:"security_alert"`
	Entity        string         `json:"entity"`
	TaskID        *string        `json:"task_id,omitempty"`
	Outcome       string         `json:"outcome"`
	Detail        map[string]any `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// DelegationResponse describes a delegation task.
type DelegationResponse struct {
	ID          string     `json:"id"`
	Entity      string     `json:"entity"`
	Urgency     string     `json:"urgency"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TicketHistoryResponse groups the audit trail of one ticket.
type TicketHistoryResponse struct {
	TicketID    string                 `json:"ticket_id"`
	Triage      []TriageRecordResponse `json:"triage"`
	Delegations []DelegationResponse   `json:"delegations"`
}

func NewTicketHistoryResponse(ticketID string, records []domain.TriageRecord, tasks []domain.DelegationTask) TicketHistoryResponse {
	resp := TicketHistoryResponse{
		TicketID:    ticketID,
		Triage:      make([]TriageRecordResponse, 0, len(records)),
		Delegations: make([]DelegationResponse, 0, len(tasks)),
	}
	for _, r := range records {
		resp.Triage = append(resp.Triage, TriageRecordResponse{
			ID:            r.ID,
			TicketType:    string(r.TicketType),
			Route:         string(r.Route),
			Criticality:   r.Criticality,
			SecurityAlert: r.SecurityAlert,
			Entity:        r.Entity,
			TaskID:        r.TaskID,
			Outcome:       string(r.Outcome),
			Detail:        r.Detail,
			CreatedAt:     r.CreatedAt,
		})
	}
	for _, t := range tasks {
		resp.Delegations = append(resp.Delegations, DelegationResponse{
			ID:          t.ID,
			Entity:      t.Entity,
			Urgency:     string(t.Urgency),
			Status:      string(t.Status),
			Attempts:    t.Attempts,
			LastError:   t.LastError,
			SubmittedAt: t.SubmittedAt,
			StartedAt:   t.StartedAt,
			FinishedAt:  t.FinishedAt,
		})
	}
	return resp
}
