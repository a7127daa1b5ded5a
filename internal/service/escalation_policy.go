package service

import (
	"github.com/google/uuid"

	"github.com/spec-kit/triage-service/internal/domain"
)

// UnidentifiedEntity is used when neither the diagnosis nor the ticket names the
// affected client or system.
const UnidentifiedEntity = "unidentified"

// EscalationPolicy routes a diagnosed ticket.
//
//	type != Incident                    -> RespondInline
//	type == Incident, score <  threshold -> DelegateAsync
//	type == Incident, score >= threshold -> EmergencyEscalate
type EscalationPolicy struct {
	threshold int
	newRef    func() string
}

func NewEscalationPolicy(threshold int) *EscalationPolicy {
	return &EscalationPolicy{threshold: threshold, newRef: uuid.NewString}
}

// Decide evaluates the decision table once. The only side effect is minting a task
// reference for the asynchronous variants.
func (p *EscalationPolicy) Decide(ticketType domain.TicketType, crit domain.Criticality, d domain.Diagnosis) domain.RoutingDecision {
	if ticketType != domain.TicketTypeIncident {
		return domain.RespondInline(d.Answer())
	}
	entity := d.AffectedEntity()
	if entity == "" {
		entity = UnidentifiedEntity
	}
	if crit.Score >= p.threshold {
		return domain.EmergencyEscalate(entity, p.newRef())
	}
	return domain.DelegateAsync(entity, p.newRef())
}
