package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/events"
	"github.com/spec-kit/triage-service/internal/repository"
)

// AuditService persists triage passes and delegation lifecycles from domain events.
type AuditService struct {
	triage      repository.TriageRepository
	delegations repository.DelegationRepository
	logger      *zap.Logger
}

func NewAuditService(triage repository.TriageRepository, delegations repository.DelegationRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{triage: triage, delegations: delegations, logger: logger.Named("audit")}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventTicketTriaged, a.handleTicketTriaged)
	for _, eventType := range []events.EventType{
		events.EventDelegationQueued,
		events.EventDelegationCompleted,
		events.EventDelegationFailed,
	} {
		dispatcher.Subscribe(eventType, a.handleDelegation)
	}
}

func (a *AuditService) handleTicketTriaged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketTriagedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	detail := map[string]any{"event_id": event.ID}
	if payload.Reason != "" {
		detail["reason"] = payload.Reason
	}
	record := &domain.TriageRecord{
		TicketID:      event.TicketID,
		TicketType:    payload.TicketType,
		Route:         payload.Route,
		Criticality:   payload.Criticality,
		SecurityAlert: payload.SecurityAlert,
		Entity:        payload.Entity,
		TaskID:        payload.TaskID,
		Outcome:       payload.Outcome,
		Detail:        detail,
	}
	if err := a.triage.Create(ctx, record); err != nil {
		return fmt.Errorf("store triage record: %w", err)
	}
	return nil
}

func (a *AuditService) handleDelegation(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DelegationPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	task := payload.Task
	if err := a.delegations.Save(ctx, &task); err != nil {
		return fmt.Errorf("store delegation %s: %w", task.ID, err)
	}
	a.logger.Debug("delegation audited", zap.String("task_id", task.ID), zap.String("status", string(task.Status)))
	return nil
}
