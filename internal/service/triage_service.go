package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/events"
	"github.com/spec-kit/triage-service/internal/observability"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

// TicketGateway reads and writes tickets on the ticketing platform.
type TicketGateway interface {
	Fetch(ctx context.Context, ticketID string) (*domain.Ticket, error)
	Update(ctx context.Context, ticketID string, update domain.TicketUpdate) error
}

// DiagnosisGateway produces a Diagnosis for a ticket.
type DiagnosisGateway interface {
	Diagnose(ctx context.Context, ticket *domain.Ticket) (domain.Diagnosis, error)
}

// TaskSubmitter admits delegation tasks without blocking.
type TaskSubmitter interface {
	Submit(task domain.DelegationTask) error
	InFlight(ticketID string) (taskID string, ok bool)
}

// writeTimeout bounds the ticket writes that follow a diagnosis. They run detached from
// the webhook request so a slow diagnosis cannot leave the ticket without a response.
const writeTimeout = 15 * time.Second

// TriageResult is reported back to the webhook caller.
type TriageResult struct {
	TicketID      string            `json:"ticket_id"`
	Status        string            `json:"status"`
	TicketType    domain.TicketType `json:"ticket_type,omitempty"`
	Route         domain.RouteKind  `json:"route,omitempty"`
	Criticality   int               `json:"criticality,omitempty"`
	SecurityAlert bool              `json:"security_alert"`
	Entity        string            `json:"entity,omitempty"`
	TaskID        string            `json:"task_id,omitempty"`
	Answer        string            `json:"answer,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// TriageDependencies bundles collaborators for the triage service.
type TriageDependencies struct {
	Tickets    TicketGateway
	Diagnoser  DiagnosisGateway
	Evaluator  *CriticalityEvaluator
	Policy     *EscalationPolicy
	Submitter  TaskSubmitter
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Escalation config.EscalationConfig
}

// TriageService runs one triage pass per webhook: fetch, diagnose, evaluate, decide,
// apply the synchronous side effects and hand asynchronous work to the pool.
type TriageService struct {
	tickets    TicketGateway
	diagnoser  DiagnosisGateway
	evaluator  *CriticalityEvaluator
	policy     *EscalationPolicy
	submitter  TaskSubmitter
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	escalation config.EscalationConfig
}

// NewTriageService constructs the service.
func NewTriageService(deps TriageDependencies) *TriageService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriageService{
		tickets:    deps.Tickets,
		diagnoser:  deps.Diagnoser,
		evaluator:  deps.Evaluator,
		policy:     deps.Policy,
		submitter:  deps.Submitter,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger.Named("triage"),
		escalation: deps.Escalation,
	}
}

// Handle triages a ticket. Errors are returned only when the ticket cannot be read or
// no follow-up at all could be written; every other path ends in an inline response, a
// scheduled task or an explicit notice.
func (s *TriageService) Handle(ctx context.Context, ticketID string) (*TriageResult, error) {
	log := s.logger.With(zap.String("ticket_id", ticketID))

	ticket, err := s.tickets.Fetch(ctx, ticketID)
	if err != nil {
		log.Warn("unable to fetch ticket", zap.Error(err))
		return nil, err
	}

	diagnosis, err := s.diagnoser.Diagnose(ctx, ticket)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err != nil {
		return s.fallback(ctx, ticket, err, log)
	}

	crit := s.evaluator.Evaluate(diagnosis)
	ticketType := diagnosis.Type()
	if ticketType == domain.TicketTypeUnclassified {
		ticketType = ticket.Type
	}
	decision := s.policy.Decide(ticketType, crit, diagnosis)
	if decision.Delegates() && decision.Entity == UnidentifiedEntity && strings.TrimSpace(ticket.CustomerID) != "" {
		decision.Entity = strings.TrimSpace(ticket.CustomerID)
	}

	result := &TriageResult{
		TicketID:      ticket.ID,
		TicketType:    ticketType,
		Route:         decision.Kind,
		Criticality:   crit.Score,
		SecurityAlert: crit.SecurityAlert,
		Entity:        decision.Entity,
	}
	log = log.With(
		zap.String("route", string(decision.Kind)),
		zap.Int("criticality", crit.Score),
		zap.Bool("security_alert", crit.SecurityAlert))
	log.Info("ticket diagnosed", zap.String("ticket_type", string(ticketType)))

	if decision.Delegates() {
		if taskID, busy := s.submitter.InFlight(ticket.ID); busy {
			log.Info("delegation already in flight", zap.String("task_id", taskID))
			result.TaskID = taskID
			s.finish(ctx, result, domain.OutcomeAlreadyProcessing, "")
			return result, nil
		}
	}

	var outcome domain.TriageOutcome
	switch decision.Kind {
	case domain.RouteRespondInline:
		outcome, err = s.respondInline(ctx, ticket, ticketType, decision, result)
	case domain.RouteEmergencyEscalate:
		s.applyEmergency(ctx, ticket, diagnosis, crit, decision, result, log)
		outcome, err = s.delegate(ctx, ticket, diagnosis, decision, domain.OutcomeEscalated, result, log)
	default:
		outcome, err = s.delegate(ctx, ticket, diagnosis, decision, domain.OutcomeDelegated, result, log)
	}
	if err != nil {
		return nil, err
	}

	s.finish(ctx, result, outcome, "")
	return result, nil
}

func (s *TriageService) respondInline(ctx context.Context, ticket *domain.Ticket, ticketType domain.TicketType, decision domain.RoutingDecision, result *TriageResult) (domain.TriageOutcome, error) {
	update := domain.TicketUpdate{Article: inlineArticle(decision.Text)}
	if ticketType.TypeID() > 0 {
		update.Type = &ticketType
	}
	if err := s.updateTicket(ctx, ticket.ID, update); err != nil {
		return "", err
	}
	result.Answer = decision.Text
	return domain.OutcomeAnswered, nil
}

// applyEmergency writes the critical subject marker and the protocol block in one update,
// then raises the priority on a best-effort basis. The protocol block is posted once per
// ticket.
func (s *TriageService) applyEmergency(ctx context.Context, ticket *domain.Ticket, d domain.Diagnosis, crit domain.Criticality, decision domain.RoutingDecision, result *TriageResult, log *zap.Logger) {
	subject := markSubject(ticket.Subject)
	incident := domain.TicketTypeIncident
	update := domain.TicketUpdate{Subject: &subject, Type: &incident}
	if !ticket.HasArticleSubject(emergencyProtocolSubject) {
		update.Article = emergencyArticle(d, crit, decision.Entity)
	}
	if err := s.updateTicket(ctx, ticket.ID, update); err != nil {
		log.Error("unable to apply emergency markers", zap.Error(err))
		result.Warnings = append(result.Warnings, "emergency markers not applied: "+err.Error())
	}

	if s.escalation.RaisePriority {
		priority := domain.TicketPriority(s.escalation.PriorityID)
		if err := s.updateTicket(ctx, ticket.ID, domain.TicketUpdate{Priority: &priority}); err != nil {
			log.Warn("unable to raise ticket priority", zap.Error(err))
			result.Warnings = append(result.Warnings, "priority not raised")
		}
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventEmergencyEscalated,
		TicketID: ticket.ID,
		Payload: events.EmergencyEscalatedPayload{
			TicketNumber:   ticket.Number,
			Subject:        subject,
			Entity:         decision.Entity,
			Criticality:    crit.Score,
			Classification: d.Classification(),
		},
	})
}

func (s *TriageService) delegate(ctx context.Context, ticket *domain.Ticket, d domain.Diagnosis, decision domain.RoutingDecision, accepted domain.TriageOutcome, result *TriageResult, log *zap.Logger) (domain.TriageOutcome, error) {
	task := domain.NewDelegationTask(ticket, decision, d)
	err := s.submitter.Submit(*task)
	switch {
	case err == nil:
		result.TaskID = task.ID
		s.publishEvent(ctx, events.Event{
			Type:     events.EventDelegationQueued,
			TicketID: ticket.ID,
			Payload:  events.DelegationPayload{Task: *task},
		})
		return accepted, nil

	case errors.Is(err, apperrors.ErrDuplicateDelegation):
		log.Info("delegation already in flight")
		if de := apperrors.ToDomainError(err); de != nil {
			if id, ok := de.Details["task_id"].(string); ok {
				result.TaskID = id
			}
		}
		return domain.OutcomeAlreadyProcessing, nil

	case errors.Is(err, apperrors.ErrQueueSaturated):
		log.Warn("delegation queue saturated; flagging for manual follow-up", zap.Error(err))
		s.publishEvent(ctx, events.Event{
			Type:     events.EventDelegationRejected,
			TicketID: ticket.ID,
			Payload:  events.DelegationPayload{Task: *task, Reason: err.Error()},
		})
		if werr := s.updateTicket(ctx, ticket.ID, domain.TicketUpdate{Article: manualFollowUpArticle(decision.Entity)}); werr != nil {
			return "", werr
		}
		return domain.OutcomeManualFollowUp, nil

	default:
		return "", err
	}
}

// fallback writes a generic response when the diagnosis failed. Malformed answers never
// lead to escalation.
func (s *TriageService) fallback(ctx context.Context, ticket *domain.Ticket, cause error, log *zap.Logger) (*TriageResult, error) {
	upstreamDown := !errors.Is(cause, apperrors.ErrMalformedResponse)
	log.Warn("diagnosis failed; writing fallback response", zap.Bool("upstream_down", upstreamDown), zap.Error(cause))

	if err := s.updateTicket(ctx, ticket.ID, domain.TicketUpdate{Article: fallbackArticle(upstreamDown)}); err != nil {
		return nil, err
	}
	result := &TriageResult{TicketID: ticket.ID, TicketType: ticket.Type}
	s.finish(ctx, result, domain.OutcomeFallback, cause.Error())
	return result, nil
}

// updateTicket retries a conflicting write once. A second conflict is logged and the
// ticket is left as-is.
func (s *TriageService) updateTicket(ctx context.Context, ticketID string, update domain.TicketUpdate) error {
	err := s.tickets.Update(ctx, ticketID, update)
	if !errors.Is(err, apperrors.ErrConflict) {
		return err
	}
	if err = s.tickets.Update(ctx, ticketID, update); errors.Is(err, apperrors.ErrConflict) {
		s.logger.Warn("ticket changed concurrently; leaving as-is", zap.String("ticket_id", ticketID), zap.Error(err))
		return nil
	}
	return err
}

func (s *TriageService) finish(ctx context.Context, result *TriageResult, outcome domain.TriageOutcome, reason string) {
	result.Status = strings.ToLower(string(outcome))
	route := string(result.Route)
	if route == "" {
		route = "none"
	}
	s.metrics.RecordTriage(route, string(outcome))

	var taskID *string
	if result.TaskID != "" {
		id := result.TaskID
		taskID = &id
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketTriaged,
		TicketID: result.TicketID,
		Payload: events.TicketTriagedPayload{
			TicketType:    result.TicketType,
			Route:         result.Route,
			Criticality:   result.Criticality,
			SecurityAlert: result.SecurityAlert,
			Entity:        result.Entity,
			TaskID:        taskID,
			Outcome:       outcome,
			Reason:        reason,
		},
	})
}

func (s *TriageService) publishEvent(ctx context.Context, event events.Event) {
	publishEvent(ctx, s.dispatcher, event)
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_ = dispatcher.Publish(ctx, event)
}
