package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/events"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

// AnalysisGateway runs the deep incident analysis.
type AnalysisGateway interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisReport, error)
}

const (
	outcomeWriteAttempts = 3
	outcomeWriteBackoff  = 500 * time.Millisecond
)

// DelegationService executes delegation tasks on behalf of the worker pool and writes
// their outcome back to the ticket.
type DelegationService struct {
	tickets    TicketGateway
	analyzer   AnalysisGateway
	dispatcher events.Dispatcher
	logger     *zap.Logger

	writeAttempts int
	writeBackoff  time.Duration
}

func NewDelegationService(tickets TicketGateway, analyzer AnalysisGateway, dispatcher events.Dispatcher, logger *zap.Logger) *DelegationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DelegationService{
		tickets:    tickets,
		analyzer:   analyzer,
		dispatcher: dispatcher,
		logger:     logger.Named("delegation"),

		writeAttempts: outcomeWriteAttempts,
		writeBackoff:  outcomeWriteBackoff,
	}
}

// Analyze calls the log monitor for the task's entity.
func (s *DelegationService) Analyze(ctx context.Context, task domain.DelegationTask) (*domain.AnalysisReport, error) {
	return s.analyzer.Analyze(ctx, domain.AnalysisRequest{
		TicketID:         task.TicketID,
		TicketNumber:     task.TicketNumber,
		Title:            task.Subject,
		TicketText:       task.TicketText,
		Entity:           task.Entity,
		InitialDiagnosis: task.InitialDiagnosis,
	})
}

// OnCompleted appends the formatted report to the ticket.
func (s *DelegationService) OnCompleted(ctx context.Context, task domain.DelegationTask, report *domain.AnalysisReport) {
	incident := domain.TicketTypeIncident
	s.write(ctx, task, domain.TicketUpdate{Type: &incident, Article: reportArticle(task, report)})
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventDelegationCompleted,
		TicketID: task.TicketID,
		Payload:  events.DelegationPayload{Task: task, Report: report},
	})
}

// OnFailed appends the single failure notice for the task.
func (s *DelegationService) OnFailed(ctx context.Context, task domain.DelegationTask, cause error) {
	s.write(ctx, task, domain.TicketUpdate{Article: failureArticle(task, cause)})
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventDelegationFailed,
		TicketID: task.TicketID,
		Payload:  events.DelegationPayload{Task: task, Reason: reason},
	})
}

// write retries transient failures with exponential backoff and a conflict once.
func (s *DelegationService) write(ctx context.Context, task domain.DelegationTask, update domain.TicketUpdate) {
	log := s.logger.With(zap.String("task_id", task.ID), zap.String("ticket_id", task.TicketID))

	var err error
	conflictRetried := false
	for attempt := 1; ; attempt++ {
		err = s.tickets.Update(ctx, task.TicketID, update)
		if errors.Is(err, apperrors.ErrConflict) && !conflictRetried {
			conflictRetried = true
			continue
		}
		if !apperrors.IsRetryable(err) || attempt >= s.writeAttempts {
			break
		}
		delay := s.writeBackoff << (attempt - 1)
		log.Warn("ticket write failed; retrying", zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		if !sleepContext(ctx, delay) {
			break
		}
	}

	switch {
	case err == nil:
		log.Info("delegation outcome written", zap.String("status", string(task.Status)))
	case errors.Is(err, apperrors.ErrConflict):
		log.Warn("ticket changed concurrently; outcome not written", zap.Error(err))
	default:
		log.Error("unable to write delegation outcome", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
