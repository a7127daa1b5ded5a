package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/events"
	"github.com/spec-kit/triage-service/pkg/util/agentutil"
)

type onCallMessage struct {
	Text      string    `json:"text"`
	EventType string    `json:"event_type"`
	TicketID  string    `json:"ticket_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NotificationService pages the on-call rotation for emergencies and for work that
// fell out of the automated path.
type NotificationService struct {
	logger *zap.Logger
	cfg    config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{logger: logger.Named("notification"), cfg: cfg}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventEmergencyEscalated, n.handleEmergencyEscalated)
	dispatcher.Subscribe(events.EventDelegationRejected, n.handleDelegationRejected)
	dispatcher.Subscribe(events.EventDelegationFailed, n.handleDelegationFailed)
}

func (n *NotificationService) handleEmergencyEscalated(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.EmergencyEscalatedPayload)
	n.logger.Warn("EmergencyEscalated",
		zap.String("ticket_id", event.TicketID),
		zap.String("entity", payload.Entity),
		zap.Int("criticality", payload.Criticality))
	text := fmt.Sprintf("%s ticket %s (%s): %s. Criticality %d/10.",
		CriticalMarker, orNA(payload.TicketNumber, event.TicketID), payload.Entity, payload.Subject, payload.Criticality)
	return n.sendOnCall(ctx, event, text)
}

func (n *NotificationService) handleDelegationRejected(ctx context.Context, event events.Event) error {
	n.logger.Warn("DelegationRejected", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return n.sendOnCall(ctx, event, fmt.Sprintf("Ticket %s needs manual follow-up: incident analysis queue is full.", event.TicketID))
}

func (n *NotificationService) handleDelegationFailed(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.DelegationPayload)
	n.logger.Warn("DelegationFailed",
		zap.String("ticket_id", event.TicketID),
		zap.String("task_id", payload.Task.ID),
		zap.String("reason", payload.Reason))
	if payload.Task.Urgency != domain.UrgencyHigh {
		return nil
	}
	return n.sendOnCall(ctx, event, fmt.Sprintf("Analysis of emergency ticket %s failed: %s", event.TicketID, payload.Reason))
}

func (n *NotificationService) sendOnCall(ctx context.Context, event events.Event, text string) error {
	url := strings.TrimSpace(n.cfg.OnCallWebhookURL)
	if url == "" {
		return nil
	}
	msg := onCallMessage{
		Text:      text,
		EventType: string(event.Type),
		TicketID:  event.TicketID,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	}
	code, _, err := agentutil.Send(ctx, fiber.Post(url).JSON(msg), n.cfg.Timeout())
	if err != nil {
		return fmt.Errorf("notify on-call: %w", err)
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("notify on-call: status %d", code)
	}
	n.logger.Debug("on-call notified", zap.String("ticket_id", event.TicketID), zap.String("event_type", string(event.Type)))
	return nil
}
