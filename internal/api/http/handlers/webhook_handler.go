package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/api/dto"
	"github.com/spec-kit/triage-service/internal/service"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

// Triager runs one triage pass for a ticket.
type Triager interface {
	Handle(ctx context.Context, ticketID string) (*service.TriageResult, error)
}

// WebhookHandler receives ticket notifications from the ticketing platform.
type WebhookHandler struct {
	triage Triager
	logger *zap.Logger
}

func NewWebhookHandler(triage Triager, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{triage: triage, logger: logger.Named("webhook")}
}

// Receive extracts the ticket identifier and triages the ticket. The response is sent
// once the synchronous side effects are written; delegated analysis continues in the
// background.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	ticketID, err := h.ticketID(c)
	if err != nil {
		return err
	}

	result, err := h.triage.Handle(c.UserContext(), ticketID)
	if err != nil {
		return err
	}
	h.logger.Info("webhook processed",
		zap.String("ticket_id", ticketID),
		zap.String("status", result.Status))
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *WebhookHandler) ticketID(c *fiber.Ctx) (string, error) {
	var req dto.WebhookRequest
	if body := c.Body(); len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return "", apperrors.NewValidationError("invalid JSON payload", map[string]any{"reason": err.Error()})
		}
	}
	id := req.ResolveTicketID()
	if id == "" {
		id = strings.TrimSpace(c.Query("TicketID"))
	}
	if id == "" {
		return "", apperrors.NewValidationError("TicketID not found in payload", nil)
	}
	if !dto.ValidTicketID(id) {
		return "", apperrors.NewValidationError("TicketID must be numeric", map[string]any{"ticket_id": id})
	}
	return id, nil
}
