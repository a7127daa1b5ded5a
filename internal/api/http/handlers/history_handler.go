package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/triage-service/internal/api/dto"
	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/repository"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

// HistoryHandler exposes the audit trail of a ticket to operators.
type HistoryHandler struct {
	triage      repository.TriageRepository
	delegations repository.DelegationRepository
}

// NewHistoryHandler returns a handler. Nil repositories mean the audit trail is disabled.
func NewHistoryHandler(triage repository.TriageRepository, delegations repository.DelegationRepository) *HistoryHandler {
	return &HistoryHandler{triage: triage, delegations: delegations}
}

// Ticket lists triage passes and delegation tasks recorded for a ticket.
func (h *HistoryHandler) Ticket(c *fiber.Ctx) error {
	if h.triage == nil || h.delegations == nil {
		return apperrors.NewDomainError(apperrors.CodeUpstreamUnavailable, "audit trail disabled", http.StatusServiceUnavailable, nil)
	}
	ticketID := c.Params("id")
	if !dto.ValidTicketID(ticketID) {
		return apperrors.NewValidationError("ticket id must be numeric", map[string]any{"ticket_id": ticketID})
	}
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		return apperrors.NewValidationError("limit must be within [1,200]", map[string]any{"limit": limit})
	}

	var (
		records []domain.TriageRecord
		tasks   []domain.DelegationTask
	)
	g, ctx := errgroup.WithContext(c.UserContext())
	g.Go(func() (err error) {
		records, err = h.triage.ListByTicket(ctx, ticketID, limit)
		return err
	})
	g.Go(func() (err error) {
		tasks, err = h.delegations.ListByTicket(ctx, ticketID, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return c.JSON(dto.NewTicketHistoryResponse(ticketID, records, tasks))
}
