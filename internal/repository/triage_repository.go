package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/triage-service/internal/domain"
)

// TriageRepository stores one audit entry per triage pass.
type TriageRepository interface {
	Create(ctx context.Context, record *domain.TriageRecord) error
	ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.TriageRecord, error)
}

type triageRepository struct {
	pool *pgxpool.Pool
}

// NewTriageRepository builds repository.
func NewTriageRepository(pool *pgxpool.Pool) TriageRepository {
	return &triageRepository{pool: pool}
}

func (r *triageRepository) Create(ctx context.Context, record *domain.TriageRecord) error {
	const query = `
        INSERT INTO triage_records (ticket_id, ticket_type, route, criticality, security_alert, entity, task_id, outcome, detail)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at`
	detail := record.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	return r.pool.QueryRow(ctx, query,
		record.TicketID,
		record.TicketType,
		record.Route,
		record.Criticality,
		record.SecurityAlert,
		record.Entity,
		record.TaskID,
		record.Outcome,
		detail,
	).Scan(&record.ID, &record.CreatedAt)
}

func (r *triageRepository) ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.TriageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
        SELECT id, ticket_id, ticket_type, route, criticality, security_alert, entity, task_id, outcome, detail, created_at
        FROM triage_records WHERE ticket_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, ticketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TriageRecord
	for rows.Next() {
		var record domain.TriageRecord
		if err := rows.Scan(
			&record.ID,
			&record.TicketID,
			&record.TicketType,
			&record.Route,
			&record.Criticality,
			&record.SecurityAlert,
			&record.Entity,
			&record.TaskID,
			&record.Outcome,
			&record.Detail,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
