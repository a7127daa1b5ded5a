package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/triage-service/internal/domain"
)

// DelegationRepository keeps an audit copy of delegation task lifecycles. The worker
// pool stays the owner of live tasks; rows are written after each transition.
type DelegationRepository interface {
	Save(ctx context.Context, task *domain.DelegationTask) error
	GetByID(ctx context.Context, id string) (*domain.DelegationTask, error)
	ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.DelegationTask, error)
}

type delegationRepository struct {
	pool *pgxpool.Pool
}

// NewDelegationRepository instantiates repository.
func NewDelegationRepository(pool *pgxpool.Pool) DelegationRepository {
	return &delegationRepository{pool: pool}
}

// Save upserts the task. Events may arrive out of order, so a terminal row is never
// overwritten and a PENDING snapshot never replaces a later one.
func (r *delegationRepository) Save(ctx context.Context, task *domain.DelegationTask) error {
	const query = `
        INSERT INTO delegation_tasks (id, ticket_id, entity, urgency, status, attempts, last_error, submitted_at, started_at, finished_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, attempts=EXCLUDED.attempts,
            last_error=EXCLUDED.last_error, started_at=EXCLUDED.started_at,
            finished_at=EXCLUDED.finished_at, updated_at=NOW()
        WHERE delegation_tasks.status NOT IN ('COMPLETED','FAILED') AND EXCLUDED.status <> 'PENDING'`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.TicketID,
		task.Entity,
		task.Urgency,
		task.Status,
		task.Attempts,
		task.LastError,
		task.SubmittedAt,
		task.StartedAt,
		task.FinishedAt,
	)
	return err
}

func (r *delegationRepository) GetByID(ctx context.Context, id string) (*domain.DelegationTask, error) {
	const query = `
        SELECT id, ticket_id, entity, urgency, status, attempts, last_error, submitted_at, started_at, finished_at
        FROM delegation_tasks WHERE id=$1`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &tasks[0], nil
}

func (r *delegationRepository) ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.DelegationTask, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
        SELECT id, ticket_id, entity, urgency, status, attempts, last_error, submitted_at, started_at, finished_at
        FROM delegation_tasks WHERE ticket_id=$1 ORDER BY submitted_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, ticketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows pgx.Rows) ([]domain.DelegationTask, error) {
	var result []domain.DelegationTask
	for rows.Next() {
		var task domain.DelegationTask
		if err := rows.Scan(
			&task.ID,
			&task.TicketID,
			&task.Entity,
			&task.Urgency,
			&task.Status,
			&task.Attempts,
			&task.LastError,
			&task.SubmittedAt,
			&task.StartedAt,
			&task.FinishedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}
