package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trendy-design/llmchat-sub004/internal/model"
)

const defaultHistoryLimit = 50

// DB is the subset of *pgxpool.Pool the charge repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ChargeRepo is the durable audit trail of successful charges in PostgreSQL.
// Redis stays the source of truth for balances.
type ChargeRepo struct {
	db DB
}

func NewChargeRepo(db DB) *ChargeRepo {
	return &ChargeRepo{db: db}
}

// Insert records a charge. Replayed events with a known event_id are ignored.
func (r *ChargeRepo) Insert(ctx context.Context, event model.ChargeEvent) error {
	query := `
		INSERT INTO credit_charges (event_id, account_id, cost, remaining, charged_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		event.EventID,
		event.AccountID,
		event.Cost,
		event.Remaining,
		event.ChargedAt,
	)
	if err != nil {
		return fmt.Errorf("insert charge %s: %w", event.EventID, err)
	}
	return nil
}

// ListByAccount returns the newest charges for accountID first.
func (r *ChargeRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]model.ChargeEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `
		SELECT event_id::text, account_id, cost, remaining, charged_at
		FROM credit_charges
		WHERE account_id = $1
		ORDER BY charged_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("database query error: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ChargeEvent, error) {
		var e model.ChargeEvent
		err := row.Scan(&e.EventID, &e.AccountID, &e.Cost, &e.Remaining, &e.ChargedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan charges: %w", err)
	}
	return events, nil
}
