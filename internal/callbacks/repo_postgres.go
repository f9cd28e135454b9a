package callbacks

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcenter-engine/internal/domain"
)

// NOTE: expected table:
//
//   CREATE TABLE callback_requests (
//     id             TEXT PRIMARY KEY,
//     call_id        TEXT,
//     queue_id       TEXT NOT NULL,
//     phone_number   TEXT NOT NULL,
//     preferred_time TIMESTAMPTZ NOT NULL,
//     notes          TEXT,
//     priority       INTEGER NOT NULL DEFAULT 0,
//     status         TEXT NOT NULL,
//     attempts       INTEGER NOT NULL DEFAULT 0,
//     placed_call_id TEXT,
//     created_at     TIMESTAMPTZ NOT NULL,
//     updated_at     TIMESTAMPTZ NOT NULL,
//     completed_at   TIMESTAMPTZ
//   );
//
//   CREATE UNIQUE INDEX callback_requests_active_uniq
//     ON callback_requests (phone_number, queue_id)
//     WHERE status IN ('pending', 'due');

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callbackColumns = `
id, COALESCE(call_id,''), queue_id, phone_number, preferred_time, COALESCE(notes,''),
priority, status, attempts, COALESCE(placed_call_id,''), created_at, updated_at, completed_at`

func (r *PostgresRepo) Create(ctx context.Context, cb CallbackRequest) error {
	const stmt = `
INSERT INTO callback_requests (id, call_id, queue_id, phone_number, preferred_time, notes, priority,
                               status, attempts, placed_call_id, created_at, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`
	_, err := r.db.ExecContext(ctx, stmt,
		cb.ID, nullStr(cb.CallID), cb.QueueID, cb.PhoneNumber, cb.PreferredTime, cb.Notes, cb.Priority,
		string(cb.Status), cb.Attempts, nullStr(cb.PlacedCallID), cb.CreatedAt, cb.UpdatedAt, cb.CompletedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (CallbackRequest, error) {
	const stmt = `SELECT ` + callbackColumns + ` FROM callback_requests WHERE id = $1`
	cb, err := scanCallback(r.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallbackRequest{}, domain.Errorf(domain.CodeNotFound, "callback %s not found", id)
		}
		return CallbackRequest{}, err
	}
	return cb, nil
}

func (r *PostgresRepo) Update(ctx context.Context, cb CallbackRequest) error {
	const stmt = `
UPDATE callback_requests
SET status = $2, attempts = $3, notes = $4, placed_call_id = $5, updated_at = $6, completed_at = $7
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, stmt,
		cb.ID, string(cb.Status), cb.Attempts, cb.Notes, nullStr(cb.PlacedCallID), cb.UpdatedAt, cb.CompletedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.CodeNotFound, "callback %s not found", cb.ID)
	}
	return nil
}

func (r *PostgresRepo) ActiveByPhone(ctx context.Context, phoneNumber, queueID string) ([]CallbackRequest, error) {
	stmt := `
SELECT ` + callbackColumns + `
FROM callback_requests
WHERE phone_number = $1 AND status IN ('pending','due')`
	args := []any{phoneNumber}
	if queueID != "" {
		stmt += ` AND queue_id = $2`
		args = append(args, queueID)
	}
	stmt += ` ORDER BY created_at ASC`
	return r.queryCallbacks(ctx, stmt, args...)
}

func (r *PostgresRepo) ListPendingDue(ctx context.Context, now time.Time) ([]CallbackRequest, error) {
	const stmt = `
SELECT ` + callbackColumns + `
FROM callback_requests
WHERE status = 'pending' AND preferred_time <= $1
ORDER BY priority DESC, preferred_time ASC
`
	return r.queryCallbacks(ctx, stmt, now)
}

func (r *PostgresRepo) MarkDue(ctx context.Context, id string, now time.Time) (bool, error) {
	const stmt = `
UPDATE callback_requests
SET status = 'due', updated_at = $2
WHERE id = $1 AND status = 'pending'
`
	res, err := r.db.ExecContext(ctx, stmt, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) ListByQueue(ctx context.Context, queueID string) ([]CallbackRequest, error) {
	const stmt = `SELECT ` + callbackColumns + ` FROM callback_requests WHERE queue_id = $1 ORDER BY created_at ASC`
	return r.queryCallbacks(ctx, stmt, queueID)
}

func (r *PostgresRepo) queryCallbacks(ctx context.Context, stmt string, args ...any) ([]CallbackRequest, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CallbackRequest
	for rows.Next() {
		cb, err := scanCallback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallback(row rowScanner) (CallbackRequest, error) {
	var cb CallbackRequest
	if err := row.Scan(
		&cb.ID, &cb.CallID, &cb.QueueID, &cb.PhoneNumber, &cb.PreferredTime, &cb.Notes,
		&cb.Priority, &cb.Status, &cb.Attempts, &cb.PlacedCallID, &cb.CreatedAt, &cb.UpdatedAt, &cb.CompletedAt,
	); err != nil {
		return CallbackRequest{}, err
	}
	return cb, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
