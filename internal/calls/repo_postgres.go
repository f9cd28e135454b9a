package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/events"
	"callcenter-engine/pkg/utils"
)

// NOTE: This repository assumes the following table exists:
//
//   CREATE TABLE calls (
//     id               TEXT PRIMARY KEY,
//     provider_call_id TEXT UNIQUE,
//     account_id       TEXT,
//     direction        TEXT NOT NULL,
//     status           TEXT NOT NULL,
//     from_number      TEXT NOT NULL,
//     to_number        TEXT NOT NULL,
//     agent_id         TEXT,
//     queue_id         TEXT,
//     created_at       TIMESTAMPTZ NOT NULL,
//     queued_at        TIMESTAMPTZ,
//     answered_at      TIMESTAMPTZ,
//     ended_at         TIMESTAMPTZ,
//     queue_seconds    INT NOT NULL DEFAULT 0,
//     duration_seconds INT NOT NULL DEFAULT 0,
//     recording_url    TEXT,
//     transcription    TEXT,
//     metadata         JSONB,
//     updated_at       TIMESTAMPTZ NOT NULL
//   );
//
// Lifecycle events go to lifecycle_events (see internal/events) in the same
// transaction as the row write.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `
id, COALESCE(provider_call_id,''), COALESCE(account_id,''), direction, status,
from_number, to_number, COALESCE(agent_id,''), COALESCE(queue_id,''),
created_at, queued_at, answered_at, ended_at,
queue_seconds, duration_seconds, COALESCE(recording_url,''), COALESCE(transcription,''), metadata, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, c Call, ev events.Event) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO calls (id, provider_call_id, account_id, direction, status, from_number, to_number,
                   agent_id, queue_id, created_at, queued_at, answered_at, ended_at,
                   queue_seconds, duration_seconds, recording_url, transcription, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
`
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q,
			c.ID, nullStr(c.ProviderCallID), nullStr(c.AccountID), string(c.Direction), string(c.Status),
			c.From, c.To, nullStr(c.AgentID), nullStr(c.QueueID),
			c.CreatedAt, c.QueuedAt, c.AnsweredAt, c.EndedAt,
			c.QueueSeconds, c.DurationSeconds, nullStr(c.RecordingURL), nullStr(c.Transcription), meta, c.UpdatedAt,
		); err != nil {
			return err
		}
		return events.InsertTx(ctx, tx, ev)
	})
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id), id)
}

func (r *PostgresRepo) GetByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, providerCallID), providerCallID)
}

func (r *PostgresRepo) UpdateWithEvents(ctx context.Context, c Call, evs ...events.Event) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
UPDATE calls
SET provider_call_id = $2, account_id = $3, status = $4, agent_id = $5, queue_id = $6,
    queued_at = $7, answered_at = $8, ended_at = $9, queue_seconds = $10, duration_seconds = $11,
    recording_url = $12, transcription = $13, metadata = $14, updated_at = $15
WHERE id = $1
`
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, q,
			c.ID, nullStr(c.ProviderCallID), nullStr(c.AccountID), string(c.Status),
			nullStr(c.AgentID), nullStr(c.QueueID),
			c.QueuedAt, c.AnsweredAt, c.EndedAt, c.QueueSeconds, c.DurationSeconds,
			nullStr(c.RecordingURL), nullStr(c.Transcription), meta, c.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.Errorf(domain.CodeNotFound, "call %s not found", c.ID)
		}
		for _, ev := range evs {
			if err := events.InsertTx(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepo) ListQueued(ctx context.Context, queueID string) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status = 'queued' AND queue_id = $1
ORDER BY queued_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *PostgresRepo) CountQueued(ctx context.Context, queueID string) (int, error) {
	const q = `SELECT COUNT(*) FROM calls WHERE status = 'queued' AND queue_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, queueID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) ListByAgent(ctx context.Context, agentID string, statuses ...Status) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE agent_id = $1` + statusFilter(statuses) + ` ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, q, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *PostgresRepo) CountByAgent(ctx context.Context, agentID string, statuses ...Status) (int, error) {
	q := `SELECT COUNT(*) FROM calls WHERE agent_id = $1` + statusFilter(statuses)
	var n int
	if err := r.db.QueryRowContext(ctx, q, agentID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) ListByPeriod(ctx context.Context, from, to time.Time, queueID, agentID string) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE created_at >= $1 AND created_at <= $2`
	args := []any{from, to}
	if queueID != "" {
		args = append(args, queueID)
		q += ` AND queue_id = $3`
	}
	if agentID != "" {
		args = append(args, agentID)
		if queueID != "" {
			q += ` AND agent_id = $4`
		} else {
			q += ` AND agent_id = $3`
		}
	}
	q += ` ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// statusFilter builds an IN clause from literal status values. Statuses are
// internal constants, never user input.
func statusFilter(statuses []Status) string {
	if len(statuses) == 0 {
		return ""
	}
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return ` AND status IN (` + strings.Join(quoted, ",") + `)`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepo) scanOne(row rowScanner, key string) (Call, error) {
	c, err := scanCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, domain.Errorf(domain.CodeNotFound, "call %s not found", key)
		}
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) scanMany(rows *sql.Rows) ([]Call, error) {
	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var meta []byte
	if err := row.Scan(
		&c.ID, &c.ProviderCallID, &c.AccountID, &c.Direction, &c.Status,
		&c.From, &c.To, &c.AgentID, &c.QueueID,
		&c.CreatedAt, &c.QueuedAt, &c.AnsweredAt, &c.EndedAt,
		&c.QueueSeconds, &c.DurationSeconds, &c.RecordingURL, &c.Transcription, &meta, &c.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return Call{}, err
		}
	}
	return c, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
