package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// NOTE: This repository assumes the following table exists:
//
//   CREATE TABLE lifecycle_events (
//     id          TEXT PRIMARY KEY,
//     call_id     TEXT,
//     agent_id    TEXT,
//     queue_id    TEXT,
//     type        TEXT NOT NULL,
//     from_status TEXT,
//     to_status   TEXT,
//     actor       TEXT,
//     reason      TEXT,
//     data        JSONB,
//     created_at  TIMESTAMPTZ NOT NULL
//   );
//
// The table is INSERT-only; an UPDATE/DELETE-blocking trigger is recommended.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	return insertEvent(ctx, r.db, e)
}

// InsertTx appends an event inside an existing transaction. Entity
// repositories use this so the entity row and its log entry commit together.
func InsertTx(ctx context.Context, tx *sql.Tx, e Event) error {
	return insertEvent(ctx, tx, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, ex execer, e Event) error {
	const q = `
INSERT INTO lifecycle_events (id, call_id, agent_id, queue_id, type, from_status, to_status, actor, reason, data, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, q,
		e.ID,
		nullStr(e.CallID),
		nullStr(e.AgentID),
		nullStr(e.QueueID),
		string(e.Type),
		nullStr(e.FromStatus),
		nullStr(e.ToStatus),
		nullStr(e.Actor),
		nullStr(e.Reason),
		data,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	const q = `
SELECT id, COALESCE(call_id,''), COALESCE(agent_id,''), COALESCE(queue_id,''), type,
       COALESCE(from_status,''), COALESCE(to_status,''), COALESCE(actor,''), COALESCE(reason,''), data, created_at
FROM lifecycle_events
WHERE call_id = $1
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (r *PostgresRepo) ListByAgent(ctx context.Context, agentID string, from, to time.Time) ([]Event, error) {
	const q = `
SELECT id, COALESCE(call_id,''), COALESCE(agent_id,''), COALESCE(queue_id,''), type,
       COALESCE(from_status,''), COALESCE(to_status,''), COALESCE(actor,''), COALESCE(reason,''), data, created_at
FROM lifecycle_events
WHERE agent_id = $1 AND created_at >= $2 AND created_at <= $3
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, agentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(
			&e.ID, &e.CallID, &e.AgentID, &e.QueueID, &e.Type,
			&e.FromStatus, &e.ToStatus, &e.Actor, &e.Reason, &data, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
