package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/events"
	"callcenter-engine/pkg/utils"
)

// NOTE: expected table:
//
//   CREATE TABLE agents (
//     id                   TEXT PRIMARY KEY,
//     user_id              TEXT UNIQUE NOT NULL,
//     name                 TEXT,
//     extension            TEXT NOT NULL,
//     phone_number         TEXT,
//     status               TEXT NOT NULL,
//     is_active            BOOLEAN NOT NULL DEFAULT TRUE,
//     skills               JSONB,
//     queue_ids            JSONB,
//     max_concurrent_calls INT NOT NULL DEFAULT 1,
//     calls_handled_today  INT NOT NULL DEFAULT 0,
//     talk_seconds_today   INT NOT NULL DEFAULT 0,
//     last_login_at        TIMESTAMPTZ,
//     last_status_change   TIMESTAMPTZ NOT NULL,
//     metadata             JSONB,
//     created_at           TIMESTAMPTZ NOT NULL,
//     updated_at           TIMESTAMPTZ NOT NULL
//   );

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const agentColumns = `
id, user_id, COALESCE(name,''), extension, COALESCE(phone_number,''), status, is_active,
skills, queue_ids, max_concurrent_calls, calls_handled_today, talk_seconds_today,
last_login_at, last_status_change, metadata, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, a Agent, ev events.Event) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO agents (id, user_id, name, extension, phone_number, status, is_active,
                    skills, queue_ids, max_concurrent_calls, calls_handled_today, talk_seconds_today,
                    last_login_at, last_status_change, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`
		skills, queues, meta, err := marshalAgentJSON(a)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q,
			a.ID, a.UserID, a.Name, a.Extension, a.PhoneNumber, string(a.Status), a.IsActive,
			skills, queues, a.MaxConcurrentCalls, a.CallsHandledToday, a.TalkSecondsToday,
			a.LastLoginAt, a.LastStatusChange, meta, a.CreatedAt, a.UpdatedAt,
		); err != nil {
			return err
		}
		return events.InsertTx(ctx, tx, ev)
	})
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return scanAgentRow(r.db.QueryRowContext(ctx, q, id), id)
}

func (r *PostgresRepo) GetByUserID(ctx context.Context, userID string) (Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents WHERE user_id = $1`
	return scanAgentRow(r.db.QueryRowContext(ctx, q, userID), userID)
}

func (r *PostgresRepo) UpdateWithEvents(ctx context.Context, a Agent, evs ...events.Event) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
UPDATE agents
SET name = $2, extension = $3, phone_number = $4, status = $5, is_active = $6,
    skills = $7, queue_ids = $8, max_concurrent_calls = $9, calls_handled_today = $10,
    talk_seconds_today = $11, last_login_at = $12, last_status_change = $13, metadata = $14,
    updated_at = $15
WHERE id = $1
`
		skills, queues, meta, err := marshalAgentJSON(a)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, q,
			a.ID, a.Name, a.Extension, a.PhoneNumber, string(a.Status), a.IsActive,
			skills, queues, a.MaxConcurrentCalls, a.CallsHandledToday, a.TalkSecondsToday,
			a.LastLoginAt, a.LastStatusChange, meta, a.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.Errorf(domain.CodeNotFound, "agent %s not found", a.ID)
		}
		for _, ev := range evs {
			if err := events.InsertTx(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepo) ListByQueue(ctx context.Context, queueID string) ([]Agent, error) {
	const q = `
SELECT ` + agentColumns + `
FROM agents
WHERE is_active AND queue_ids @> $1
ORDER BY last_status_change ASC
`
	member, err := json.Marshal([]string{queueID})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, member)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgents(rows)
}

func (r *PostgresRepo) List(ctx context.Context) ([]Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgents(rows)
}

func marshalAgentJSON(a Agent) (skills, queues, meta []byte, err error) {
	if skills, err = json.Marshal(a.Skills); err != nil {
		return nil, nil, nil, err
	}
	if queues, err = json.Marshal(a.QueueIDs); err != nil {
		return nil, nil, nil, err
	}
	if meta, err = json.Marshal(a.Metadata); err != nil {
		return nil, nil, nil, err
	}
	return skills, queues, meta, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentRow(row rowScanner, key string) (Agent, error) {
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, domain.Errorf(domain.CodeNotFound, "agent %s not found", key)
		}
		return Agent{}, err
	}
	return a, nil
}

func scanAgents(rows *sql.Rows) ([]Agent, error) {
	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAgent(row rowScanner) (Agent, error) {
	var a Agent
	var skills, queues, meta []byte
	if err := row.Scan(
		&a.ID, &a.UserID, &a.Name, &a.Extension, &a.PhoneNumber, &a.Status, &a.IsActive,
		&skills, &queues, &a.MaxConcurrentCalls, &a.CallsHandledToday, &a.TalkSecondsToday,
		&a.LastLoginAt, &a.LastStatusChange, &meta, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return Agent{}, err
	}
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &a.Skills); err != nil {
			return Agent{}, err
		}
	}
	if len(queues) > 0 {
		if err := json.Unmarshal(queues, &a.QueueIDs); err != nil {
			return Agent{}, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return Agent{}, err
		}
	}
	return a, nil
}
