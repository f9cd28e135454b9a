package queues

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"callcenter-engine/internal/domain"
)

// NOTE: expected table:
//
//   CREATE TABLE queues (
//     id              TEXT PRIMARY KEY,
//     name            TEXT NOT NULL,
//     description     TEXT,
//     strategy        TEXT NOT NULL,
//     priority        INT NOT NULL DEFAULT 0,
//     max_size        INT NOT NULL,
//     timeout_seconds INT NOT NULL,
//     required_skills JSONB,
//     is_active       BOOLEAN NOT NULL DEFAULT TRUE,
//     metadata        JSONB,
//     created_at      TIMESTAMPTZ NOT NULL,
//     updated_at      TIMESTAMPTZ NOT NULL
//   );

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const queueColumns = `
id, name, COALESCE(description,''), strategy, priority, max_size, timeout_seconds,
required_skills, is_active, metadata, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, q Queue) error {
	const stmt = `
INSERT INTO queues (id, name, description, strategy, priority, max_size, timeout_seconds,
                    required_skills, is_active, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	skills, meta, err := marshalQueueJSON(q)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, stmt,
		q.ID, q.Name, q.Description, string(q.Strategy), q.Priority, q.MaxSize, q.TimeoutSeconds,
		skills, q.IsActive, meta, q.CreatedAt, q.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Queue, error) {
	const stmt = `SELECT ` + queueColumns + ` FROM queues WHERE id = $1`
	q, err := scanQueue(r.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Queue{}, domain.Errorf(domain.CodeNotFound, "queue %s not found", id)
		}
		return Queue{}, err
	}
	return q, nil
}

func (r *PostgresRepo) Update(ctx context.Context, q Queue) error {
	const stmt = `
UPDATE queues
SET name = $2, description = $3, strategy = $4, priority = $5, max_size = $6,
    timeout_seconds = $7, required_skills = $8, is_active = $9, metadata = $10, updated_at = $11
WHERE id = $1
`
	skills, meta, err := marshalQueueJSON(q)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, stmt,
		q.ID, q.Name, q.Description, string(q.Strategy), q.Priority, q.MaxSize,
		q.TimeoutSeconds, skills, q.IsActive, meta, q.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.CodeNotFound, "queue %s not found", q.ID)
	}
	return nil
}

func (r *PostgresRepo) ListActive(ctx context.Context) ([]Queue, error) {
	const stmt = `
SELECT ` + queueColumns + `
FROM queues
WHERE is_active
ORDER BY priority DESC, created_at ASC
`
	return r.queryQueues(ctx, stmt)
}

func (r *PostgresRepo) List(ctx context.Context) ([]Queue, error) {
	const stmt = `SELECT ` + queueColumns + ` FROM queues ORDER BY priority DESC, created_at ASC`
	return r.queryQueues(ctx, stmt)
}

func (r *PostgresRepo) queryQueues(ctx context.Context, stmt string) ([]Queue, error) {
	rows, err := r.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func marshalQueueJSON(q Queue) (skills, meta []byte, err error) {
	if skills, err = json.Marshal(q.RequiredSkills); err != nil {
		return nil, nil, err
	}
	if meta, err = json.Marshal(q.Metadata); err != nil {
		return nil, nil, err
	}
	return skills, meta, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueue(row rowScanner) (Queue, error) {
	var q Queue
	var skills, meta []byte
	if err := row.Scan(
		&q.ID, &q.Name, &q.Description, &q.Strategy, &q.Priority, &q.MaxSize, &q.TimeoutSeconds,
		&skills, &q.IsActive, &meta, &q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		return Queue{}, err
	}
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &q.RequiredSkills); err != nil {
			return Queue{}, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &q.Metadata); err != nil {
			return Queue{}, err
		}
	}
	return q, nil
}
