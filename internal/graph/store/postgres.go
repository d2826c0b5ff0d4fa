package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Checkpoint Store backend, targeting the
// same pgxpool.Pool instance the Persistent Store and Job Queue share:
// one Postgres instance backs all three durable components.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool. Schema creation is the
// caller's responsibility (see EnsureSchema), mirroring how the Persistent
// Store and Job Queue share one migration path rather than each backend
// auto-creating tables behind the others' backs.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the checkpoint table if it does not already exist,
// keyed by thread id and checkpoint index rather than run id and step.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS graph_checkpoints (
	thread_id  TEXT NOT NULL,
	index_id   INTEGER NOT NULL,
	blob       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (thread_id, index_id)
);
CREATE INDEX IF NOT EXISTS graph_checkpoints_thread_idx ON graph_checkpoints (thread_id, index_id DESC);
`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Put(ctx context.Context, threadID string, index int, blob []byte) error {
	const q = `
INSERT INTO graph_checkpoints (thread_id, index_id, blob)
VALUES ($1, $2, $3)
ON CONFLICT (thread_id, index_id) DO UPDATE SET blob = EXCLUDED.blob`
	_, err := s.pool.Exec(ctx, q, threadID, index, blob)
	if err != nil {
		return fmt.Errorf("checkpoint store: put %s/%d: %w", threadID, index, err)
	}
	return nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, threadID string) (Checkpoint, error) {
	const q = `
SELECT thread_id, index_id, blob FROM graph_checkpoints
WHERE thread_id = $1
ORDER BY index_id DESC
LIMIT 1`
	row := s.pool.QueryRow(ctx, q, threadID)

	var cp Checkpoint
	if err := row.Scan(&cp.ThreadID, &cp.Index, &cp.Blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("checkpoint store: get latest %s: %w", threadID, err)
	}
	return cp, nil
}

func (s *PostgresStore) Iter(ctx context.Context, threadID string) ([]Checkpoint, error) {
	const q = `
SELECT thread_id, index_id, blob FROM graph_checkpoints
WHERE thread_id = $1
ORDER BY index_id ASC`
	rows, err := s.pool.Query(ctx, q, threadID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: iter %s: %w", threadID, err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.ThreadID, &cp.Index, &cp.Blob); err != nil {
			return nil, fmt.Errorf("checkpoint store: scan %s: %w", threadID, err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	const q = `DELETE FROM graph_checkpoints WHERE thread_id LIKE $1`
	_, err := s.pool.Exec(ctx, q, prefix+"%")
	if err != nil {
		return fmt.Errorf("checkpoint store: delete by prefix %s: %w", prefix, err)
	}
	return nil
}
