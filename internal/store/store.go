// Package store implements the Persistent Store: durable records for
// cases, messages, proposals, runs, executions, follow-up schedules and
// dead-letter entries, plus the atomic primitives the rest of the engine
// depends on.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store wraps the shared pgxpool.Pool the Checkpoint Store and Job Queue
// also use: one Postgres instance backs every durable component.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New wraps an already-connected pool. Callers construct the pool once in
// internal/app and pass it to every component that needs Postgres.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.With(zap.String("component", "store"))}
}

// Pool exposes the underlying pool so a caller that needs a shared
// transaction can begin one; no package in this module calls it.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// EnsureSchema creates every table the Persistent Store owns if it does
// not already exist. Grounded in the single-migration-file style of
// ErlanBelekov's ScheduleRepository, adapted from one table to the
// engine's full entity set.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS cases (
	id             TEXT PRIMARY KEY,
	agency         TEXT NOT NULL,
	jurisdiction   TEXT NOT NULL,
	request_text   TEXT NOT NULL,
	status         TEXT NOT NULL,
	review_state   TEXT NOT NULL,
	autopilot_mode TEXT NOT NULL,
	constraints    JSONB NOT NULL DEFAULT '[]',
	scope_items    JSONB NOT NULL DEFAULT '[]',
	fee_quote      JSONB,
	portal_url     TEXT NOT NULL DEFAULT '',
	requested_at   TIMESTAMPTZ NOT NULL,
	response_due_at TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	case_id             TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	direction           TEXT NOT NULL,
	provider_message_id TEXT NOT NULL UNIQUE,
	subject             TEXT NOT NULL DEFAULT '',
	body_ref            TEXT NOT NULL DEFAULT '',
	timestamp           TIMESTAMPTZ NOT NULL,
	processed_at        TIMESTAMPTZ,
	processed_run_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS messages_case_idx ON messages (case_id);

CREATE TABLE IF NOT EXISTS proposals (
	id                TEXT PRIMARY KEY,
	case_id           TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	message_id        TEXT NOT NULL DEFAULT '',
	proposal_key      TEXT NOT NULL UNIQUE,
	action_type       TEXT NOT NULL,
	attempt           INTEGER NOT NULL DEFAULT 1,
	draft_subject_ref TEXT NOT NULL DEFAULT '',
	draft_body_ref    TEXT NOT NULL DEFAULT '',
	reasoning         JSONB NOT NULL DEFAULT '[]',
	risk_flags        JSONB NOT NULL DEFAULT '[]',
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	pause_reason      TEXT NOT NULL DEFAULT '',
	execution_key     TEXT UNIQUE,
	executed_at       TIMESTAMPTZ,
	decision          TEXT NOT NULL DEFAULT '',
	decision_note     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS proposals_case_idx ON proposals (case_id);

CREATE TABLE IF NOT EXISTS runs (
	id                   TEXT PRIMARY KEY,
	case_id              TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	trigger_type         TEXT NOT NULL,
	message_id           TEXT NOT NULL DEFAULT '',
	followup_schedule_id TEXT NOT NULL DEFAULT '',
	proposal_id          TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	thread_id            TEXT NOT NULL DEFAULT '',
	node_trace           JSONB NOT NULL DEFAULT '[]',
	interrupt_value      JSONB,
	skip_reason          TEXT NOT NULL DEFAULT '',
	error_message        TEXT NOT NULL DEFAULT '',
	started_at           TIMESTAMPTZ,
	ended_at             TIMESTAMPTZ,
	heartbeat_at         TIMESTAMPTZ,
	lock_expires_at      TIMESTAMPTZ,
	recovery_attempted   BOOLEAN NOT NULL DEFAULT false,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS runs_case_idx ON runs (case_id);
CREATE INDEX IF NOT EXISTS runs_running_idx ON runs (status, lock_expires_at) WHERE status = 'RUNNING';

CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY,
	proposal_id   TEXT NOT NULL REFERENCES proposals(id) ON DELETE CASCADE,
	execution_key TEXT NOT NULL UNIQUE,
	status        TEXT NOT NULL,
	provider_ref  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS followup_schedules (
	id            TEXT PRIMARY KEY,
	case_id       TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	due_at        TIMESTAMPTZ NOT NULL,
	attempt       INTEGER NOT NULL,
	paused        BOOLEAN NOT NULL DEFAULT false,
	completed     BOOLEAN NOT NULL DEFAULT false,
	scheduled_key TEXT NOT NULL UNIQUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS followup_due_idx ON followup_schedules (due_at) WHERE NOT paused AND NOT completed;

CREATE TABLE IF NOT EXISTS dead_letter_entries (
	id         TEXT PRIMARY KEY,
	queue      TEXT NOT NULL,
	job_name   TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	error      TEXT NOT NULL,
	attempts   INTEGER NOT NULL,
	case_id    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	retried_at TIMESTAMPTZ,
	discarded  BOOLEAN NOT NULL DEFAULT false
);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}
