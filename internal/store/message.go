package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/runerr"
	"github.com/jackc/pgx/v5/pgconn"
)

// InsertMessage writes a new message row. Because provider_message_id is
// unique, a second ingestion of the same webhook delivery surfaces as
// runerr.KindDuplicateKey rather than a generic failure.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) error {
	const q = `
INSERT INTO messages (id, case_id, direction, provider_message_id, subject, body_ref, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q, m.ID, m.CaseID, m.Direction, m.ProviderMessageID, m.Subject, m.BodyRef, m.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return runerr.Wrap(runerr.KindDuplicateKey, err, "message with provider_message_id %s already exists", m.ProviderMessageID)
		}
		return fmt.Errorf("store: insert message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage loads a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	const q = `
SELECT id, case_id, direction, provider_message_id, subject, body_ref, timestamp, processed_at, processed_run_id
FROM messages WHERE id = $1`
	row := s.pool.QueryRow(ctx, q, id)

	var m domain.Message
	if err := row.Scan(&m.ID, &m.CaseID, &m.Direction, &m.ProviderMessageID, &m.Subject, &m.BodyRef,
		&m.Timestamp, &m.ProcessedAt, &m.ProcessedRunID); err != nil {
		return nil, fmt.Errorf("store: get message %s: %w", id, err)
	}
	return &m, nil
}

// MarkMessageProcessed is the Persistent Store's atomic claim primitive: a
// conditional write that fails if processed_at is already set, so at most
// one Run ever claims a given inbound message.
func (s *Store) MarkMessageProcessed(ctx context.Context, messageID, runID string) error {
	const q = `
UPDATE messages SET processed_at = now(), processed_run_id = $2
WHERE id = $1 AND processed_at IS NULL`
	tag, err := s.pool.Exec(ctx, q, messageID, runID)
	if err != nil {
		return fmt.Errorf("store: mark message processed %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return runerr.New(runerr.KindDuplicateKey, "message %s already processed", messageID)
	}
	return nil
}

// isUniqueViolation checks for Postgres error code 23505, the unique-
// violation-as-idempotency-hit idiom ErlanBelekov's ScheduleRepository
// uses against pgconn.PgError.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
