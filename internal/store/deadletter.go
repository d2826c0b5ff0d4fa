package store

import (
	"context"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/domain"
)

// InsertDeadLetter records a job that exhausted its queue profile's retry
// budget, preserving its payload for operator inspection and replay via
// enginectl.
func (s *Store) InsertDeadLetter(ctx context.Context, d *domain.DeadLetterEntry) error {
	const q = `
INSERT INTO dead_letter_entries (id, queue, job_name, payload, error, attempts, case_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q, d.ID, d.Queue, d.JobName, d.Payload, d.Error, d.Attempts, d.CaseID)
	if err != nil {
		return fmt.Errorf("store: insert dead letter %s: %w", d.ID, err)
	}
	return nil
}

// GetDeadLetter loads a dead-letter entry by id.
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	const q = `
SELECT id, queue, job_name, payload, error, attempts, case_id, created_at, retried_at, discarded
FROM dead_letter_entries WHERE id = $1`
	return scanDeadLetterRow(s.pool.QueryRow(ctx, q, id))
}

func scanDeadLetterRow(row rowScanner) (*domain.DeadLetterEntry, error) {
	var d domain.DeadLetterEntry
	if err := row.Scan(&d.ID, &d.Queue, &d.JobName, &d.Payload, &d.Error, &d.Attempts, &d.CaseID,
		&d.CreatedAt, &d.RetriedAt, &d.Discarded); err != nil {
		return nil, fmt.Errorf("store: scan dead letter: %w", err)
	}
	return &d, nil
}

// ListDeadLetters returns open (not yet discarded) dead-letter entries,
// newest first, the listing enginectl's inspect command surfaces.
func (s *Store) ListDeadLetters(ctx context.Context) ([]*domain.DeadLetterEntry, error) {
	const q = `
SELECT id, queue, job_name, payload, error, attempts, case_id, created_at, retried_at, discarded
FROM dead_letter_entries WHERE NOT discarded ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*domain.DeadLetterEntry
	for rows.Next() {
		d, err := scanDeadLetterRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list dead letters: iterate: %w", err)
	}
	return out, nil
}

// MarkDeadLetterRetried records that an operator re-enqueued a dead-lettered
// job, without removing the historical entry.
func (s *Store) MarkDeadLetterRetried(ctx context.Context, id string) error {
	const q = `UPDATE dead_letter_entries SET retried_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("store: mark dead letter retried %s: %w", id, err)
	}
	return nil
}

// DiscardDeadLetter marks an entry discarded, removing it from the open
// listing without deleting the row.
func (s *Store) DiscardDeadLetter(ctx context.Context, id string) error {
	const q = `UPDATE dead_letter_entries SET discarded = true WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("store: discard dead letter %s: %w", id, err)
	}
	return nil
}
