package store

import (
	"context"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/domain"
)

// AcquireFollowupSlot is the Persistent Store's atomic dedup primitive: an
// insert that fails silently (returns false, not an error) if a follow-up
// with the same scheduled_key already exists, so a scheduler that
// double-fires for the same case/attempt/day never produces two pending
// follow-ups.
func (s *Store) AcquireFollowupSlot(ctx context.Context, f *domain.FollowUpSchedule) (bool, error) {
	const q = `
INSERT INTO followup_schedules (id, case_id, due_at, attempt, scheduled_key)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (scheduled_key) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q, f.ID, f.CaseID, f.DueAt, f.Attempt, f.ScheduledKey)
	if err != nil {
		return false, fmt.Errorf("store: acquire followup slot %s: %w", f.ScheduledKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetFollowup loads a follow-up schedule by id.
func (s *Store) GetFollowup(ctx context.Context, id string) (*domain.FollowUpSchedule, error) {
	const q = `
SELECT id, case_id, due_at, attempt, paused, completed, scheduled_key, created_at, updated_at
FROM followup_schedules WHERE id = $1`
	return scanFollowupRow(s.pool.QueryRow(ctx, q, id))
}

func scanFollowupRow(row rowScanner) (*domain.FollowUpSchedule, error) {
	var f domain.FollowUpSchedule
	if err := row.Scan(&f.ID, &f.CaseID, &f.DueAt, &f.Attempt, &f.Paused, &f.Completed, &f.ScheduledKey, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: scan followup: %w", err)
	}
	return &f, nil
}

// DueFollowups returns every follow-up schedule that is due, not paused and
// not completed, the query the scheduler polls before feeding the Job
// Queue.
func (s *Store) DueFollowups(ctx context.Context) ([]*domain.FollowUpSchedule, error) {
	const q = `
SELECT id, case_id, due_at, attempt, paused, completed, scheduled_key, created_at, updated_at
FROM followup_schedules
WHERE due_at <= now() AND NOT paused AND NOT completed
ORDER BY due_at`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: due followups: %w", err)
	}
	defer rows.Close()

	var out []*domain.FollowUpSchedule
	for rows.Next() {
		f, err := scanFollowupRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: due followups: iterate: %w", err)
	}
	return out, nil
}

// CompleteFollowup marks a follow-up schedule completed once its triggered
// run has been dispatched.
func (s *Store) CompleteFollowup(ctx context.Context, id string) error {
	const q = `UPDATE followup_schedules SET completed = true, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("store: complete followup %s: %w", id, err)
	}
	return nil
}

// PauseFollowupsForCase pauses every outstanding follow-up for a case. No
// package in this module calls it.
func (s *Store) PauseFollowupsForCase(ctx context.Context, caseID string) error {
	const q = `UPDATE followup_schedules SET paused = true, updated_at = now() WHERE case_id = $1 AND NOT completed`
	_, err := s.pool.Exec(ctx, q, caseID)
	if err != nil {
		return fmt.Errorf("store: pause followups for %s: %w", caseID, err)
	}
	return nil
}
