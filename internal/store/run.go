package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/jackc/pgx/v5"
)

// InsertRun creates a new run row, typically in CREATED or QUEUED status.
// ThreadID defaults to the run's own id when the caller leaves it unset,
// since each run gets its own checkpoint thread (a resumed run recovers
// this id through LatestWaitingRun, not by assuming thread_id == case_id).
func (s *Store) InsertRun(ctx context.Context, r *domain.Run) error {
	threadID := r.ThreadID
	if threadID == "" {
		threadID = r.ID
	}
	const q = `
INSERT INTO runs (id, case_id, trigger_type, message_id, followup_schedule_id, proposal_id, status, thread_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, q, r.ID, r.CaseID, r.TriggerType, r.MessageID, r.FollowupScheduleID, r.ProposalID, r.Status, threadID)
	if err != nil {
		return fmt.Errorf("store: insert run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	const q = `
SELECT id, case_id, trigger_type, message_id, followup_schedule_id, proposal_id, status, thread_id,
	node_trace, interrupt_value, skip_reason, error_message, started_at, ended_at, heartbeat_at,
	lock_expires_at, recovery_attempted, created_at, updated_at
FROM runs WHERE id = $1`
	return scanRunRow(s.pool.QueryRow(ctx, q, id))
}

func scanRunRow(row rowScanner) (*domain.Run, error) {
	var r domain.Run
	var nodeTrace, interruptValue []byte
	if err := row.Scan(&r.ID, &r.CaseID, &r.TriggerType, &r.MessageID, &r.FollowupScheduleID, &r.ProposalID,
		&r.Status, &r.ThreadID, &nodeTrace, &interruptValue, &r.SkipReason, &r.ErrorMessage, &r.StartedAt,
		&r.EndedAt, &r.HeartbeatAt, &r.LockExpiresAt, &r.RecoveryAttempted, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: scan run: %w", err)
	}
	if len(nodeTrace) > 0 {
		if err := json.Unmarshal(nodeTrace, &r.NodeTrace); err != nil {
			return nil, fmt.Errorf("store: decode node trace: %w", err)
		}
	}
	if len(interruptValue) > 0 {
		if err := json.Unmarshal(interruptValue, &r.InterruptValue); err != nil {
			return nil, fmt.Errorf("store: decode interrupt value: %w", err)
		}
	}
	return &r, nil
}

// StartRun transitions a run to RUNNING and records the lock this worker
// holds, mirroring the lease the Lock Manager's with_case_lock acquires.
func (s *Store) StartRun(ctx context.Context, id string, now, lockExpiresAt time.Time) error {
	const q = `
UPDATE runs SET status = 'RUNNING', started_at = $2, heartbeat_at = $2, lock_expires_at = $3, updated_at = now()
WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, now, lockExpiresAt)
	if err != nil {
		return fmt.Errorf("store: start run %s: %w", id, err)
	}
	return nil
}

// Heartbeat extends a running run's lock, the periodic renewal
// with_case_lock performs while the case graph executes.
func (s *Store) Heartbeat(ctx context.Context, id string, now, lockExpiresAt time.Time) error {
	const q = `UPDATE runs SET heartbeat_at = $2, lock_expires_at = $3, updated_at = now() WHERE id = $1 AND status = 'RUNNING'`
	_, err := s.pool.Exec(ctx, q, id, now, lockExpiresAt)
	if err != nil {
		return fmt.Errorf("store: heartbeat run %s: %w", id, err)
	}
	return nil
}

// CompleteRun marks a run COMPLETED, clearing its lock.
func (s *Store) CompleteRun(ctx context.Context, id string, nodeTrace []string) error {
	return s.finishRun(ctx, id, domain.RunCompleted, nodeTrace, "", "")
}

// FailRun marks a run FAILED with the given error message.
func (s *Store) FailRun(ctx context.Context, id string, nodeTrace []string, errMsg string) error {
	return s.finishRun(ctx, id, domain.RunFailed, nodeTrace, "", errMsg)
}

// SkipRun marks a run SKIPPED with the given reason, used whenever a job's
// precondition check finds nothing to do (another active run, an already
// processed message, an inactive follow-up, a busy case lock, or no
// WAITING run to resume).
func (s *Store) SkipRun(ctx context.Context, id string, reason string) error {
	return s.finishRun(ctx, id, domain.RunSkipped, nil, reason, "")
}

// LinkRunProposal stamps the proposal a run produced or resumed, the
// bookkeeping that links the Run to its pending Proposal and any
// subsequent status advancements both depend on.
func (s *Store) LinkRunProposal(ctx context.Context, runID, proposalID string) error {
	const q = `UPDATE runs SET proposal_id = $2, updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, runID, proposalID); err != nil {
		return fmt.Errorf("store: link run %s to proposal %s: %w", runID, proposalID, err)
	}
	return nil
}

// InterruptRun marks a run WAITING with the interrupt payload the graph
// engine returned, clearing its lock since no worker owns it while paused.
func (s *Store) InterruptRun(ctx context.Context, id string, nodeTrace []string, interruptValue map[string]any) error {
	const q = `
UPDATE runs SET status = 'WAITING', node_trace = $2, interrupt_value = $3,
	lock_expires_at = NULL, updated_at = now()
WHERE id = $1`
	trace, err := json.Marshal(nodeTrace)
	if err != nil {
		return fmt.Errorf("store: marshal node trace: %w", err)
	}
	iv, err := json.Marshal(interruptValue)
	if err != nil {
		return fmt.Errorf("store: marshal interrupt value: %w", err)
	}
	if _, err := s.pool.Exec(ctx, q, id, trace, iv); err != nil {
		return fmt.Errorf("store: interrupt run %s: %w", id, err)
	}
	return nil
}

func (s *Store) finishRun(ctx context.Context, id string, status domain.RunStatus, nodeTrace []string, skipReason, errMsg string) error {
	trace, err := json.Marshal(nodeTrace)
	if err != nil {
		return fmt.Errorf("store: marshal node trace: %w", err)
	}
	const q = `
UPDATE runs SET status = $2, node_trace = $3, skip_reason = $4, error_message = $5,
	ended_at = now(), lock_expires_at = NULL, updated_at = now()
WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, status, trace, skipReason, errMsg); err != nil {
		return fmt.Errorf("store: finish run %s: %w", id, err)
	}
	return nil
}

// TimeoutStaleRuns transitions every RUNNING run whose lock has expired to
// TIMED_OUT and marks it recovery_attempted, the reaper's sweep. It
// returns the transitioned runs so the caller can re-queue a RESUME job
// for each case.
func (s *Store) TimeoutStaleRuns(ctx context.Context) ([]*domain.Run, error) {
	const q = `
UPDATE runs SET status = 'TIMED_OUT', recovery_attempted = true, ended_at = now(), updated_at = now()
WHERE status = 'RUNNING' AND lock_expires_at < now()
RETURNING id, case_id, trigger_type, message_id, followup_schedule_id, proposal_id, status, thread_id,
	node_trace, interrupt_value, skip_reason, error_message, started_at, ended_at, heartbeat_at,
	lock_expires_at, recovery_attempted, created_at, updated_at`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: timeout stale runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: timeout stale runs: iterate: %w", err)
	}
	return runs, nil
}

// HasActiveRun reports whether a case already has a RUNNING or WAITING run
// other than excludeRunID, the check with_case_lock makes before creating
// a new one. excludeRunID lets a resume_run job exclude the very WAITING
// run it is about to resume, which would otherwise always read back as
// still active; pass "" when there is no such run to exclude.
func (s *Store) HasActiveRun(ctx context.Context, caseID, excludeRunID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM runs WHERE case_id = $1 AND status IN ('RUNNING', 'WAITING') AND id != $2)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, caseID, excludeRunID).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: has active run %s: %w", caseID, err)
	}
	return exists, nil
}

// LatestWaitingRun returns the most recent WAITING run for a case, if any,
// used by the resume path to recover the thread id to resume against.
func (s *Store) LatestWaitingRun(ctx context.Context, caseID string) (*domain.Run, error) {
	const q = `
SELECT id, case_id, trigger_type, message_id, followup_schedule_id, proposal_id, status, thread_id,
	node_trace, interrupt_value, skip_reason, error_message, started_at, ended_at, heartbeat_at,
	lock_expires_at, recovery_attempted, created_at, updated_at
FROM runs WHERE case_id = $1 AND status = 'WAITING' ORDER BY created_at DESC LIMIT 1`
	r, err := scanRunRow(s.pool.QueryRow(ctx, q, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}
