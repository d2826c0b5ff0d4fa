// Package lock implements the Lock Manager: per-case mutual exclusion
// backed by a Postgres advisory lock plus a Run-table row for
// observability and crash recovery, and a background reaper that reconciles
// Runs whose heartbeat or lease has gone stale.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/runerr"
	"go.uber.org/zap"
)

// RunStore is the slice of internal/store.Store the Lock Manager needs.
type RunStore interface {
	HasActiveRun(ctx context.Context, caseID, excludeRunID string) (bool, error)
	InsertRun(ctx context.Context, r *domain.Run) error
	StartRun(ctx context.Context, id string, now, lockExpiresAt time.Time) error
	Heartbeat(ctx context.Context, id string, now, lockExpiresAt time.Time) error
	CompleteRun(ctx context.Context, id string, nodeTrace []string) error
	FailRun(ctx context.Context, id string, nodeTrace []string, errMsg string) error
	InterruptRun(ctx context.Context, id string, nodeTrace []string, interruptValue map[string]any) error
	TimeoutStaleRuns(ctx context.Context) ([]*domain.Run, error)
}

// AdvisoryLocker is the slice of internal/store.Store's advisory-lock
// primitive the Lock Manager needs, kept as an interface so tests can fake
// it without a live Postgres connection.
type AdvisoryLocker interface {
	AcquireAdvisoryLock(ctx context.Context, name string) (Releasable, error)
}

// Releasable is satisfied by *store.AdvisoryLock.
type Releasable interface {
	Release(ctx context.Context) error
}

// Options configures lease durations: lock TTL, heartbeat interval,
// reaper sweep interval, and the advisory-lock acquisition timeout.
type Options struct {
	LockTTL           time.Duration
	HeartbeatInterval time.Duration
	ReaperInterval    time.Duration
	LockTimeout       time.Duration
}

func (o Options) withDefaults() Options {
	if o.LockTTL == 0 {
		o.LockTTL = 30 * time.Minute
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ReaperInterval == 0 {
		o.ReaperInterval = 60 * time.Second
	}
	if o.LockTimeout == 0 {
		o.LockTimeout = 10 * time.Second
	}
	return o
}

// Manager is the Lock Manager.
type Manager struct {
	runs   RunStore
	locks  AdvisoryLocker
	logger *zap.Logger
	opts   Options
}

// New builds a Manager with the given dependencies.
func New(runs RunStore, locks AdvisoryLocker, logger *zap.Logger, opts Options) *Manager {
	return &Manager{runs: runs, locks: locks, logger: logger.With(zap.String("component", "lock")), opts: opts.withDefaults()}
}

// Outcome is the result of WithCaseLock, distinguishing a skipped
// acquisition (another run is already active for the case) from a body
// that actually ran.
type Outcome struct {
	Skipped    bool
	SkipReason string
	RunID      string
}

// Body is the caller-supplied work to run while the case lock is held. It
// receives the run id so it can checkpoint progress against that Run row.
type Body func(ctx context.Context, runID string) (BodyResult, error)

// BodyResult tells WithCaseLock how to finish the Run row: exactly one of
// Completed/Interrupted should be true after the body returns without error.
type BodyResult struct {
	Completed      bool
	Interrupted    bool
	NodeTrace      []string
	InterruptValue map[string]any
}

// WithCaseLock runs body under the exclusive case lock, in seven steps:
//  1. hash "case:{case_id}" to an advisory lock key (done inside the store)
//  2. acquire the advisory lock, blocking up to opts.LockTimeout
//  3. check has_active_run, excluding excludeRunID; skip if one is already RUNNING
//  4. insert a Run row and compute lock_expires_at
//  5. start a heartbeat ticker
//  6. invoke body; on return stop the ticker, update Run status, release the lock
//  7. on error, record it on the Run, mark FAILED, release the lock
//
// excludeRunID is the id of a WAITING run this call is about to resume, if
// any; it must be excluded from the active-run check since that run's own
// row is still WAITING until this call finishes with it. Pass "" for a
// fresh (non-resume) invocation.
func (m *Manager) WithCaseLock(ctx context.Context, caseID, runID, excludeRunID string, trigger domain.TriggerType, body Body) (Outcome, error) {
	lockCtx, cancel := context.WithTimeout(ctx, m.opts.LockTimeout)
	defer cancel()

	held, err := m.locks.AcquireAdvisoryLock(lockCtx, caseLockName(caseID))
	if err != nil {
		return Outcome{}, runerr.Wrap(runerr.KindLockUnavailable, err, "acquire case lock for %s", caseID)
	}
	defer func() {
		if relErr := held.Release(context.Background()); relErr != nil {
			m.logger.Warn("failed to release case lock", zap.String("case_id", caseID), zap.Error(relErr))
		}
	}()

	active, err := m.runs.HasActiveRun(ctx, caseID, excludeRunID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lock: check active run for %s: %w", caseID, err)
	}
	if active {
		return Outcome{Skipped: true, SkipReason: "active_run"}, nil
	}

	now := time.Now()
	lockExpiresAt := now.Add(m.opts.LockTTL)
	if err := m.runs.InsertRun(ctx, &domain.Run{ID: runID, CaseID: caseID, TriggerType: trigger, Status: domain.RunCreated}); err != nil {
		return Outcome{}, fmt.Errorf("lock: insert run %s: %w", runID, err)
	}
	if err := m.runs.StartRun(ctx, runID, now, lockExpiresAt); err != nil {
		return Outcome{}, fmt.Errorf("lock: start run %s: %w", runID, err)
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go m.heartbeatLoop(heartbeatCtx, runID)

	result, bodyErr := body(ctx, runID)
	stopHeartbeat()

	if bodyErr != nil {
		if failErr := m.runs.FailRun(ctx, runID, result.NodeTrace, bodyErr.Error()); failErr != nil {
			m.logger.Error("failed to mark run failed", zap.String("run_id", runID), zap.Error(failErr))
		}
		return Outcome{RunID: runID}, bodyErr
	}

	switch {
	case result.Interrupted:
		if err := m.runs.InterruptRun(ctx, runID, result.NodeTrace, result.InterruptValue); err != nil {
			return Outcome{RunID: runID}, fmt.Errorf("lock: interrupt run %s: %w", runID, err)
		}
	case result.Completed:
		if err := m.runs.CompleteRun(ctx, runID, result.NodeTrace); err != nil {
			return Outcome{RunID: runID}, fmt.Errorf("lock: complete run %s: %w", runID, err)
		}
	}
	return Outcome{RunID: runID}, nil
}

func (m *Manager) heartbeatLoop(ctx context.Context, runID string) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if err := m.runs.Heartbeat(context.Background(), runID, now, now.Add(m.opts.LockTTL)); err != nil {
				m.logger.Warn("heartbeat failed", zap.String("run_id", runID), zap.Error(err))
			}
		}
	}
}

// RunReaper blocks, sweeping stale RUNNING runs every opts.ReaperInterval
// until ctx is cancelled. It does not touch the advisory lock itself: a
// crashed worker's session ends and Postgres releases that lock on its
// own, so the reaper's only job is reconciling the Run row.
func (m *Manager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(m.opts.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapOnce(ctx)
		}
	}
}

func (m *Manager) reapOnce(ctx context.Context) {
	stale, err := m.runs.TimeoutStaleRuns(ctx)
	if err != nil {
		m.logger.Error("reaper sweep failed", zap.Error(err))
		return
	}
	for _, r := range stale {
		m.logger.Info("reaped stale run", zap.String("run_id", r.ID), zap.String("case_id", r.CaseID))
	}
}

func caseLockName(caseID string) string {
	return "case:" + caseID
}
