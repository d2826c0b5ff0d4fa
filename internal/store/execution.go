package store

import (
	"context"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/runerr"
)

// InsertExecution records a side effect dispatch. execution_key is unique,
// so a retried dispatch with the same key surfaces as
// runerr.KindDuplicateKey via isUniqueViolation rather than a second row.
func (s *Store) InsertExecution(ctx context.Context, e *domain.Execution) error {
	const q = `
INSERT INTO executions (id, proposal_id, execution_key, status, provider_ref)
VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, q, e.ID, e.ProposalID, e.ExecutionKey, e.Status, e.ProviderRef)
	if err != nil {
		if isUniqueViolation(err) {
			return runerr.Wrap(runerr.KindDuplicateKey, err, "execution with key %s already exists", e.ExecutionKey)
		}
		return fmt.Errorf("store: insert execution %s: %w", e.ExecutionKey, err)
	}
	return nil
}

// GetExecutionByKey loads an execution by its deterministic key, the lookup
// the run engine uses to check whether a dispatch already happened before
// retrying, the exactly-once-dispatch property.
func (s *Store) GetExecutionByKey(ctx context.Context, executionKey string) (*domain.Execution, error) {
	const q = `SELECT id, proposal_id, execution_key, status, provider_ref, created_at, updated_at FROM executions WHERE execution_key = $1`
	row := s.pool.QueryRow(ctx, q, executionKey)
	var e domain.Execution
	if err := row.Scan(&e.ID, &e.ProposalID, &e.ExecutionKey, &e.Status, &e.ProviderRef, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: get execution %s: %w", executionKey, err)
	}
	return &e, nil
}

// UpdateExecutionStatus records the outcome of a dispatch attempt.
func (s *Store) UpdateExecutionStatus(ctx context.Context, id string, status domain.ExecutionStatus, providerRef string) error {
	const q = `
UPDATE executions SET status = $2, provider_ref = COALESCE(NULLIF($3, ''), provider_ref), updated_at = now()
WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, status, providerRef)
	if err != nil {
		return fmt.Errorf("store: update execution status %s: %w", id, err)
	}
	return nil
}
