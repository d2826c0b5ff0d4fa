package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/runerr"
	"github.com/jackc/pgx/v5"
)

// UpsertProposalByKey is the Persistent Store's atomic dedup primitive: if
// a proposal with entry.ProposalKey exists and is non-terminal, its draft/reasoning
// fields are updated and the existing row is returned; if terminal, the
// existing row is returned unchanged; otherwise a new row is inserted.
// Either way this never creates a second row for the same key. The whole
// read-modify-write runs inside one transaction with a row lock so two
// concurrent callers racing on the same key serialize rather than double
// insert.
func (s *Store) UpsertProposalByKey(ctx context.Context, entry *domain.Proposal) (*domain.Proposal, error) {
	reasoning, err := json.Marshal(entry.Reasoning)
	if err != nil {
		return nil, fmt.Errorf("store: marshal reasoning: %w", err)
	}
	riskFlags, err := json.Marshal(entry.RiskFlags)
	if err != nil {
		return nil, fmt.Errorf("store: marshal risk flags: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: upsert proposal %s: begin: %w", entry.ProposalKey, err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanProposalRow(tx.QueryRow(ctx, `SELECT * FROM proposals WHERE proposal_key = $1 FOR UPDATE`, entry.ProposalKey))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		const insert = `
INSERT INTO proposals (id, case_id, message_id, proposal_key, action_type, attempt,
	draft_subject_ref, draft_body_ref, reasoning, risk_flags, confidence, status, pause_reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING *`
		created, scanErr := scanProposalRow(tx.QueryRow(ctx, insert,
			entry.ID, entry.CaseID, entry.MessageID, entry.ProposalKey, entry.ActionType, entry.Attempt,
			entry.DraftSubjectRef, entry.DraftBodyRef, reasoning, riskFlags, entry.Confidence, entry.Status, entry.PauseReason))
		if scanErr != nil {
			return nil, fmt.Errorf("store: upsert proposal %s: insert: %w", entry.ProposalKey, scanErr)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("store: upsert proposal %s: commit: %w", entry.ProposalKey, err)
		}
		return created, nil
	case err != nil:
		return nil, fmt.Errorf("store: upsert proposal %s: lookup: %w", entry.ProposalKey, err)
	}

	if existing.Status.IsTerminal() {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("store: upsert proposal %s: commit: %w", entry.ProposalKey, err)
		}
		return existing, nil
	}

	const update = `
UPDATE proposals SET draft_subject_ref = $2, draft_body_ref = $3, reasoning = $4, risk_flags = $5,
	confidence = $6, updated_at = now()
WHERE id = $1
RETURNING *`
	updated, err := scanProposalRow(tx.QueryRow(ctx, update, existing.ID, entry.DraftSubjectRef, entry.DraftBodyRef, reasoning, riskFlags, entry.Confidence))
	if err != nil {
		return nil, fmt.Errorf("store: upsert proposal %s: update: %w", entry.ProposalKey, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: upsert proposal %s: commit: %w", entry.ProposalKey, err)
	}
	return updated, nil
}

func scanProposalRow(row rowScanner) (*domain.Proposal, error) {
	var p domain.Proposal
	var reasoning, riskFlags []byte
	var executionKey *string
	if err := row.Scan(&p.ID, &p.CaseID, &p.MessageID, &p.ProposalKey, &p.ActionType, &p.Attempt,
		&p.DraftSubjectRef, &p.DraftBodyRef, &reasoning, &riskFlags, &p.Confidence, &p.Status, &p.PauseReason,
		&executionKey, &p.ExecutedAt, &p.Decision, &p.DecisionNote, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: scan proposal: %w", err)
	}
	if executionKey != nil {
		p.ExecutionKey = *executionKey
	}
	if err := json.Unmarshal(reasoning, &p.Reasoning); err != nil {
		return nil, fmt.Errorf("store: decode reasoning: %w", err)
	}
	if err := json.Unmarshal(riskFlags, &p.RiskFlags); err != nil {
		return nil, fmt.Errorf("store: decode risk flags: %w", err)
	}
	return &p, nil
}

// rowScanner is satisfied by pgx.Row; named here so scanProposalRow can be
// exercised by both QueryRow call sites in this file.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetProposal loads a proposal by id.
func (s *Store) GetProposal(ctx context.Context, id string) (*domain.Proposal, error) {
	const q = `SELECT * FROM proposals WHERE id = $1`
	return scanProposalRow(s.pool.QueryRow(ctx, q, id))
}

// ClaimProposalExecution is the Persistent Store's atomic dispatch-claim
// primitive: succeeds iff the proposal's status is DECISION_RECEIVED (a
// human just approved it) or APPROVED (an auto-executed proposal, which is
// created in that status directly) and its execution_key is null; then
// sets execution_key and advances status to APPROVED. Never blocks. This
// is the single enforcement point for exactly-once dispatch, guarding
// against a doubled approval click re-triggering the same send.
func (s *Store) ClaimProposalExecution(ctx context.Context, proposalID, executionKey string) (bool, error) {
	const q = `
UPDATE proposals SET execution_key = $2, status = 'APPROVED', updated_at = now()
WHERE id = $1
  AND status IN ('DECISION_RECEIVED', 'APPROVED')
  AND execution_key IS NULL`
	tag, err := s.pool.Exec(ctx, q, proposalID, executionKey)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: claim proposal execution %s: %w", proposalID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProposalExecuted transitions a claimed proposal to EXECUTED once its
// side effect is confirmed dispatched.
func (s *Store) MarkProposalExecuted(ctx context.Context, proposalID string) error {
	const q = `UPDATE proposals SET status = 'EXECUTED', executed_at = now(), updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, proposalID)
	if err != nil {
		return fmt.Errorf("store: mark proposal executed %s: %w", proposalID, err)
	}
	return nil
}

// SetProposalStatus performs a plain status transition (e.g. DRAFT ->
// PENDING_APPROVAL, PENDING_APPROVAL -> SUPERSEDED). Callers must ensure
// the transition is valid; this method does not itself enforce the
// terminal-status invariant (ClaimProposalExecution and the resume path
// do, by checking current status before writing).
func (s *Store) SetProposalStatus(ctx context.Context, proposalID string, status domain.ProposalStatus) error {
	const q = `UPDATE proposals SET status = $2, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, proposalID, status)
	if err != nil {
		return fmt.Errorf("store: set proposal status %s: %w", proposalID, err)
	}
	return nil
}

// RecordDecision writes a human decision onto a PENDING_APPROVAL proposal,
// transitioning it to DECISION_RECEIVED.
func (s *Store) RecordDecision(ctx context.Context, proposalID string, decision domain.HumanDecision, note string) error {
	const q = `
UPDATE proposals SET status = 'DECISION_RECEIVED', decision = $2, decision_note = $3, updated_at = now()
WHERE id = $1 AND status = 'PENDING_APPROVAL'`
	tag, err := s.pool.Exec(ctx, q, proposalID, decision, note)
	if err != nil {
		return fmt.Errorf("store: record decision %s: %w", proposalID, err)
	}
	if tag.RowsAffected() == 0 {
		return runerr.New(runerr.KindProposalTerminal, "proposal %s is not awaiting a decision", proposalID)
	}
	return nil
}

// SupersedePendingProposal transitions any still-PENDING_APPROVAL
// proposal for (caseID, actionType) to SUPERSEDED: a stale gated proposal
// is retired before a fresher one is written for the same case.
func (s *Store) SupersedePendingProposal(ctx context.Context, caseID string, actionType domain.ActionType) error {
	const q = `
UPDATE proposals SET status = 'SUPERSEDED', updated_at = now()
WHERE case_id = $1 AND action_type = $2 AND status = 'PENDING_APPROVAL'`
	_, err := s.pool.Exec(ctx, q, caseID, actionType)
	if err != nil {
		return fmt.Errorf("store: supersede pending proposal for %s/%s: %w", caseID, actionType, err)
	}
	return nil
}
