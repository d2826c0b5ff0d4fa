package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/domain"
)

// InsertCase creates a new case row.
func (s *Store) InsertCase(ctx context.Context, c *domain.Case) error {
	constraints, err := json.Marshal(c.Constraints)
	if err != nil {
		return fmt.Errorf("store: marshal constraints: %w", err)
	}
	scope, err := json.Marshal(c.ScopeItems)
	if err != nil {
		return fmt.Errorf("store: marshal scope items: %w", err)
	}
	var feeQuote []byte
	if c.FeeQuote != nil {
		if feeQuote, err = json.Marshal(c.FeeQuote); err != nil {
			return fmt.Errorf("store: marshal fee quote: %w", err)
		}
	}

	const q = `
INSERT INTO cases (id, agency, jurisdiction, request_text, status, review_state,
	autopilot_mode, constraints, scope_items, fee_quote, portal_url, requested_at, response_due_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = s.pool.Exec(ctx, q, c.ID, c.Agency, c.Jurisdiction, c.RequestText, c.Status,
		c.ReviewState, c.AutopilotMode, constraints, scope, feeQuote, c.PortalURL, c.RequestedAt, c.ResponseDueAt)
	if err != nil {
		return fmt.Errorf("store: insert case %s: %w", c.ID, err)
	}
	return nil
}

// GetCase loads a case by id.
func (s *Store) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	const q = `
SELECT id, agency, jurisdiction, request_text, status, review_state, autopilot_mode,
	constraints, scope_items, fee_quote, portal_url, requested_at, response_due_at, created_at, updated_at
FROM cases WHERE id = $1`
	row := s.pool.QueryRow(ctx, q, id)

	var c domain.Case
	var constraints, scope, feeQuote []byte
	if err := row.Scan(&c.ID, &c.Agency, &c.Jurisdiction, &c.RequestText, &c.Status, &c.ReviewState,
		&c.AutopilotMode, &constraints, &scope, &feeQuote, &c.PortalURL, &c.RequestedAt, &c.ResponseDueAt,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: get case %s: %w", id, err)
	}
	if err := json.Unmarshal(constraints, &c.Constraints); err != nil {
		return nil, fmt.Errorf("store: decode constraints for %s: %w", id, err)
	}
	if err := json.Unmarshal(scope, &c.ScopeItems); err != nil {
		return nil, fmt.Errorf("store: decode scope items for %s: %w", id, err)
	}
	if len(feeQuote) > 0 {
		c.FeeQuote = &domain.FeeQuote{}
		if err := json.Unmarshal(feeQuote, c.FeeQuote); err != nil {
			return nil, fmt.Errorf("store: decode fee quote for %s: %w", id, err)
		}
	}
	return &c, nil
}

// UpdateCaseStatus updates status, review state and portal url in one
// write, the set of fields the case graphs mutate.
func (s *Store) UpdateCaseStatus(ctx context.Context, id string, status domain.CaseStatus, reviewState domain.ReviewState, portalURL string) error {
	const q = `
UPDATE cases SET status = $2, review_state = $3, portal_url = COALESCE(NULLIF($4, ''), portal_url), updated_at = now()
WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, status, reviewState, portalURL)
	if err != nil {
		return fmt.Errorf("store: update case status %s: %w", id, err)
	}
	return nil
}

// AddConstraint appends tag to the case's constraint list if not already
// present, mirroring domain.Case.HasConstraint's dedup semantics.
func (s *Store) AddConstraint(ctx context.Context, id string, tag domain.Constraint) error {
	const q = `
UPDATE cases SET constraints = (
	SELECT CASE WHEN constraints @> to_jsonb($2::text)
		THEN constraints
		ELSE constraints || to_jsonb($2::text)
	END
), updated_at = now()
WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, string(tag))
	if err != nil {
		return fmt.Errorf("store: add constraint %s to %s: %w", tag, id, err)
	}
	return nil
}
