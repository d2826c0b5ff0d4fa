// Package casegraph builds the two case graphs (Initial-Request and
// Inbound-Response) on top of internal/graph's generic Engine, sharing
// one State type and most of their nodes.
package casegraph

import (
	"time"

	"github.com/ShadewG/autobot-engine/internal/domain"
)

// State is the strongly-typed record both case graphs thread through
// their nodes. Field reducers: overwrite_if_set is the default,
// append_if_new accumulates log-like fields, preserve_unless_explicit
// guards fields a hard safety rule may set but a later node must not
// silently clear.
type State struct {
	CaseID    string      `graph:"overwrite_if_set"`
	Case      domain.Case `graph:"overwrite_if_set"`
	MessageID string      `graph:"overwrite_if_set"`
	Message   domain.Message `graph:"overwrite_if_set"`

	// FollowupAttempt is nonzero when this invocation of the
	// Initial-Request graph was triggered by a scheduled follow-up rather
	// than the case's opening request; draft_initial_request uses it to
	// pick SEND_FOLLOWUP over SEND_INITIAL_REQUEST and schedule_followups
	// uses it to number the next slot.
	FollowupAttempt int `graph:"overwrite_if_set"`

	// classify_inbound output.
	Classification           string     `graph:"overwrite_if_set"`
	ClassificationConfidence float64    `graph:"overwrite_if_set"`
	Sentiment                string     `graph:"overwrite_if_set"`
	ExtractedFeeAmountCents  int64      `graph:"overwrite_if_set"`
	ExtractedDeadline        *time.Time `graph:"overwrite_if_set"`
	RequiresResponse         bool       `graph:"preserve_unless_explicit"`
	PortalURL                string     `graph:"overwrite_if_set"`
	SuggestedAction          string     `graph:"overwrite_if_set"`
	ReasonNoResponse         string     `graph:"overwrite_if_set"`
	DenialStrength           string     `graph:"overwrite_if_set"`

	// update_constraints output.
	NewConstraints []domain.Constraint `graph:"append_if_new"`
	ScopeItems     []domain.ScopeItem  `graph:"append_if_new"`

	// decide_next_action output.
	ActionType     domain.ActionType  `graph:"overwrite_if_set"`
	Reasoning      []string           `graph:"append_if_new"`
	CanAutoExecute bool               `graph:"preserve_unless_explicit"`
	RequiresHuman  bool               `graph:"preserve_unless_explicit"`
	PauseReason    domain.PauseReason `graph:"overwrite_if_set"`

	// draft_response / draft_initial_request output.
	DraftSubjectRef string   `graph:"overwrite_if_set"`
	DraftBodyRef    string   `graph:"overwrite_if_set"`
	DraftConfidence float64  `graph:"overwrite_if_set"`
	RiskFlags       []string `graph:"append_if_new"`

	// gate_or_execute / execute_action bookkeeping.
	ProposalID                string `graph:"overwrite_if_set"`
	ProposalKey               string `graph:"overwrite_if_set"`
	ProposalAttempt           int    `graph:"overwrite_if_set"`
	ExecutionKey              string `graph:"overwrite_if_set"`
	SkippedDuplicateExecution bool   `graph:"overwrite_if_set"`
	ExecutionProviderRef      string `graph:"overwrite_if_set"`

	// commit_state bookkeeping.
	PortalRequired bool `graph:"preserve_unless_explicit"`
}
