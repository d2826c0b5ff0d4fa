package casegraph

import (
	"context"

	"github.com/ShadewG/autobot-engine/internal/collaborator"
	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/schedule"
)

// CaseStore is the slice of internal/store.Store the case graphs need,
// narrowed to an interface so tests run against an in-memory fake rather
// than a live Postgres connection.
type CaseStore interface {
	GetCase(ctx context.Context, id string) (*domain.Case, error)
	UpdateCaseStatus(ctx context.Context, id string, status domain.CaseStatus, reviewState domain.ReviewState, portalURL string) error
	AddConstraint(ctx context.Context, id string, tag domain.Constraint) error

	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	MarkMessageProcessed(ctx context.Context, messageID, runID string) error

	UpsertProposalByKey(ctx context.Context, entry *domain.Proposal) (*domain.Proposal, error)
	GetProposal(ctx context.Context, id string) (*domain.Proposal, error)
	ClaimProposalExecution(ctx context.Context, proposalID, executionKey string) (bool, error)
	MarkProposalExecuted(ctx context.Context, proposalID string) error
	SetProposalStatus(ctx context.Context, proposalID string, status domain.ProposalStatus) error
	SupersedePendingProposal(ctx context.Context, caseID string, actionType domain.ActionType) error
	RecordDecision(ctx context.Context, proposalID string, decision domain.HumanDecision, note string) error

	InsertExecution(ctx context.Context, e *domain.Execution) error
	GetExecutionByKey(ctx context.Context, executionKey string) (*domain.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id string, status domain.ExecutionStatus, providerRef string) error

	AcquireFollowupSlot(ctx context.Context, f *domain.FollowUpSchedule) (bool, error)
}

// Services bundles every dependency a case-graph node needs. Nodes close
// over a *Services value at graph-construction time (internal/graph's Node
// interface takes only (ctx, state), so collaborators are injected here
// rather than threaded through State).
type Services struct {
	Store      CaseStore
	Classifier collaborator.Classifier
	Drafter    collaborator.Drafter
	Email      collaborator.EmailExecutor
	Portal     collaborator.PortalExecutor
	Notifier   collaborator.Notifier

	// IDGenerator produces ids for newly created aggregates (proposals,
	// executions, follow-up schedules). Tests inject a deterministic
	// sequence; production wires a ULID/UUID generator.
	IDGenerator func() string

	// Schedule computes follow-up due dates. The zero value uses
	// schedule.DefaultInterval.
	Schedule schedule.Policy
}
