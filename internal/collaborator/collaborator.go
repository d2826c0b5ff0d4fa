// Package collaborator declares the six external contracts the engine
// delegates to: classifier, drafter, email executor, portal-task
// executor, notifier, and the human-decision sink. The engine calls
// through these interfaces only; nothing in this package talks to an LLM
// provider or an email API directly — authoring reasoning prompts and
// transport integrations is out of scope here.
package collaborator

import (
	"context"
	"time"

	"github.com/ShadewG/autobot-engine/internal/domain"
)

// ClassificationSchemaVersion is the schema tag the engine requires on
// every classifier/drafter response. An output missing or mismatching this
// tag is rejected, surfaced as runerr.KindSchemaMismatch.
const ClassificationSchemaVersion = "v1"

// ClassifyInput is the structured context handed to the classifier.
type ClassifyInput struct {
	Case       domain.Case
	MessageRef string
	Constraints []domain.Constraint
}

// ClassifyOutput is the classifier's structured verdict.
type ClassifyOutput struct {
	SchemaVersion    string
	NewConstraints   []domain.Constraint
	FeeQuote         *domain.FeeQuote
	DenialDetected   bool
	DenialStrength   string // decide_next_action treats only "weak" as auto-rebuttable
	ScopeNarrowing   bool
	RequiresID       bool
	PortalRedirect   string
	Summary          string
}

// Classifier extracts structured signal from an inbound message.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (ClassifyOutput, error)
}

// DraftInput is the structured context handed to the drafter.
type DraftInput struct {
	Case       domain.Case
	ActionType domain.ActionType
	Reasoning  []string
}

// DraftOutput is the drafter's structured candidate message.
type DraftOutput struct {
	SchemaVersion string
	SubjectRef    string
	BodyRef       string
	Confidence    float64
	RiskFlags     []string
}

// Drafter authors a candidate outbound message for a proposal.
type Drafter interface {
	Draft(ctx context.Context, in DraftInput) (DraftOutput, error)
}

// EmailRequest is what the engine sends the email executor. Must
// deduplicate on ExecutionKey and support DryRun.
type EmailRequest struct {
	ExecutionKey string
	ProposalID   string
	Recipient    string
	Subject      string
	Body         string
	DryRun       bool
}

// EmailResult is the email executor's response.
type EmailResult struct {
	ProviderRef string
	Sent        bool
}

// EmailExecutor dispatches an email-based action.
type EmailExecutor interface {
	SendEmail(ctx context.Context, req EmailRequest) (EmailResult, error)
}

// PortalTaskStatus mirrors the portal executor's four-state contract.
type PortalTaskStatus string

const (
	PortalPending    PortalTaskStatus = "PENDING"
	PortalInProgress PortalTaskStatus = "IN_PROGRESS"
	PortalDone       PortalTaskStatus = "DONE"
	PortalFailed     PortalTaskStatus = "FAILED"
)

// PortalTaskRequest is what the engine sends the portal-task executor.
type PortalTaskRequest struct {
	CaseID    string
	PortalURL string
	Attempt   int
}

// PortalTaskResult is the portal executor's response.
type PortalTaskResult struct {
	Status      PortalTaskStatus
	ProviderRef string
}

// PortalExecutor submits a request through an agency's online portal.
type PortalExecutor interface {
	SubmitPortalTask(ctx context.Context, req PortalTaskRequest) (PortalTaskResult, error)
}

// NotificationEvent is the closed set of events the engine can emit.
type NotificationEvent string

const (
	EventCaseNeedsReview NotificationEvent = "case_needs_review"
	EventJobMovedToDLQ   NotificationEvent = "job_moved_to_dlq"
	EventRunFailed       NotificationEvent = "run_failed"
)

// Notification is a structured event the engine emits to the notifier.
type Notification struct {
	Event     NotificationEvent
	CaseID    string
	RunID     string
	Queue     string
	JobName   string
	Message   string
	Timestamp time.Time
}

// Notifier receives engine events. Notifier failures are treated as
// non-fatal, so callers must not let a Notify error abort the run that
// triggered it (internal/runengine logs and continues on error here).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// DecisionInput is what the human-decision sink receives from the
// authenticated UI operation that records a human's approve/adjust/
// dismiss/withdraw call on a pending proposal.
type DecisionInput struct {
	ProposalID string
	Decision   domain.HumanDecision
	Note       string
}

// DecisionSink records a human decision. internal/runengine's resume-run
// job is triggered by this write, not the other way around; the sink only
// persists the decision and returns no run reference of its own.
type DecisionSink interface {
	RecordDecision(ctx context.Context, in DecisionInput) error
}
