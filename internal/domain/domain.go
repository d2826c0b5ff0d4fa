// Package domain defines the core entities of the Agent Run Engine: the
// aggregates the rest of the system reads and mutates, and the closed
// enumerations that constrain their state transitions.
package domain

import (
	"strconv"
	"time"
)

// AutopilotMode is the per-case policy controlling whether low-risk actions
// bypass human gates.
type AutopilotMode string

const (
	AutopilotAuto       AutopilotMode = "AUTO"
	AutopilotSupervised AutopilotMode = "SUPERVISED"
	AutopilotManual     AutopilotMode = "MANUAL"
)

// ReviewState is the UI-visible projection derived deterministically from
// case and run state.
type ReviewState string

const (
	ReviewIdle               ReviewState = "IDLE"
	ReviewWaitingAgency      ReviewState = "WAITING_AGENCY"
	ReviewProcessing         ReviewState = "PROCESSING"
	ReviewDecisionRequired   ReviewState = "DECISION_REQUIRED"
	ReviewDecisionApplying   ReviewState = "DECISION_APPLYING"
)

// CaseStatus tracks the case's coarse lifecycle outside of Run/Proposal
// bookkeeping (e.g. "portal_required" set by the portal-redirect scenario).
type CaseStatus string

const (
	CaseStatusOpen           CaseStatus = "open"
	CaseStatusPortalRequired CaseStatus = "portal_required"
	CaseStatusClosed         CaseStatus = "closed"
	CaseStatusWithdrawn      CaseStatus = "withdrawn"
)

// Constraint is one of the closed set of tags a case accumulates as evidence
// comes in (FEE_REQUIRED, ID_REQUIRED, ...).
type Constraint string

const (
	ConstraintFeeRequired         Constraint = "FEE_REQUIRED"
	ConstraintIDRequired         Constraint = "ID_REQUIRED"
	ConstraintDenialReceived      Constraint = "DENIAL_RECEIVED"
	ConstraintBWCExempt           Constraint = "BWC_EXEMPT"
	ConstraintInvestigationActive Constraint = "INVESTIGATION_ACTIVE"
)

// ScopeItem is one line item of a records request's scope.
type ScopeItem struct {
	Description string
	Satisfied   bool
}

// FeeQuote is the agency's quoted fee for fulfilling a request, if any.
type FeeQuote struct {
	AmountCents int64
	QuotedAt    time.Time
}

// Case is the aggregate for one public-records request.
type Case struct {
	ID             string
	Agency         string
	Jurisdiction   string
	RequestText    string
	Status         CaseStatus
	ReviewState    ReviewState
	AutopilotMode  AutopilotMode
	Constraints    []Constraint
	ScopeItems     []ScopeItem
	FeeQuote       *FeeQuote
	PortalURL      string
	RequestedAt    time.Time
	ResponseDueAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasConstraint reports whether the case already carries the given tag.
func (c *Case) HasConstraint(tag Constraint) bool {
	for _, existing := range c.Constraints {
		if existing == tag {
			return true
		}
	}
	return false
}

// MessageDirection is the direction of correspondence.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Message is a unit of inbound or outbound correspondence. The body itself
// lives with the collaborator that owns it; only a reference is stored
// here.
type Message struct {
	ID                string
	CaseID            string
	Direction         MessageDirection
	ProviderMessageID string
	Subject           string
	BodyRef           string
	Timestamp         time.Time
	ProcessedAt       *time.Time
	ProcessedRunID    string
}

// ActionType is the closed enum of candidate actions a Proposal may carry.
type ActionType string

const (
	ActionSendInitialRequest ActionType = "SEND_INITIAL_REQUEST"
	ActionSendFollowup       ActionType = "SEND_FOLLOWUP"
	ActionSendRebuttal       ActionType = "SEND_REBUTTAL"
	ActionSendClarification  ActionType = "SEND_CLARIFICATION"
	ActionAcceptFee          ActionType = "ACCEPT_FEE"
	ActionNegotiateFee       ActionType = "NEGOTIATE_FEE"
	ActionDeclineFee         ActionType = "DECLINE_FEE"
	ActionSubmitPortal       ActionType = "SUBMIT_PORTAL"
	ActionEscalate           ActionType = "ESCALATE"
	ActionNone               ActionType = "NONE"
)

// ProposalStatus is the lifecycle of an engine-authored candidate action.
type ProposalStatus string

const (
	ProposalDraft             ProposalStatus = "DRAFT"
	ProposalPendingApproval   ProposalStatus = "PENDING_APPROVAL"
	ProposalDecisionReceived  ProposalStatus = "DECISION_RECEIVED"
	ProposalApproved          ProposalStatus = "APPROVED"
	ProposalExecuted          ProposalStatus = "EXECUTED"
	ProposalDismissed         ProposalStatus = "DISMISSED"
	ProposalSuperseded        ProposalStatus = "SUPERSEDED"
	ProposalCancelled         ProposalStatus = "CANCELLED"
	ProposalFailed            ProposalStatus = "FAILED"
)

// IsTerminal reports whether status is one of the terminal statuses a
// Proposal can never transition out of once reached.
func (s ProposalStatus) IsTerminal() bool {
	switch s {
	case ProposalExecuted, ProposalDismissed, ProposalCancelled, ProposalFailed:
		return true
	default:
		return false
	}
}

// PauseReason names why a proposal was gated for human review.
type PauseReason string

const (
	PauseFeeQuote         PauseReason = "FEE_QUOTE"
	PauseDenial           PauseReason = "DENIAL"
	PauseScope            PauseReason = "SCOPE"
	PauseIDRequired       PauseReason = "ID_REQUIRED"
	PauseSensitive        PauseReason = "SENSITIVE"
	PauseCloseAction      PauseReason = "CLOSE_ACTION"
	PausePendingApproval  PauseReason = "PENDING_APPROVAL"
)

// HumanDecision is the action a reviewer takes on a PENDING_APPROVAL proposal.
type HumanDecision string

const (
	DecisionApprove HumanDecision = "APPROVE"
	DecisionAdjust  HumanDecision = "ADJUST"
	DecisionDismiss HumanDecision = "DISMISS"
	DecisionWithdraw HumanDecision = "WITHDRAW"
)

// Proposal is an engine-authored candidate action for a case.
type Proposal struct {
	ID             string
	CaseID         string
	MessageID      string // empty when not tied to an inbound message
	ProposalKey    string
	ActionType     ActionType
	Attempt        int
	DraftSubjectRef string
	DraftBodyRef    string
	Reasoning      []string
	RiskFlags      []string
	Confidence     float64
	Status         ProposalStatus
	PauseReason    PauseReason
	ExecutionKey   string
	ExecutedAt     *time.Time
	Decision       HumanDecision
	DecisionNote   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProposalKey computes the deterministic dedup key
// "{case_id}:{message_id|no-msg}:{action_type}:{attempt}".
func ProposalKey(caseID, messageID string, action ActionType, attempt int) string {
	msg := messageID
	if msg == "" {
		msg = "no-msg"
	}
	return caseID + ":" + msg + ":" + string(action) + ":" + strconv.Itoa(attempt)
}

// TriggerType is the kind of event that caused a Run to be created.
type TriggerType string

const (
	TriggerInitialRequest    TriggerType = "INITIAL_REQUEST"
	TriggerInboundMessage    TriggerType = "INBOUND_MESSAGE"
	TriggerScheduledFollowup TriggerType = "SCHEDULED_FOLLOWUP"
	TriggerResume            TriggerType = "RESUME"
)

// RunStatus is the lifecycle of one attempt to execute a trigger.
type RunStatus string

const (
	RunCreated   RunStatus = "CREATED"
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunWaiting   RunStatus = "WAITING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunSkipped   RunStatus = "SKIPPED"
	RunTimedOut  RunStatus = "TIMED_OUT"
)

// IsTerminal reports whether a run has left the active lifecycle.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunSkipped, RunTimedOut:
		return true
	default:
		return false
	}
}

// Run is one attempt to execute a trigger for a case.
type Run struct {
	ID                string
	CaseID            string
	TriggerType       TriggerType
	MessageID         string
	FollowupScheduleID string
	ProposalID        string
	Status            RunStatus
	ThreadID          string
	NodeTrace         []string
	InterruptValue    map[string]any
	SkipReason        string
	ErrorMessage      string
	StartedAt         *time.Time
	EndedAt           *time.Time
	HeartbeatAt       *time.Time
	LockExpiresAt     *time.Time
	RecoveryAttempted bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExecutionStatus mirrors the progress of a dispatched side effect.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionSent    ExecutionStatus = "sent"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Execution records a performed external side effect.
type Execution struct {
	ID           string
	ProposalID   string
	ExecutionKey string
	Status       ExecutionStatus
	ProviderRef  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExecutionKey derives a deterministic dedup key when the caller
// supplies none.
func ExecutionKey(actionType ActionType, caseID, proposalID string) string {
	return "email-" + string(actionType) + "-" + caseID + "-proposal-" + proposalID
}

// FollowUpSchedule is a pending scheduled trigger.
type FollowUpSchedule struct {
	ID           string
	CaseID       string
	DueAt        time.Time
	Attempt      int
	Paused       bool
	Completed    bool
	ScheduledKey string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScheduledKey computes the deterministic key "followup:{case_id}:{attempt}:{yyyy-mm-dd}".
func ScheduledKey(caseID string, attempt int, due time.Time) string {
	return "followup:" + caseID + ":" + strconv.Itoa(attempt) + ":" + due.Format("2006-01-02")
}

// DeadLetterEntry preserves a failed-past-retries job for diagnosis/replay.
type DeadLetterEntry struct {
	ID         string
	Queue      string
	JobName    string
	Payload    []byte
	Error      string
	Attempts   int
	CaseID     string
	CreatedAt  time.Time
	RetriedAt  *time.Time
	Discarded  bool
}

