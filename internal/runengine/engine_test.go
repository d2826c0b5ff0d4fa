package runengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ShadewG/autobot-engine/internal/casegraph"
	"github.com/ShadewG/autobot-engine/internal/collaborator"
	"github.com/ShadewG/autobot-engine/internal/collaborator/dryrun"
	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/graph"
	gstore "github.com/ShadewG/autobot-engine/internal/graph/store"
	"github.com/ShadewG/autobot-engine/internal/lock"
	"go.uber.org/zap"
)

// fakeStore is an in-memory Store good enough to drive the Run Engine
// without a database, grounded on casegraph's own fakeStore plus the extra
// Run/followup bookkeeping this package's Store interface adds.
type fakeStore struct {
	mu         sync.Mutex
	cases      map[string]*domain.Case
	messages   map[string]*domain.Message
	proposals  map[string]*domain.Proposal
	byKey      map[string]string
	executions map[string]*domain.Execution
	followups  map[string]*domain.FollowUpSchedule
	followupKeys map[string]bool
	runs       map[string]*domain.Run
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cases:        map[string]*domain.Case{},
		messages:     map[string]*domain.Message{},
		proposals:    map[string]*domain.Proposal{},
		byKey:        map[string]string{},
		executions:   map[string]*domain.Execution{},
		followups:    map[string]*domain.FollowUpSchedule{},
		followupKeys: map[string]bool{},
		runs:         map[string]*domain.Run{},
	}
}

func (f *fakeStore) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return nil, fmt.Errorf("case %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) UpdateCaseStatus(ctx context.Context, id string, status domain.CaseStatus, reviewState domain.ReviewState, portalURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return fmt.Errorf("case %s not found", id)
	}
	c.Status = status
	c.ReviewState = reviewState
	if portalURL != "" {
		c.PortalURL = portalURL
	}
	return nil
}

func (f *fakeStore) AddConstraint(ctx context.Context, id string, tag domain.Constraint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return fmt.Errorf("case %s not found", id)
	}
	if !c.HasConstraint(tag) {
		c.Constraints = append(c.Constraints, tag)
	}
	return nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) MarkMessageProcessed(ctx context.Context, messageID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	m.ProcessedRunID = runID
	return nil
}

func (f *fakeStore) UpsertProposalByKey(ctx context.Context, entry *domain.Proposal) (*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byKey[entry.ProposalKey]; ok {
		existing := f.proposals[id]
		if existing.Status.IsTerminal() {
			cp := *existing
			return &cp, nil
		}
		existing.DraftSubjectRef = entry.DraftSubjectRef
		existing.DraftBodyRef = entry.DraftBodyRef
		existing.Reasoning = entry.Reasoning
		existing.RiskFlags = entry.RiskFlags
		existing.Confidence = entry.Confidence
		cp := *existing
		return &cp, nil
	}
	cp := *entry
	f.proposals[entry.ID] = &cp
	f.byKey[entry.ProposalKey] = entry.ID
	out := cp
	return &out, nil
}

func (f *fakeStore) GetProposal(ctx context.Context, id string) (*domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ClaimProposalExecution(ctx context.Context, proposalID, executionKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[proposalID]
	if !ok {
		return false, fmt.Errorf("proposal %s not found", proposalID)
	}
	if p.ExecutionKey != "" {
		return false, nil
	}
	if p.Status != domain.ProposalDecisionReceived && p.Status != domain.ProposalApproved {
		return false, nil
	}
	p.ExecutionKey = executionKey
	p.Status = domain.ProposalApproved
	return true, nil
}

func (f *fakeStore) MarkProposalExecuted(ctx context.Context, proposalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[proposalID]
	if !ok {
		return fmt.Errorf("proposal %s not found", proposalID)
	}
	p.Status = domain.ProposalExecuted
	return nil
}

func (f *fakeStore) SetProposalStatus(ctx context.Context, proposalID string, status domain.ProposalStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[proposalID]
	if !ok {
		return fmt.Errorf("proposal %s not found", proposalID)
	}
	p.Status = status
	return nil
}

func (f *fakeStore) SupersedePendingProposal(ctx context.Context, caseID string, actionType domain.ActionType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.proposals {
		if p.CaseID == caseID && p.ActionType == actionType && p.Status == domain.ProposalPendingApproval {
			p.Status = domain.ProposalSuperseded
		}
	}
	return nil
}

func (f *fakeStore) RecordDecision(ctx context.Context, proposalID string, decision domain.HumanDecision, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[proposalID]
	if !ok {
		return fmt.Errorf("proposal %s not found", proposalID)
	}
	p.Status = domain.ProposalDecisionReceived
	p.Decision = decision
	p.DecisionNote = note
	return nil
}

func (f *fakeStore) InsertExecution(ctx context.Context, e *domain.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.executions[e.ExecutionKey] = &cp
	return nil
}

func (f *fakeStore) GetExecutionByKey(ctx context.Context, executionKey string) (*domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.executions[executionKey]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", executionKey)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) UpdateExecutionStatus(ctx context.Context, id string, status domain.ExecutionStatus, providerRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.executions {
		if e.ID == id {
			e.Status = status
			return nil
		}
	}
	return fmt.Errorf("execution %s not found", id)
}

func (f *fakeStore) AcquireFollowupSlot(ctx context.Context, sched *domain.FollowUpSchedule) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.followupKeys[sched.ScheduledKey] {
		return false, nil
	}
	f.followupKeys[sched.ScheduledKey] = true
	cp := *sched
	f.followups[sched.ID] = &cp
	return true, nil
}

func (f *fakeStore) GetFollowup(ctx context.Context, id string) (*domain.FollowUpSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.followups[id]
	if !ok {
		return nil, fmt.Errorf("followup %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) CompleteFollowup(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.followups[id]
	if !ok {
		return fmt.Errorf("followup %s not found", id)
	}
	s.Completed = true
	return nil
}

func (f *fakeStore) HasActiveRun(ctx context.Context, caseID, excludeRunID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.runs {
		if id == excludeRunID || r.CaseID != caseID {
			continue
		}
		if r.Status == domain.RunRunning || r.Status == domain.RunWaiting {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertRun(ctx context.Context, r *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	if cp.ThreadID == "" {
		cp.ThreadID = cp.ID
	}
	f.runs[r.ID] = &cp
	return nil
}

func (f *fakeStore) StartRun(ctx context.Context, id string, now, lockExpiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].Status = domain.RunRunning
	return nil
}

func (f *fakeStore) Heartbeat(ctx context.Context, id string, now, lockExpiresAt time.Time) error {
	return nil
}

func (f *fakeStore) CompleteRun(ctx context.Context, id string, nodeTrace []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].Status = domain.RunCompleted
	return nil
}

func (f *fakeStore) FailRun(ctx context.Context, id string, nodeTrace []string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].Status = domain.RunFailed
	f.runs[id].ErrorMessage = errMsg
	return nil
}

func (f *fakeStore) InterruptRun(ctx context.Context, id string, nodeTrace []string, interruptValue map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].Status = domain.RunWaiting
	return nil
}

func (f *fakeStore) TimeoutStaleRuns(ctx context.Context) ([]*domain.Run, error) {
	return nil, nil
}

func (f *fakeStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) LatestWaitingRun(ctx context.Context, caseID string) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.Run
	for _, r := range f.runs {
		if r.CaseID != caseID || r.Status != domain.RunWaiting {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) SkipRun(ctx context.Context, id string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].Status = domain.RunSkipped
	f.runs[id].SkipReason = reason
	return nil
}

func (f *fakeStore) LinkRunProposal(ctx context.Context, runID, proposalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[runID]; ok {
		r.ProposalID = proposalID
	}
	return nil
}

func (f *fakeStore) ListDeadLetters(ctx context.Context) ([]*domain.DeadLetterEntry, error) {
	return nil, nil
}

// fakeLocker grants an advisory lock unconditionally, tracking whether it is
// currently held so tests can assert it's always released.
type fakeLocker struct {
	mu   sync.Mutex
	held bool
}

func (f *fakeLocker) AcquireAdvisoryLock(ctx context.Context, name string) (lock.Releasable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, errors.New("already held")
	}
	f.held = true
	return &releaseTracker{f}, nil
}

type releaseTracker struct{ f *fakeLocker }

func (r *releaseTracker) Release(ctx context.Context) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.held = false
	return nil
}

func idSeq(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestEngine(fs *fakeStore, classifyOut collaborator.ClassifyOutput) (*Engine, *dryrun.Notifier) {
	classifyOut.SchemaVersion = collaborator.ClassificationSchemaVersion
	svc := &casegraph.Services{
		Store:       fs,
		Classifier:  &dryrun.Classifier{Output: classifyOut},
		Drafter:     dryrun.NewDrafter(),
		Email:       dryrun.NewEmailExecutor(),
		Portal:      dryrun.NewPortalExecutor(),
		Notifier:    dryrun.NewNotifier(),
		IDGenerator: idSeq("pid"),
	}
	requestGraph, err := svc.BuildInitialRequest(gstore.NewMemStore(), graph.Options{})
	if err != nil {
		panic(err)
	}
	inboundGraph, err := svc.BuildInboundResponse(gstore.NewMemStore(), graph.Options{})
	if err != nil {
		panic(err)
	}

	locks := lock.New(fs, &fakeLocker{}, zap.NewNop(), lock.Options{HeartbeatInterval: time.Hour})
	notifier := dryrun.NewNotifier()
	engine := New(locks, fs, requestGraph, inboundGraph, notifier, zap.NewNop(), Options{})
	return engine, notifier
}

func newTestCase(fs *fakeStore, id string, mode domain.AutopilotMode) {
	fs.cases[id] = &domain.Case{ID: id, Agency: "Metro PD", AutopilotMode: mode, Status: domain.CaseStatusOpen}
}

func TestHandleInitialRequestCompletesUnderAuto(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-1", domain.AutopilotAuto)
	engine, _ := newTestEngine(fs, collaborator.ClassifyOutput{})

	if err := engine.HandleInitialRequest(context.Background(), "run-1", "case-1"); err != nil {
		t.Fatalf("HandleInitialRequest: %v", err)
	}
	if fs.runs["run-1"].Status != domain.RunCompleted {
		t.Errorf("run status = %s, want COMPLETED", fs.runs["run-1"].Status)
	}
}

func TestHandleInboundMessageSkipsWhenAlreadyProcessed(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-2", domain.AutopilotAuto)
	fs.messages["msg-2"] = &domain.Message{ID: "msg-2", CaseID: "case-2", ProcessedRunID: "run-old"}
	engine, _ := newTestEngine(fs, collaborator.ClassifyOutput{})

	if err := engine.HandleInboundMessage(context.Background(), "run-2", "case-2", "msg-2"); err != nil {
		t.Fatalf("HandleInboundMessage: %v", err)
	}
	if fs.runs["run-2"].Status != domain.RunSkipped || fs.runs["run-2"].SkipReason != "already_processed" {
		t.Errorf("run = %+v, want skipped/already_processed", fs.runs["run-2"])
	}
}

func TestHandleFollowupTriggerSkipsWhenPaused(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-3", domain.AutopilotAuto)
	fs.followups["fu-1"] = &domain.FollowUpSchedule{ID: "fu-1", CaseID: "case-3", Paused: true}
	engine, _ := newTestEngine(fs, collaborator.ClassifyOutput{})

	if err := engine.HandleFollowupTrigger(context.Background(), "run-3", "case-3", "fu-1"); err != nil {
		t.Fatalf("HandleFollowupTrigger: %v", err)
	}
	if fs.runs["run-3"].Status != domain.RunSkipped || fs.runs["run-3"].SkipReason != "followup_inactive" {
		t.Errorf("run = %+v, want skipped/followup_inactive", fs.runs["run-3"])
	}
}

func TestHandleFollowupTriggerCompletesAndMarksFollowupDone(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-4", domain.AutopilotAuto)
	fs.followups["fu-2"] = &domain.FollowUpSchedule{ID: "fu-2", CaseID: "case-4", Attempt: 1}
	engine, _ := newTestEngine(fs, collaborator.ClassifyOutput{})

	if err := engine.HandleFollowupTrigger(context.Background(), "run-4", "case-4", "fu-2"); err != nil {
		t.Fatalf("HandleFollowupTrigger: %v", err)
	}
	if fs.runs["run-4"].Status != domain.RunCompleted {
		t.Errorf("run status = %s, want COMPLETED", fs.runs["run-4"].Status)
	}
	if !fs.followups["fu-2"].Completed {
		t.Error("followup was not marked completed")
	}
}

func TestHandleResumeRunSkipsWhenProposalTerminal(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-5", domain.AutopilotAuto)
	fs.proposals["prop-1"] = &domain.Proposal{ID: "prop-1", CaseID: "case-5", Status: domain.ProposalExecuted}
	engine, _ := newTestEngine(fs, collaborator.ClassifyOutput{})

	if err := engine.HandleResumeRun(context.Background(), "run-5", "case-5", "prop-1", "APPROVE", ""); err != nil {
		t.Fatalf("HandleResumeRun: %v", err)
	}
	if fs.runs["run-5"].Status != domain.RunSkipped || fs.runs["run-5"].SkipReason != "proposal_terminal" {
		t.Errorf("run = %+v, want skipped/proposal_terminal", fs.runs["run-5"])
	}
}

func TestHandleResumeRunSkipsWhenExecutionInFlight(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-6", domain.AutopilotAuto)
	fs.proposals["prop-2"] = &domain.Proposal{ID: "prop-2", CaseID: "case-6", Status: domain.ProposalApproved, ExecutionKey: "exec-key-1"}
	fs.executions["exec-key-1"] = &domain.Execution{ID: "exec-1", ExecutionKey: "exec-key-1", Status: domain.ExecutionPending}
	engine, _ := newTestEngine(fs, collaborator.ClassifyOutput{})

	if err := engine.HandleResumeRun(context.Background(), "run-6", "case-6", "prop-2", "APPROVE", ""); err != nil {
		t.Fatalf("HandleResumeRun: %v", err)
	}
	if fs.runs["run-6"].Status != domain.RunSkipped || fs.runs["run-6"].SkipReason != "execution_in_flight" {
		t.Errorf("run = %+v, want skipped/execution_in_flight", fs.runs["run-6"])
	}
}

// TestHandleResumeRunDeliversDecisionToWaitingThread exercises the full
// interrupt-then-resume path: an initial request under supervised mode
// interrupts at gate_or_execute, then a resume_run job delivers APPROVE to
// the same thread id the interrupted run recorded.
func TestHandleResumeRunDeliversDecisionToWaitingThread(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-7", domain.AutopilotSupervised)
	engine, _ := newTestEngine(fs, collaborator.ClassifyOutput{})

	if err := engine.HandleInitialRequest(context.Background(), "run-7a", "case-7"); err != nil {
		t.Fatalf("HandleInitialRequest: %v", err)
	}
	if fs.runs["run-7a"].Status != domain.RunWaiting {
		t.Fatalf("run-7a status = %s, want WAITING", fs.runs["run-7a"].Status)
	}

	proposalID := fs.runs["run-7a"].ProposalID
	if proposalID == "" {
		t.Fatal("run-7a was not linked to a proposal")
	}

	if err := engine.HandleResumeRun(context.Background(), "run-7b", "case-7", proposalID, "APPROVE", "looks good"); err != nil {
		t.Fatalf("HandleResumeRun: %v", err)
	}
	if fs.runs["run-7b"].Status != domain.RunCompleted {
		t.Errorf("run-7b status = %s, want COMPLETED", fs.runs["run-7b"].Status)
	}
	if fs.proposals[proposalID].Status != domain.ProposalExecuted {
		t.Errorf("proposal status = %s, want EXECUTED", fs.proposals[proposalID].Status)
	}
}

func TestHandleInitialRequestSkipsOnActiveRunDoubleTrigger(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-8", domain.AutopilotAuto)
	fs.runs["run-8-already-running"] = &domain.Run{ID: "run-8-already-running", CaseID: "case-8", Status: domain.RunRunning}
	engine, _ := newTestEngine(fs, collaborator.ClassifyOutput{})

	if err := engine.HandleInitialRequest(context.Background(), "run-8", "case-8"); err != nil {
		t.Fatalf("HandleInitialRequest: %v", err)
	}
	if fs.runs["run-8"].Status != domain.RunSkipped || fs.runs["run-8"].SkipReason != "active_run" {
		t.Errorf("run = %+v, want skipped/active_run", fs.runs["run-8"])
	}
}

func TestHandleInitialRequestTimesOutUnderShortDeadline(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-9", domain.AutopilotAuto)
	engine, notifier := newTestEngine(fs, collaborator.ClassifyOutput{})
	engine.opts.GraphExecutionTimeout = time.Nanosecond

	err := engine.HandleInitialRequest(context.Background(), "run-9", "case-9")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if fs.runs["run-9"].Status != domain.RunFailed {
		t.Errorf("run status = %s, want FAILED", fs.runs["run-9"].Status)
	}
	if len(notifier.Events) == 0 {
		t.Error("expected a run-failed notification")
	}
}
