package casegraph

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/graph"
	gstore "github.com/ShadewG/autobot-engine/internal/graph/store"
)

// fakeStore is an in-memory CaseStore good enough to drive both case graphs
// end to end without a database.
type fakeStore struct {
	mu          sync.Mutex
	cases       map[string]*domain.Case
	messages    map[string]*domain.Message
	proposals   map[string]*domain.Proposal
	byKey       map[string]string // proposal_key -> id
	executions  map[string]*domain.Execution // by execution_key
	followups   map[string]bool             // scheduled_key -> exists
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cases:      map[string]*domain.Case{},
		messages:   map[string]*domain.Message{},
		proposals:  map[string]*domain.Proposal{},
		byKey:      map[string]string{},
		executions: map[string]*domain.Execution{},
		followups:  map[string]bool{},
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
	if p.Status != domain.ProposalPendingApproval {
		return fmt.Errorf("proposal %s not awaiting decision", proposalID)
	}
	p.Status = domain.ProposalDecisionReceived
	p.Decision = decision
	p.DecisionNote = note
	return nil
}

func (f *fakeStore) InsertExecution(ctx context.Context, e *domain.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.executions[e.ExecutionKey]; exists {
		return fmt.Errorf("execution %s already exists", e.ExecutionKey)
	}
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
			if providerRef != "" {
				e.ProviderRef = providerRef
			}
			return nil
		}
	}
	return fmt.Errorf("execution %s not found", id)
}

func (f *fakeStore) AcquireFollowupSlot(ctx context.Context, sched *domain.FollowUpSchedule) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.followups[sched.ScheduledKey] {
		return false, nil
	}
	f.followups[sched.ScheduledKey] = true
	return true, nil
}

func idSeq(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
