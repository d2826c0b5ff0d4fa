package casegraph

import (
	"context"
	"testing"

	"github.com/ShadewG/autobot-engine/internal/collaborator"
	"github.com/ShadewG/autobot-engine/internal/collaborator/dryrun"
	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/graph"
	gstore "github.com/ShadewG/autobot-engine/internal/graph/store"
)

func newTestCase(fs *fakeStore, id string, mode domain.AutopilotMode) {
	fs.cases[id] = &domain.Case{ID: id, Agency: "Metro PD", AutopilotMode: mode, Status: domain.CaseStatusOpen}
}

func newTestMessage(fs *fakeStore, id, caseID string) {
	fs.messages[id] = &domain.Message{ID: id, CaseID: caseID, Direction: domain.DirectionInbound, BodyRef: "ref:" + id}
}

func newServices(fs *fakeStore, classifyOut collaborator.ClassifyOutput) *Services {
	classifyOut.SchemaVersion = collaborator.ClassificationSchemaVersion
	return &Services{
		Store:       fs,
		Classifier:  &dryrun.Classifier{Output: classifyOut},
		Drafter:     dryrun.NewDrafter(),
		Email:       dryrun.NewEmailExecutor(),
		Portal:      dryrun.NewPortalExecutor(),
		Notifier:    dryrun.NewNotifier(),
		IDGenerator: idSeq("id"),
	}
}

func TestInboundResponseLowFeeAutoApproves(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-1", domain.AutopilotAuto)
	newTestMessage(fs, "msg-1", "case-1")

	svc := newServices(fs, collaborator.ClassifyOutput{
		FeeQuote: &domain.FeeQuote{AmountCents: 5000},
	})

	eng, err := svc.BuildInboundResponse(gstore.NewMemStore(), graph.Options{})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	result, err := eng.Invoke(ContextWithRunID(context.Background(), "run-1"), "thread-1", State{CaseID: "case-1", MessageID: "msg-1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != graph.StatusCompleted {
		t.Fatalf("status = %s, want completed (err=%v)", result.Status, result.Err)
	}
	if result.State.ActionType != domain.ActionAcceptFee {
		t.Errorf("action = %s, want ACCEPT_FEE", result.State.ActionType)
	}
	if fs.messages["msg-1"].ProcessedRunID == "" {
		t.Error("message was not marked processed")
	}
	if len(fs.executions) != 1 {
		t.Errorf("executions = %d, want 1", len(fs.executions))
	}
}

func TestInboundResponseFeeOverThresholdGatesThenApproves(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-2", domain.AutopilotAuto)
	newTestMessage(fs, "msg-2", "case-2")

	svc := newServices(fs, collaborator.ClassifyOutput{
		FeeQuote: &domain.FeeQuote{AmountCents: 60000},
	})

	eng, err := svc.BuildInboundResponse(gstore.NewMemStore(), graph.Options{})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	first, err := eng.Invoke(context.Background(), "thread-2", State{CaseID: "case-2", MessageID: "msg-2"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if first.Status != graph.StatusInterrupted {
		t.Fatalf("status = %s, want interrupted (err=%v)", first.Status, first.Err)
	}
	proposalID, _ := first.InterruptValue["proposal_id"].(string)
	if proposalID == "" {
		t.Fatal("interrupt value missing proposal_id")
	}
	if fs.proposals[proposalID].Status != domain.ProposalPendingApproval {
		t.Fatalf("proposal status = %s, want PENDING_APPROVAL", fs.proposals[proposalID].Status)
	}

	second, err := eng.Resume(context.Background(), "thread-2", graph.Command{Resume: map[string]any{"decision": "APPROVE"}})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.Status != graph.StatusCompleted {
		t.Fatalf("status = %s, want completed (err=%v)", second.Status, second.Err)
	}
	if fs.proposals[proposalID].Status != domain.ProposalExecuted {
		t.Errorf("proposal status = %s, want EXECUTED", fs.proposals[proposalID].Status)
	}
}

func TestInboundResponsePortalRedirectExecutesDirectly(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-3", domain.AutopilotAuto)
	newTestMessage(fs, "msg-3", "case-3")

	svc := newServices(fs, collaborator.ClassifyOutput{
		PortalRedirect: "https://portal.example.gov/case-3",
	})

	eng, err := svc.BuildInboundResponse(gstore.NewMemStore(), graph.Options{})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	result, err := eng.Invoke(context.Background(), "thread-3", State{CaseID: "case-3", MessageID: "msg-3"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != graph.StatusCompleted {
		t.Fatalf("status = %s, want completed (err=%v)", result.Status, result.Err)
	}
	if result.State.ActionType != domain.ActionSubmitPortal {
		t.Errorf("action = %s, want SUBMIT_PORTAL", result.State.ActionType)
	}
	if fs.cases["case-3"].Status != domain.CaseStatusPortalRequired {
		t.Errorf("case status = %s, want portal_required", fs.cases["case-3"].Status)
	}
}

func TestInboundResponseDoubleApproveRejectsSecondResume(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-4", domain.AutopilotAuto)
	newTestMessage(fs, "msg-4", "case-4")

	svc := newServices(fs, collaborator.ClassifyOutput{
		FeeQuote: &domain.FeeQuote{AmountCents: 60000},
	})

	eng, err := svc.BuildInboundResponse(gstore.NewMemStore(), graph.Options{})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	if _, err := eng.Invoke(context.Background(), "thread-4", State{CaseID: "case-4", MessageID: "msg-4"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	approve := graph.Command{Resume: map[string]any{"decision": "APPROVE"}}
	if _, err := eng.Resume(context.Background(), "thread-4", approve); err != nil {
		t.Fatalf("first resume: %v", err)
	}

	if len(fs.executions) != 1 {
		t.Fatalf("executions after first approve = %d, want 1", len(fs.executions))
	}

	if _, err := eng.Resume(context.Background(), "thread-4", approve); err == nil {
		t.Fatal("expected second resume to fail: thread is no longer interrupted")
	}
}

func TestInitialRequestAutoSendsUnderAutoMode(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-5", domain.AutopilotAuto)

	svc := newServices(fs, collaborator.ClassifyOutput{})

	eng, err := svc.BuildInitialRequest(gstore.NewMemStore(), graph.Options{})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	result, err := eng.Invoke(context.Background(), "thread-5", State{CaseID: "case-5"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != graph.StatusCompleted {
		t.Fatalf("status = %s, want completed (err=%v)", result.Status, result.Err)
	}
	if result.State.ActionType != domain.ActionSendInitialRequest {
		t.Errorf("action = %s, want SEND_INITIAL_REQUEST", result.State.ActionType)
	}
	if len(fs.followups) != 1 {
		t.Errorf("followups scheduled = %d, want 1", len(fs.followups))
	}
}

func TestInboundResponseNoResponseNeededSkipsGate(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-7", domain.AutopilotAuto)
	newTestMessage(fs, "msg-7", "case-7")

	svc := newServices(fs, collaborator.ClassifyOutput{})

	eng, err := svc.BuildInboundResponse(gstore.NewMemStore(), graph.Options{})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	result, err := eng.Invoke(ContextWithRunID(context.Background(), "run-7"), "thread-7", State{CaseID: "case-7", MessageID: "msg-7"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != graph.StatusCompleted {
		t.Fatalf("status = %s, want completed (err=%v)", result.Status, result.Err)
	}
	if result.State.ActionType != domain.ActionNone {
		t.Errorf("action = %s, want NONE", result.State.ActionType)
	}
	if len(fs.proposals) != 0 {
		t.Errorf("proposals created = %d, want 0", len(fs.proposals))
	}
	if fs.messages["msg-7"].ProcessedRunID == "" {
		t.Error("message was not marked processed")
	}
}

func TestInitialRequestGatesUnderSupervisedMode(t *testing.T) {
	fs := newFakeStore()
	newTestCase(fs, "case-6", domain.AutopilotSupervised)

	svc := newServices(fs, collaborator.ClassifyOutput{})

	eng, err := svc.BuildInitialRequest(gstore.NewMemStore(), graph.Options{})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	result, err := eng.Invoke(context.Background(), "thread-6", State{CaseID: "case-6"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != graph.StatusInterrupted {
		t.Fatalf("status = %s, want interrupted (err=%v)", result.Status, result.Err)
	}

	resumed, err := eng.Resume(context.Background(), "thread-6", graph.Command{Resume: map[string]any{"decision": "APPROVE"}})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != graph.StatusCompleted {
		t.Fatalf("status = %s, want completed (err=%v)", resumed.Status, resumed.Err)
	}
	if len(fs.followups) != 1 {
		t.Errorf("followups scheduled = %d, want 1", len(fs.followups))
	}
}
