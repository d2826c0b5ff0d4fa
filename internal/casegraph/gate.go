package casegraph

import (
	"context"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/graph"
	"github.com/ShadewG/autobot-engine/internal/runerr"
)

// gateOrExecute implements the human gate: an action the policy
// marked auto-executable skips straight to execute_action, everything else
// is persisted as a PENDING_APPROVAL proposal and the run interrupts until
// a human decision resumes it. adjustTarget names the draft node this
// graph's ADJUST decision loops back to (the two case graphs draft under
// different node ids).
func (s *Services) gateOrExecute(adjustTarget string) graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		if resume, ok := graph.ResumeValue(ctx); ok {
			return s.resumeGate(ctx, st, resume, adjustTarget)
		}

		if st.ActionType == domain.ActionNone {
			return graph.NodeResult[State]{Route: graph.Goto(NodeCommitState)}
		}

		if st.CanAutoExecute && !st.RequiresHuman {
			return graph.NodeResult[State]{Route: graph.Goto(NodeExecuteAction)}
		}

		proposal, err := s.persistProposal(ctx, st)
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}

		return graph.NodeResult[State]{
			Delta: State{ProposalID: proposal.ID, ProposalKey: proposal.ProposalKey, ProposalAttempt: proposal.Attempt},
			Interrupt: &graph.Interrupt{
				NextNode: NodeGateOrExecute,
				Value: map[string]any{
					"proposal_id":  proposal.ID,
					"action_type":  string(proposal.ActionType),
					"pause_reason": string(proposal.PauseReason),
				},
			},
		}
	}
}

func (s *Services) persistProposal(ctx context.Context, st State) (*domain.Proposal, error) {
	attempt := st.ProposalAttempt + 1
	key := domain.ProposalKey(st.CaseID, st.MessageID, st.ActionType, attempt)
	proposal := &domain.Proposal{
		ID:              s.IDGenerator(),
		CaseID:          st.CaseID,
		MessageID:       st.MessageID,
		ProposalKey:     key,
		ActionType:      st.ActionType,
		Attempt:         attempt,
		DraftSubjectRef: st.DraftSubjectRef,
		DraftBodyRef:    st.DraftBodyRef,
		Reasoning:       st.Reasoning,
		RiskFlags:       st.RiskFlags,
		Confidence:      st.DraftConfidence,
		Status:          domain.ProposalPendingApproval,
		PauseReason:     st.PauseReason,
	}
	saved, err := s.Store.UpsertProposalByKey(ctx, proposal)
	if err != nil {
		return nil, fmt.Errorf("persist proposal for case %s: %w", st.CaseID, err)
	}
	return saved, nil
}

func (s *Services) resumeGate(ctx context.Context, st State, resume map[string]any, adjustTarget string) graph.NodeResult[State] {
	decision, _ := resume["decision"].(string)
	note, _ := resume["note"].(string)

	if err := s.Store.RecordDecision(ctx, st.ProposalID, domain.HumanDecision(decision), note); err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	switch domain.HumanDecision(decision) {
	case domain.DecisionApprove:
		execKey := domain.ExecutionKey(st.ActionType, st.CaseID, st.ProposalID)
		claimed, err := s.Store.ClaimProposalExecution(ctx, st.ProposalID, execKey)
		if err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("claim execution for proposal %s: %w", st.ProposalID, err)}
		}
		if !claimed {
			return graph.NodeResult[State]{
				Delta: State{ExecutionKey: execKey, SkippedDuplicateExecution: true},
				Route: graph.Goto(NodeCommitState),
			}
		}
		return graph.NodeResult[State]{Delta: State{ExecutionKey: execKey}, Route: graph.Goto(NodeExecuteAction)}

	case domain.DecisionAdjust:
		if err := s.Store.SetProposalStatus(ctx, st.ProposalID, domain.ProposalSuperseded); err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		var delta State
		if note != "" {
			delta.Reasoning = []string{"reviewer adjustment: " + note}
		}
		return graph.NodeResult[State]{Delta: delta, Route: graph.Goto(adjustTarget)}

	case domain.DecisionDismiss, domain.DecisionWithdraw:
		if err := s.Store.SetProposalStatus(ctx, st.ProposalID, domain.ProposalDismissed); err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		return graph.NodeResult[State]{Route: graph.Goto(NodeCommitState)}

	default:
		return graph.NodeResult[State]{Err: runerr.New(runerr.KindPolicyBlocked, "unknown decision %q for proposal %s", decision, st.ProposalID)}
	}
}
