package casegraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/collaborator"
	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/graph"
	"github.com/ShadewG/autobot-engine/internal/runerr"
)

// executeAction dispatches the side effect a proposal (or an auto-executed
// action that never needed one) authorizes. Exactly-once delivery rests on
// two layers: ClaimProposalExecution's single-winner update, and
// InsertExecution's unique constraint on execution_key as a second line of
// defense if a crash lands a job back here after the claim already
// succeeded once.
func (s *Services) executeAction() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		proposalID := st.ProposalID
		attempt := st.ProposalAttempt

		if proposalID == "" {
			attempt++
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
				Status:          domain.ProposalApproved,
			}
			saved, err := s.Store.UpsertProposalByKey(ctx, proposal)
			if err != nil {
				return graph.NodeResult[State]{Err: fmt.Errorf("persist auto-executed proposal for case %s: %w", st.CaseID, err)}
			}
			proposalID = saved.ID
		}

		execKey := st.ExecutionKey
		if execKey == "" {
			execKey = domain.ExecutionKey(st.ActionType, st.CaseID, proposalID)
			claimed, err := s.Store.ClaimProposalExecution(ctx, proposalID, execKey)
			if err != nil {
				return graph.NodeResult[State]{Err: fmt.Errorf("claim execution for proposal %s: %w", proposalID, err)}
			}
			if !claimed {
				return graph.NodeResult[State]{Delta: State{ProposalID: proposalID, ExecutionKey: execKey, SkippedDuplicateExecution: true}}
			}
		}

		execution := &domain.Execution{
			ID:           s.IDGenerator(),
			ProposalID:   proposalID,
			ExecutionKey: execKey,
			Status:       domain.ExecutionPending,
		}
		if err := s.Store.InsertExecution(ctx, execution); err != nil {
			var re *runerr.Error
			if errors.As(err, &re) && re.Kind == runerr.KindDuplicateKey {
				return graph.NodeResult[State]{Delta: State{ProposalID: proposalID, ExecutionKey: execKey, SkippedDuplicateExecution: true}}
			}
			return graph.NodeResult[State]{Err: fmt.Errorf("insert execution for proposal %s: %w", proposalID, err)}
		}

		providerRef, dispatchErr := s.dispatch(ctx, st, proposalID, execKey, attempt)

		status := domain.ExecutionSent
		if dispatchErr != nil {
			status = domain.ExecutionFailed
		}
		if err := s.Store.UpdateExecutionStatus(ctx, execution.ID, status, providerRef); err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("update execution %s: %w", execution.ID, err)}
		}
		if dispatchErr != nil {
			return graph.NodeResult[State]{Err: runerr.Wrap(runerr.KindCollaboratorFailure, dispatchErr, "dispatch action %s for proposal %s", st.ActionType, proposalID)}
		}

		if err := s.Store.MarkProposalExecuted(ctx, proposalID); err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("mark proposal %s executed: %w", proposalID, err)}
		}

		return graph.NodeResult[State]{Delta: State{ProposalID: proposalID, ExecutionKey: execKey, ExecutionProviderRef: providerRef}}
	}
}

func (s *Services) dispatch(ctx context.Context, st State, proposalID, execKey string, attempt int) (string, error) {
	if st.ActionType == domain.ActionSubmitPortal {
		result, err := s.Portal.SubmitPortalTask(ctx, collaborator.PortalTaskRequest{
			CaseID:    st.CaseID,
			PortalURL: st.PortalURL,
			Attempt:   attempt,
		})
		if err != nil {
			return "", err
		}
		if result.Status == collaborator.PortalFailed {
			return result.ProviderRef, fmt.Errorf("portal task for case %s reported FAILED", st.CaseID)
		}
		return result.ProviderRef, nil
	}

	result, err := s.Email.SendEmail(ctx, collaborator.EmailRequest{
		ExecutionKey: execKey,
		ProposalID:   proposalID,
		Recipient:    st.Case.Agency,
		Subject:      st.DraftSubjectRef,
		Body:         st.DraftBodyRef,
	})
	if err != nil {
		return "", err
	}
	if !result.Sent {
		return result.ProviderRef, fmt.Errorf("email executor declined to send for case %s", st.CaseID)
	}
	return result.ProviderRef, nil
}
