package casegraph

import (
	"context"
	"fmt"
	"time"

	"github.com/ShadewG/autobot-engine/internal/collaborator"
	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/graph"
	"github.com/ShadewG/autobot-engine/internal/runerr"
)

// Node IDs shared by both case graphs.
const (
	NodeLoadContext           = "load_context"
	NodeClassifyInbound       = "classify_inbound"
	NodeUpdateConstraints     = "update_constraints"
	NodeDecideNextAction      = "decide_next_action"
	NodeDraftResponse         = "draft_response"
	NodeDraftInitialRequest   = "draft_initial_request"
	NodeSafetyCheck           = "safety_check"
	NodeGateOrExecute         = "gate_or_execute"
	NodeExecuteAction         = "execute_action"
	NodeCommitState           = "commit_state"
	NodeScheduleFollowups     = "schedule_followups"
)

// loadContext loads the case (and, for inbound triggers, the message)
// addressed by state.CaseID/state.MessageID.
func (s *Services) loadContext() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		c, err := s.Store.GetCase(ctx, st.CaseID)
		if err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("load case %s: %w", st.CaseID, err)}
		}
		delta := State{
			Case:           *c,
			PortalRequired: c.Status == domain.CaseStatusPortalRequired,
		}
		if st.MessageID != "" {
			m, err := s.Store.GetMessage(ctx, st.MessageID)
			if err != nil {
				return graph.NodeResult[State]{Err: fmt.Errorf("load message %s: %w", st.MessageID, err)}
			}
			delta.Message = *m
		}
		return graph.NodeResult[State]{Delta: delta}
	}
}

// classifyInbound calls the Classifier collaborator and projects its
// structured verdict onto State. A classification response missing the
// schema tag is a hard failure, not a best-effort guess.
func (s *Services) classifyInbound() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		out, err := s.Classifier.Classify(ctx, collaborator.ClassifyInput{
			Case:        st.Case,
			MessageRef:  st.Message.BodyRef,
			Constraints: st.Case.Constraints,
		})
		if err != nil {
			return graph.NodeResult[State]{Err: runerr.Wrap(runerr.KindCollaboratorFailure, err, "classify case %s", st.CaseID)}
		}
		if out.SchemaVersion != collaborator.ClassificationSchemaVersion {
			return graph.NodeResult[State]{Err: runerr.New(runerr.KindSchemaMismatch, "classifier returned schema %q, want %q", out.SchemaVersion, collaborator.ClassificationSchemaVersion)}
		}

		delta := State{
			NewConstraints:   out.NewConstraints,
			PortalURL:        out.PortalRedirect,
			DenialStrength:   out.DenialStrength,
			RequiresResponse: true,
		}
		if out.RequiresID {
			delta.NewConstraints = append(delta.NewConstraints, domain.ConstraintIDRequired)
		}

		switch {
		case out.PortalRedirect != "":
			delta.Classification = "portal_redirect"
		case out.FeeQuote != nil:
			delta.Classification = "fee_request"
			delta.ExtractedFeeAmountCents = out.FeeQuote.AmountCents
			delta.NewConstraints = append(delta.NewConstraints, domain.ConstraintFeeRequired)
		case out.DenialDetected:
			delta.Classification = "denial"
			delta.NewConstraints = append(delta.NewConstraints, domain.ConstraintDenialReceived)
		default:
			delta.Classification = "informational"
			delta.RequiresResponse = false
		}
		if out.ScopeNarrowing {
			delta.ReasonNoResponse = out.Summary
		}
		delta.Sentiment = out.Summary
		return graph.NodeResult[State]{Delta: delta}
	}
}

// updateConstraints persists any constraint tags classifyInbound surfaced.
// AddConstraint is itself idempotent (internal/store's JSONB containment
// check), so this node does not need to de-duplicate against state.Case
// first.
func (s *Services) updateConstraints() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		for _, c := range st.NewConstraints {
			if err := s.Store.AddConstraint(ctx, st.CaseID, c); err != nil {
				return graph.NodeResult[State]{Err: fmt.Errorf("add constraint %s: %w", c, err)}
			}
		}
		return graph.NodeResult[State]{}
	}
}

// decideNextActionNode applies the fee/denial/portal policy in policy.go
// and, independently, safety_check's hard rules, merging both into one
// state delta since neither can run usefully without the other having
// already seen the other's candidate action.
func (s *Services) decideNextActionNode() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		d := decideNextAction(st)
		merged := State{
			ActionType:     d.actionType,
			Reasoning:      d.reasoning,
			CanAutoExecute: d.canAutoExecute,
			RequiresHuman:  d.requiresHuman,
			PauseReason:    d.pauseReason,
		}

		probe := st
		probe.ActionType = d.actionType
		safety := applySafetyCheck(probe)
		if safety.requiresHuman {
			merged.RequiresHuman = true
			merged.CanAutoExecute = false
			if merged.PauseReason == "" {
				merged.PauseReason = domain.PauseSensitive
			}
		}
		merged.RiskFlags = safety.riskFlags
		return graph.NodeResult[State]{Delta: merged}
	}
}

// draftInitialRequest authors the outbound message that opens a case. The
// Initial-Request graph has no decide_next_action node of its own (there is
// no inbound message to classify yet), so this node also makes the
// auto-execute call a case's autopilot mode implies: AUTO sends the opening
// request unattended, anything else gates it for review.
func (s *Services) draftInitialRequest() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		action := domain.ActionSendInitialRequest
		reason := "opening records request"
		if st.FollowupAttempt > 0 {
			action = domain.ActionSendFollowup
			reason = fmt.Sprintf("follow-up attempt %d", st.FollowupAttempt)
		}
		result := s.draft(action)(ctx, st)
		if result.Err != nil {
			return result
		}
		result.Delta.Reasoning = append(result.Delta.Reasoning, reason)
		if st.Case.AutopilotMode == domain.AutopilotAuto {
			result.Delta.CanAutoExecute = true
		} else {
			result.Delta.RequiresHuman = true
			result.Delta.PauseReason = domain.PausePendingApproval
		}
		return result
	}
}

// draftResponse authors the outbound message for an inbound-triggered
// action (rebuttal, fee acceptance, clarification, ...).
func (s *Services) draftResponse() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		if st.ActionType == domain.ActionNone || st.ActionType == domain.ActionSubmitPortal {
			return graph.NodeResult[State]{}
		}
		return s.draft(st.ActionType)(ctx, st)
	}
}

func (s *Services) draft(action domain.ActionType) graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		out, err := s.Drafter.Draft(ctx, collaborator.DraftInput{
			Case:       st.Case,
			ActionType: action,
			Reasoning:  st.Reasoning,
		})
		if err != nil {
			return graph.NodeResult[State]{Err: runerr.Wrap(runerr.KindCollaboratorFailure, err, "draft action %s for case %s", action, st.CaseID)}
		}
		if out.SchemaVersion != collaborator.ClassificationSchemaVersion {
			return graph.NodeResult[State]{Err: runerr.New(runerr.KindSchemaMismatch, "drafter returned schema %q, want %q", out.SchemaVersion, collaborator.ClassificationSchemaVersion)}
		}
		return graph.NodeResult[State]{Delta: State{
			ActionType:      action,
			DraftSubjectRef: out.SubjectRef,
			DraftBodyRef:    out.BodyRef,
			DraftConfidence: out.Confidence,
			RiskFlags:       out.RiskFlags,
		}}
	}
}

// safetyCheckNode re-runs the hard rules against the final drafted action,
// since draftResponse/draftInitialRequest may have changed RiskFlags or
// left ActionType at its decide_next_action value; this is the graphs'
// last gate before gate_or_execute.
func (s *Services) safetyCheckNode() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		safety := applySafetyCheck(st)
		if !safety.requiresHuman {
			return graph.NodeResult[State]{Delta: State{RiskFlags: safety.riskFlags}}
		}
		delta := State{
			RequiresHuman:  true,
			CanAutoExecute: false,
			RiskFlags:      safety.riskFlags,
		}
		if st.PauseReason == "" {
			delta.PauseReason = domain.PauseSensitive
		}
		return graph.NodeResult[State]{Delta: delta}
	}
}

// commitState advances the case's status/review-state/portal bookkeeping
// once a run has reached a terminal or waiting point.
func (s *Services) commitState() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		status := st.Case.Status
		portalURL := st.Case.PortalURL
		if st.PortalURL != "" {
			status = domain.CaseStatusPortalRequired
			portalURL = st.PortalURL
		}
		review := domain.ReviewWaitingAgency
		if st.RequiresHuman {
			review = domain.ReviewDecisionRequired
		}
		if err := s.Store.UpdateCaseStatus(ctx, st.CaseID, status, review, portalURL); err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("commit case %s: %w", st.CaseID, err)}
		}
		if st.MessageID != "" {
			if err := s.Store.MarkMessageProcessed(ctx, st.MessageID, runIDFromContext(ctx)); err != nil {
				return graph.NodeResult[State]{Err: fmt.Errorf("mark message %s processed: %w", st.MessageID, err)}
			}
		}
		return graph.NodeResult[State]{}
	}
}

// scheduleFollowups reserves the next follow-up slot for a case left
// waiting on the agency, unless it already carries a portal requirement
// (portal tasks are tracked through execute_action, not the follow-up
// scheduler).
func (s *Services) scheduleFollowups() graph.NodeFunc[State] {
	return func(ctx context.Context, st State) graph.NodeResult[State] {
		if st.PortalRequired || st.PortalURL != "" {
			return graph.NodeResult[State]{}
		}
		attempt := st.FollowupAttempt + 1
		sched := s.Schedule.NextSchedule(s.IDGenerator(), st.CaseID, attempt, time.Now())
		if _, err := s.Store.AcquireFollowupSlot(ctx, sched); err != nil {
			return graph.NodeResult[State]{Err: fmt.Errorf("schedule followup for case %s: %w", st.CaseID, err)}
		}
		return graph.NodeResult[State]{}
	}
}
