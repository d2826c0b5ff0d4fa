package casegraph

import (
	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/graph"
	"github.com/ShadewG/autobot-engine/internal/graph/store"
)

// BuildInboundResponse compiles the graph that reacts to an inbound agency
// message: load_context -> classify_inbound -> update_constraints ->
// decide_next_action routes to draft_response, straight to execute_action
// for a portal redirect, or straight to commit_state for a no-op message;
// draft_response -> safety_check -> gate_or_execute, whose ADJUST
// decision loops back to decide_next_action rather than the draft node
// directly, unlike the Initial-Request graph's ADJUST target.
func (s *Services) BuildInboundResponse(checkpoints store.Store, opts graph.Options) (*graph.Engine[State], error) {
	b := graph.NewBuilder[State]().
		Add(NodeLoadContext, s.loadContext()).
		Add(NodeClassifyInbound, s.classifyInbound()).
		Add(NodeUpdateConstraints, s.updateConstraints()).
		Add(NodeDecideNextAction, s.decideNextActionNode()).
		Add(NodeDraftResponse, s.draftResponse()).
		Add(NodeSafetyCheck, s.safetyCheckNode()).
		Add(NodeGateOrExecute, s.gateOrExecute(NodeDecideNextAction)).
		Add(NodeExecuteAction, s.executeAction()).
		Add(NodeCommitState, s.commitState()).
		StartAt(NodeLoadContext).
		Connect(NodeLoadContext, NodeClassifyInbound, nil).
		Connect(NodeClassifyInbound, NodeUpdateConstraints, nil).
		Connect(NodeUpdateConstraints, NodeDecideNextAction, nil).
		Connect(NodeDraftResponse, NodeSafetyCheck, nil).
		Connect(NodeSafetyCheck, NodeGateOrExecute, nil).
		Connect(NodeExecuteAction, NodeCommitState, nil).
		AddRouter(graph.Router[State]{
			NodeID: NodeDecideNextAction,
			Dests: map[string]bool{
				NodeDraftResponse: true,
				NodeExecuteAction: true,
				NodeGateOrExecute: true,
				NodeCommitState:   true,
			},
			Decide: decideNextActionRoute,
		})

	return b.Compile(checkpoints, opts)
}

// decideNextActionRoute picks decide_next_action's successor: a no-op
// message skips straight to commit_state, a portal redirect needs no
// drafted message and auto-executes immediately, everything else needs a
// drafted message first.
func decideNextActionRoute(st State) string {
	switch st.ActionType {
	case domain.ActionNone:
		return NodeCommitState
	case domain.ActionSubmitPortal:
		return NodeExecuteAction
	default:
		return NodeDraftResponse
	}
}
