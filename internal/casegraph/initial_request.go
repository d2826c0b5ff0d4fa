package casegraph

import (
	"github.com/ShadewG/autobot-engine/internal/graph"
	"github.com/ShadewG/autobot-engine/internal/graph/store"
)

// BuildInitialRequest compiles the graph that opens a case: draft the
// opening records request, gate or auto-send it, then schedule the first
// follow-up. Edges: load_context -> draft_initial_request -> safety_check
// -> gate_or_execute -> (execute_action | commit_state | ADJUST loops
// back to draft_initial_request) -> schedule_followups -> commit_state ->
// END.
func (s *Services) BuildInitialRequest(checkpoints store.Store, opts graph.Options) (*graph.Engine[State], error) {
	b := graph.NewBuilder[State]().
		Add(NodeLoadContext, s.loadContext()).
		Add(NodeDraftInitialRequest, s.draftInitialRequest()).
		Add(NodeSafetyCheck, s.safetyCheckNode()).
		Add(NodeGateOrExecute, s.gateOrExecute(NodeDraftInitialRequest)).
		Add(NodeExecuteAction, s.executeAction()).
		Add(NodeScheduleFollowups, s.scheduleFollowups()).
		Add(NodeCommitState, s.commitState()).
		StartAt(NodeLoadContext).
		Connect(NodeLoadContext, NodeDraftInitialRequest, nil).
		Connect(NodeDraftInitialRequest, NodeSafetyCheck, nil).
		Connect(NodeSafetyCheck, NodeGateOrExecute, nil).
		Connect(NodeExecuteAction, NodeScheduleFollowups, nil).
		Connect(NodeScheduleFollowups, NodeCommitState, nil)

	return b.Compile(checkpoints, opts)
}
