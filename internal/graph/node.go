// Package graph executes a directed graph of named nodes over a strongly
// typed state record, with reducer-per-field merging, interrupt-and-resume
// semantics, and a pluggable checkpoint store.
package graph

import "context"

// Node is one unit of work in the graph. It receives the accumulated state
// and returns a partial update plus a routing decision.
type Node[S any] interface {
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeResult is the output of one node invocation.
type NodeResult[S any] struct {
	// Delta is merged into the accumulated state via the state's reducers.
	Delta S

	// Route picks the next node explicitly. Leave zero-valued to fall back
	// to the graph's declared edges/router for this node.
	Route Next

	// Interrupt, if non-nil, suspends the run: the runtime writes a
	// checkpoint and returns {status: interrupted} to the caller instead
	// of continuing to Route.
	Interrupt *Interrupt

	// Err halts the run with a FAILED outcome unless the node is covered
	// by a RetryPolicy with attempts remaining.
	Err error
}

// Next names the next node to run after the current one, or marks the run
// terminal. A zero Next (both fields empty, Terminal false) tells the
// runtime to use the graph's declared edge/router for this node instead.
type Next struct {
	To       string
	Terminal bool
}

// Stop terminates the run after the current node.
func Stop() Next { return Next{Terminal: true} }

// Goto routes explicitly to nodeID, overriding declared edges.
func Goto(nodeID string) Next { return Next{To: nodeID} }

func (n Next) isZero() bool { return n.To == "" && !n.Terminal }

// Interrupt is the structured value a gate node raises to suspend a run for
// human input, carried as a distinct return value rather than as a panic or
// error so the runtime's control flow stays a plain switch.
type Interrupt struct {
	// NextNode is fed back into the graph on resume: the runtime resumes
	// execution at this node rather than re-running the node that
	// interrupted.
	NextNode string

	// Value is the opaque payload surfaced to the caller and stored in the
	// checkpoint (e.g. {proposal_id, action_type, pause_reason}).
	Value map[string]any
}

// Command resumes a previously interrupted thread, feeding Resume to the
// node named by the checkpoint's NextNode as if it were that node's input.
type Command struct {
	Resume map[string]any
}

// NodeError carries a node identity alongside the underlying cause.
type NodeError struct {
	NodeID  string
	Message string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

func (e *NodeError) Unwrap() error { return e.Cause }
