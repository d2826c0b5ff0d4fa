package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/ShadewG/autobot-engine/internal/graph/store"
)

// Options configures an Engine. Zero values fall back to built-in
// defaults.
type Options struct {
	// MaxConditionalIterations bounds how many times any single from->to
	// transition (edge, router or explicit route) may be taken on one
	// thread; the counts are checkpointed, so a Resume continues the counts
	// of the invocation it resumes. Default 5.
	MaxConditionalIterations int

	// WallClockBudget bounds the whole graph invocation. Default 120s.
	WallClockBudget time.Duration

	// DefaultNodeTimeout is used for nodes without a NodePolicy.Timeout.
	// Zero means unlimited.
	DefaultNodeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConditionalIterations == 0 {
		o.MaxConditionalIterations = 5
	}
	if o.WallClockBudget == 0 {
		o.WallClockBudget = 120 * time.Second
	}
	return o
}

// Engine executes a compiled graph definition against a Checkpoint Store.
// It is compiled once per graph definition and reused for every
// invocation.
type Engine[S any] struct {
	nodes    map[string]Node[S]
	policies map[string]*NodePolicy
	edges    map[string][]Edge[S]
	routers  map[string]Router[S]
	start    string

	store store.Store
	opts  Options
}

// Builder assembles a graph definition before Compile freezes it into an
// Engine.
type Builder[S any] struct {
	nodes    map[string]Node[S]
	policies map[string]*NodePolicy
	edges    map[string][]Edge[S]
	routers  map[string]Router[S]
	start    string
}

// NewBuilder starts an empty graph definition.
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{
		nodes:    make(map[string]Node[S]),
		policies: make(map[string]*NodePolicy),
		edges:    make(map[string][]Edge[S]),
		routers:  make(map[string]Router[S]),
	}
}

// Add registers a node under id.
func (b *Builder[S]) Add(id string, node Node[S]) *Builder[S] {
	b.nodes[id] = node
	return b
}

// AddWithPolicy registers a node with a per-node timeout/retry policy.
func (b *Builder[S]) AddWithPolicy(id string, node Node[S], policy *NodePolicy) *Builder[S] {
	b.nodes[id] = node
	b.policies[id] = policy
	return b
}

// StartAt names the entry node.
func (b *Builder[S]) StartAt(id string) *Builder[S] {
	b.start = id
	return b
}

// Connect adds an edge. A nil predicate makes the edge unconditional.
func (b *Builder[S]) Connect(from, to string, when Predicate[S]) *Builder[S] {
	b.edges[from] = append(b.edges[from], Edge[S]{From: from, To: to, When: when})
	return b
}

// AddRouter installs a validating router for a node: any value Decide
// returns outside Dests is treated as unset rather than honored.
func (b *Builder[S]) AddRouter(r Router[S]) *Builder[S] {
	b.routers[r.NodeID] = r
	return b
}

// Compile freezes the definition into an Engine backed by store.
func (b *Builder[S]) Compile(checkpoints store.Store, opts Options) (*Engine[S], error) {
	if b.start == "" {
		return nil, ErrNoStartNode
	}
	if _, ok := b.nodes[b.start]; !ok {
		return nil, fmt.Errorf("%w: start node %q", ErrNoSuchNode, b.start)
	}
	for from, edges := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: edge source %q", ErrNoSuchNode, from)
		}
		for _, e := range edges {
			if _, ok := b.nodes[e.To]; !ok {
				return nil, fmt.Errorf("%w: edge target %q", ErrNoSuchNode, e.To)
			}
		}
	}

	return &Engine[S]{
		nodes:    b.nodes,
		policies: b.policies,
		edges:    b.edges,
		routers:  b.routers,
		start:    b.start,
		store:    checkpoints,
		opts:     opts.withDefaults(),
	}, nil
}

// Status is the terminal shape of one Invoke/Resume call.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Result is what a caller of Invoke/Resume sees.
type Result[S any] struct {
	Status         Status
	State          S
	ThreadID       string
	NodeTrace      []string
	InterruptValue map[string]any
	Err            error
}

// checkpointBlob is the JSON encoding written to the Checkpoint Store.
type checkpointBlob[S any] struct {
	State          S              `json:"state"`
	NextNode       string         `json:"next_node"`
	Interrupted    bool           `json:"interrupted"`
	InterruptValue map[string]any `json:"interrupt_value,omitempty"`
	NodeTrace      []string       `json:"node_trace"`
	Iterations     map[string]int `json:"iterations"`
}

type resumeValueKey struct{}

// ResumeValue extracts the decision a resumed node's caller supplied via
// Command.Resume: the resume path is a plain argument pass rather than an
// out-of-band side channel.
func ResumeValue(ctx context.Context) (map[string]any, bool) {
	v, ok := ctx.Value(resumeValueKey{}).(map[string]any)
	return v, ok
}

// Invoke starts a fresh run on threadID. Two invocations sharing a
// threadID share checkpoint history; distinct threadIDs do not.
func (e *Engine[S]) Invoke(ctx context.Context, threadID string, initial S) (Result[S], error) {
	return e.run(ctx, threadID, initial, e.start, nil, map[string]int{}, nil)
}

// Resume reloads threadID's latest checkpoint, which must be suspended at
// an interrupt, and continues the graph from the node the interrupt named
// as NextNode, feeding cmd.Resume to it.
func (e *Engine[S]) Resume(ctx context.Context, threadID string, cmd Command) (Result[S], error) {
	cp, err := e.store.GetLatest(ctx, threadID)
	if err != nil {
		if err == store.ErrNotFound {
			return Result[S]{}, ErrThreadNotFound
		}
		return Result[S]{}, err
	}

	var blob checkpointBlob[S]
	if err := json.Unmarshal(cp.Blob, &blob); err != nil {
		return Result[S]{}, fmt.Errorf("graph: decode checkpoint for %s: %w", threadID, err)
	}
	if !blob.Interrupted {
		return Result[S]{}, ErrNotInterrupted
	}

	ctx = context.WithValue(ctx, resumeValueKey{}, cmd.Resume)
	return e.run(ctx, threadID, blob.State, blob.NextNode, blob.NodeTrace, blob.Iterations, &cp.Index)
}

func (e *Engine[S]) run(ctx context.Context, threadID string, state S, startNode string, trace []string, iterations map[string]int, lastIndex *int) (Result[S], error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.WallClockBudget)
	defer cancel()

	index := 0
	if lastIndex != nil {
		index = *lastIndex + 1
	}

	current := startNode
	rng := rand.New(rand.NewSource(seedFromThread(threadID)))

	for {
		node, ok := e.nodes[current]
		if !ok {
			return Result[S]{}, fmt.Errorf("%w: %q", ErrNoSuchNode, current)
		}

		result, err := e.runNodeWithRetry(ctx, current, node, state, rng)
		trace = append(trace, current)

		// A resumed decision is only meaningful to the node it was handed to;
		// clear it before the next iteration so a later pass through the same
		// node (e.g. a loop back to current after an ADJUST route) sees no
		// resume value instead of replaying the first one.
		if ctx.Value(resumeValueKey{}) != nil {
			ctx = context.WithValue(ctx, resumeValueKey{}, nil)
		}

		if err != nil {
			return Result[S]{Status: StatusFailed, State: state, ThreadID: threadID, NodeTrace: trace, Err: err}, nil
		}

		state = Merge(state, result.Delta)

		if result.Interrupt != nil {
			blob := checkpointBlob[S]{
				State:          state,
				NextNode:       result.Interrupt.NextNode,
				Interrupted:    true,
				InterruptValue: result.Interrupt.Value,
				NodeTrace:      trace,
				Iterations:     iterations,
			}
			if err := e.checkpoint(ctx, threadID, index, blob); err != nil {
				return Result[S]{}, err
			}
			return Result[S]{
				Status:         StatusInterrupted,
				State:          state,
				ThreadID:       threadID,
				NodeTrace:      trace,
				InterruptValue: result.Interrupt.Value,
			}, nil
		}

		if result.Err != nil {
			return Result[S]{Status: StatusFailed, State: state, ThreadID: threadID, NodeTrace: trace, Err: &NodeError{NodeID: current, Message: "node returned error", Cause: result.Err}}, nil
		}

		blob := checkpointBlob[S]{State: state, NodeTrace: trace, Iterations: iterations}
		if err := e.checkpoint(ctx, threadID, index, blob); err != nil {
			return Result[S]{}, err
		}
		index++

		next, terminal, err := e.nextNode(current, result.Route, state, iterations)
		if err == ErrMaxIterationsExceeded {
			return Result[S]{Status: StatusFailed, State: state, ThreadID: threadID, NodeTrace: trace, Err: err}, nil
		}
		if err != nil {
			return Result[S]{}, err
		}
		if terminal {
			return Result[S]{Status: StatusCompleted, State: state, ThreadID: threadID, NodeTrace: trace}, nil
		}
		current = next

		select {
		case <-ctx.Done():
			return Result[S]{Status: StatusFailed, State: state, ThreadID: threadID, NodeTrace: trace, Err: ctx.Err()}, nil
		default:
		}
	}
}

func (e *Engine[S]) nextNode(current string, route Next, state S, iterations map[string]int) (next string, terminal bool, err error) {
	if !route.isZero() {
		if route.Terminal {
			return "", true, nil
		}
		if _, ok := e.nodes[route.To]; !ok {
			return "", false, fmt.Errorf("%w: explicit route to %q", ErrNoSuchNode, route.To)
		}
		return e.boundIteration(current, route.To, iterations)
	}

	if router, ok := e.routers[current]; ok {
		dest := router.resolve(state)
		if dest == "" {
			return "", true, nil
		}
		return e.boundIteration(current, dest, iterations)
	}

	edges := e.edges[current]
	for _, edge := range edges {
		if edge.When == nil || edge.When(state) {
			return e.boundIteration(current, edge.To, iterations)
		}
	}
	return "", true, nil
}

func (e *Engine[S]) boundIteration(from, to string, iterations map[string]int) (string, bool, error) {
	key := from + "->" + to
	iterations[key]++
	if iterations[key] > e.opts.MaxConditionalIterations {
		return "", false, ErrMaxIterationsExceeded
	}
	return to, false, nil
}

func (e *Engine[S]) runNodeWithRetry(ctx context.Context, nodeID string, node Node[S], state S, rng *rand.Rand) (NodeResult[S], error) {
	policy := e.policies[nodeID]
	timeout := e.opts.DefaultNodeTimeout
	if policy != nil && policy.Timeout > 0 {
		timeout = policy.Timeout
	}

	attempt := 0
	for {
		nodeCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			nodeCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		result := node.Run(nodeCtx, state)
		if cancel != nil {
			cancel()
		}

		if result.Err == nil || policy == nil || policy.RetryPolicy == nil {
			return result, nil
		}
		rp := policy.RetryPolicy
		if attempt+1 >= rp.MaxAttempts || (rp.Retryable != nil && !rp.Retryable(result.Err)) {
			return result, nil
		}

		delay := computeBackoff(attempt, rp.BaseDelay, rp.MaxDelay, rng)
		select {
		case <-ctx.Done():
			return result, nil
		case <-time.After(delay):
		}
		attempt++
	}
}

func (e *Engine[S]) checkpoint(ctx context.Context, threadID string, index int, blob checkpointBlob[S]) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("graph: encode checkpoint: %w", err)
	}
	return e.store.Put(ctx, threadID, index, data)
}

func seedFromThread(threadID string) int64 {
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	for i := 0; i < len(threadID); i++ {
		h ^= uint64(threadID[i])
		h *= 1099511628211 // FNV-1a prime
	}
	return int64(h >> 1) // clear sign bit for a valid rand.Source seed
}
