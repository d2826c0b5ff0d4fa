package casegraph

import "context"

type runIDKey struct{}

// ContextWithRunID stamps the run id the engine is currently executing
// under, so commit_state can attribute MarkMessageProcessed to it without
// threading RunID through State (State is checkpointed; the run id that
// produced a checkpoint is already known to the caller).
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
