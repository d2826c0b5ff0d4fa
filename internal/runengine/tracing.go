package runengine

import (
	"context"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer opens one span per job handler invocation, a level above any
// per-node span the graph runtime may open, so node-level spans nest
// naturally under it.
var tracer = otel.Tracer("github.com/ShadewG/autobot-engine/internal/runengine")

// traceRun wraps fn in a span named for the handler, tagged with the
// identifying fields a trace viewer needs to find the matching Run row,
// and records fn's error as the span's status.
func traceRun(ctx context.Context, name, runID, caseID string, trigger domain.TriggerType, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("case.id", caseID),
		attribute.String("run.trigger", string(trigger)),
	))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return err
}
