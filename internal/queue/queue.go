package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"
)

// DeadLetterSink persists a job that exhausted its profile's retry budget.
// internal/store.Store satisfies this with InsertDeadLetter.
type DeadLetterSink interface {
	InsertDeadLetter(ctx context.Context, d *domain.DeadLetterEntry) error
}

// Queue wraps a river.Client configured with the five profiles in
// profiles.go, plus a dead-letter hook feeding DeadLetterSink.
type Queue struct {
	client *river.Client[pgx.Tx]
	logger *zap.Logger
}

// New builds the river.Client with one river.QueueConfig per profile and a
// retryPolicy that dispatches backoff by queue name, grounded in
// dmitrymomot-forge's pkg/job WithQueue(name, count) pattern generalized
// from a caller-supplied queue list to the fixed five-profile table.
// workerOverrides replaces a profile's MaxWorkers by name (internal/config's
// ENGINE_QUEUE_<NAME>_WORKERS); a name absent from it keeps the Profiles
// table's default.
func New(pool *pgxpool.Pool, workers *river.Workers, sink DeadLetterSink, logger *zap.Logger, workerOverrides map[string]int) (*Queue, error) {
	logger = logger.With(zap.String("component", "queue"))

	queues := make(map[string]river.QueueConfig, len(Profiles))
	for name, p := range Profiles {
		maxWorkers := p.MaxWorkers
		if n, ok := workerOverrides[name]; ok {
			maxWorkers = n
		}
		queues[name] = river.QueueConfig{MaxWorkers: maxWorkers}
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       queues,
		Workers:      workers,
		RetryPolicy:  retryPolicy{},
		ErrorHandler: &errorHandler{sink: sink, logger: logger},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: new client: %w", err)
	}
	return &Queue{client: client, logger: logger}, nil
}

// Start begins running registered workers. Returns once the client's
// internal startup has completed; workers then run until Stop.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.client.Start(ctx); err != nil {
		return fmt.Errorf("queue: start: %w", err)
	}
	return nil
}

// Stop drains in-flight jobs before returning, the graceful-shutdown half
// of internal/app's reversed teardown order.
func (q *Queue) Stop(ctx context.Context) error {
	if err := q.client.Stop(ctx); err != nil {
		return fmt.Errorf("queue: stop: %w", err)
	}
	return nil
}

// EnqueueAgentRun schedules case-graph execution.
func (q *Queue) EnqueueAgentRun(ctx context.Context, args AgentRunArgs) error {
	return q.insert(ctx, args, args.InsertOpts())
}

// EnqueueFollowupTrigger schedules a follow-up run at the given due time.
func (q *Queue) EnqueueFollowupTrigger(ctx context.Context, args FollowupTriggerArgs, opts river.InsertOpts) error {
	return q.insert(ctx, args, opts)
}

// EnqueueFollowupTriggerRun enqueues a run_followup_trigger job for a
// schedule the scheduler has found due, using the profile's default insert
// options since the schedule is already past its due_at by the time this is
// called.
func (q *Queue) EnqueueFollowupTriggerRun(ctx context.Context, runID string, sched *domain.FollowUpSchedule) error {
	args := FollowupTriggerArgs{RunID: runID, FollowupID: sched.ID, CaseID: sched.CaseID}
	return q.insert(ctx, args, args.InsertOpts())
}

// EnqueueResumeRun schedules delivery of a human decision to a waiting case.
func (q *Queue) EnqueueResumeRun(ctx context.Context, args ResumeRunArgs) error {
	return q.insert(ctx, args, args.InsertOpts())
}

// RetryDeadLetter decodes a dead-lettered job's payload by its recorded
// job name and re-enqueues it on the same queue, the replay half of
// cmd/enginectl's operator workflow. The caller is responsible for
// marking the entry retried in the Persistent Store once this returns
// without error.
func (q *Queue) RetryDeadLetter(ctx context.Context, d *domain.DeadLetterEntry) error {
	switch d.JobName {
	case (AgentRunArgs{}).Kind():
		var args AgentRunArgs
		if err := json.Unmarshal(d.Payload, &args); err != nil {
			return fmt.Errorf("queue: decode %s payload: %w", d.JobName, err)
		}
		return q.insert(ctx, args, args.InsertOpts())
	case (ResumeRunArgs{}).Kind():
		var args ResumeRunArgs
		if err := json.Unmarshal(d.Payload, &args); err != nil {
			return fmt.Errorf("queue: decode %s payload: %w", d.JobName, err)
		}
		return q.insert(ctx, args, args.InsertOpts())
	case (FollowupTriggerArgs{}).Kind():
		var args FollowupTriggerArgs
		if err := json.Unmarshal(d.Payload, &args); err != nil {
			return fmt.Errorf("queue: decode %s payload: %w", d.JobName, err)
		}
		return q.insert(ctx, args, args.InsertOpts())
	default:
		return fmt.Errorf("queue: retry dead letter %s: unknown job name %q", d.ID, d.JobName)
	}
}

func (q *Queue) insert(ctx context.Context, args river.JobArgs, opts river.InsertOpts) error {
	if _, err := q.client.Insert(ctx, args, &opts); err != nil {
		return fmt.Errorf("queue: insert %s: %w", args.Kind(), err)
	}
	return nil
}

// InsertTx enqueues args as part of tx, visible to other workers only once
// tx commits (dmitrymomot-forge's EnqueueTx pattern). No package in this
// module calls it.
func (q *Queue) InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts river.InsertOpts) error {
	if _, err := q.client.InsertTx(ctx, tx, args, &opts); err != nil {
		return fmt.Errorf("queue: insert tx %s: %w", args.Kind(), err)
	}
	return nil
}

// errorHandler writes a job to the dead-letter sink once River has given up
// on it, using River's own river.ErrorHandler hook rather than a bespoke
// retry loop.
type errorHandler struct {
	sink   DeadLetterSink
	logger *zap.Logger
}

func (h *errorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.logger.Warn("job attempt failed",
		zap.String("kind", job.Kind), zap.String("queue", job.Queue),
		zap.Int("attempt", job.Attempt), zap.Int("max_attempts", job.MaxAttempts), zap.Error(err))

	if job.Attempt < job.MaxAttempts {
		return nil
	}

	if sinkErr := h.sink.InsertDeadLetter(ctx, &domain.DeadLetterEntry{
		ID:       fmt.Sprintf("dlq-%d", job.ID),
		Queue:    job.Queue,
		JobName:  job.Kind,
		Payload:  job.EncodedArgs,
		Error:    err.Error(),
		Attempts: job.Attempt,
	}); sinkErr != nil {
		h.logger.Error("failed to record dead letter", zap.Error(sinkErr))
	}
	return nil
}

func (h *errorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.logger.Error("job panicked", zap.String("kind", job.Kind), zap.Any("panic", panicVal), zap.String("trace", trace))
	return nil
}
