package runengine

import (
	"context"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/queue"
	"github.com/riverqueue/river"
)

// agentRunWorker dispatches queue.AgentRunArgs to the Run Engine handler for
// its TriggerType, covering run_initial_request and run_inbound_message in
// one River worker since both share a payload shape.
type agentRunWorker struct {
	river.WorkerDefaults[queue.AgentRunArgs]
	engine *Engine
}

func (w *agentRunWorker) Work(ctx context.Context, job *river.Job[queue.AgentRunArgs]) error {
	args := job.Args
	switch domain.TriggerType(args.TriggerType) {
	case domain.TriggerInitialRequest:
		return w.engine.HandleInitialRequest(ctx, args.RunID, args.CaseID)
	case domain.TriggerInboundMessage:
		return w.engine.HandleInboundMessage(ctx, args.RunID, args.CaseID, args.MessageID)
	default:
		return fmt.Errorf("runengine: agent_run job %d: unknown trigger type %q", job.ID, args.TriggerType)
	}
}

// resumeRunWorker delivers a human decision to a case waiting at
// gate_or_execute.
type resumeRunWorker struct {
	river.WorkerDefaults[queue.ResumeRunArgs]
	engine *Engine
}

func (w *resumeRunWorker) Work(ctx context.Context, job *river.Job[queue.ResumeRunArgs]) error {
	args := job.Args
	return w.engine.HandleResumeRun(ctx, args.RunID, args.CaseID, args.ProposalID, args.Decision, args.Note)
}

// followupTriggerWorker fires a scheduled follow-up run.
type followupTriggerWorker struct {
	river.WorkerDefaults[queue.FollowupTriggerArgs]
	engine *Engine
}

func (w *followupTriggerWorker) Work(ctx context.Context, job *river.Job[queue.FollowupTriggerArgs]) error {
	args := job.Args
	return w.engine.HandleFollowupTrigger(ctx, args.RunID, args.CaseID, args.FollowupID)
}

// RegisterWorkers wires the Run Engine's three job kinds into a
// river.Workers bundle, for internal/app to pass into queue.New. These are
// the only workers registered; the email, analysis, generation and portal
// queues have no job kind of their own.
func RegisterWorkers(workers *river.Workers, engine *Engine) error {
	if err := river.AddWorkerSafely(workers, &agentRunWorker{engine: engine}); err != nil {
		return fmt.Errorf("runengine: register agent_run worker: %w", err)
	}
	if err := river.AddWorkerSafely(workers, &resumeRunWorker{engine: engine}); err != nil {
		return fmt.Errorf("runengine: register resume_run worker: %w", err)
	}
	if err := river.AddWorkerSafely(workers, &followupTriggerWorker{engine: engine}); err != nil {
		return fmt.Errorf("runengine: register followup_trigger worker: %w", err)
	}
	return nil
}
