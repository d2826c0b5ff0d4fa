// Package runengine implements the Run Engine: it routes dequeued jobs to
// handlers by trigger, wraps each graph invocation in the case lock and a
// wall-clock timeout, and translates the graph's outcome
// (interrupted/completed/failed) into Run and Proposal bookkeeping plus
// collaborator notifications.
package runengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShadewG/autobot-engine/internal/casegraph"
	"github.com/ShadewG/autobot-engine/internal/collaborator"
	"github.com/ShadewG/autobot-engine/internal/domain"
	"github.com/ShadewG/autobot-engine/internal/graph"
	"github.com/ShadewG/autobot-engine/internal/lock"
	"github.com/ShadewG/autobot-engine/internal/runerr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Store is the slice of internal/store.Store the Run Engine needs, beyond
// what internal/lock and internal/casegraph already narrow for themselves.
type Store interface {
	lock.RunStore
	casegraph.CaseStore

	GetRun(ctx context.Context, id string) (*domain.Run, error)
	LatestWaitingRun(ctx context.Context, caseID string) (*domain.Run, error)
	SkipRun(ctx context.Context, id string, reason string) error
	LinkRunProposal(ctx context.Context, runID, proposalID string) error

	GetFollowup(ctx context.Context, id string) (*domain.FollowUpSchedule, error)
	CompleteFollowup(ctx context.Context, id string) error

	ListDeadLetters(ctx context.Context) ([]*domain.DeadLetterEntry, error)
}

// Options configures the Run Engine's own timeouts, distinct from the Lock
// Manager's lease options.
type Options struct {
	// GraphExecutionTimeout bounds one graph invocation. Default 120s.
	GraphExecutionTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.GraphExecutionTimeout == 0 {
		o.GraphExecutionTimeout = 120 * time.Second
	}
	return o
}

// Engine is the Run Engine. It holds the two compiled case graphs (the
// Initial-Request graph handles both the opening request and, via
// State.FollowupAttempt, scheduled reminders; the Inbound-Response graph
// handles inbound messages) plus everything WithCaseLock and the two case
// graphs need.
type Engine struct {
	locks *lock.Manager
	store Store

	requestGraph  *graph.Engine[casegraph.State] // Initial-Request: opening request and follow-up reminders
	inboundGraph  *graph.Engine[casegraph.State] // Inbound-Response

	notifier collaborator.Notifier
	opts     Options
	logger   *zap.Logger

	metrics  *Metrics
	registry *prometheus.Registry
}

// New builds a Run Engine. requestGraph and inboundGraph are the two case
// graphs casegraph.Services.BuildInitialRequest/BuildInboundResponse
// compiled against a shared Checkpoint Store. Each Engine owns its own
// Prometheus registry, reachable through MetricsRegistry for a scrape
// handler.
func New(locks *lock.Manager, store Store, requestGraph, inboundGraph *graph.Engine[casegraph.State], notifier collaborator.Notifier, logger *zap.Logger, opts Options) *Engine {
	registry := prometheus.NewRegistry()
	return &Engine{
		locks:        locks,
		store:        store,
		requestGraph: requestGraph,
		inboundGraph: inboundGraph,
		notifier:     notifier,
		opts:         opts.withDefaults(),
		logger:       logger.With(zap.String("component", "runengine")),
		metrics:      NewMetrics(registry),
		registry:     registry,
	}
}

// MetricsRegistry exposes the Engine's Prometheus registry for a scrape
// handler; internal/app mounts it under cfg.MetricsAddr.
func (e *Engine) MetricsRegistry() *prometheus.Registry {
	return e.registry
}

// HandleInitialRequest runs the run_initial_request handler: start a fresh
// Initial-Request graph thread for a case that has not yet sent its opening
// request.
func (e *Engine) HandleInitialRequest(ctx context.Context, runID, caseID string) error {
	return e.runFresh(ctx, runID, caseID, domain.TriggerInitialRequest, "", e.requestGraph, casegraph.State{CaseID: caseID})
}

// HandleInboundMessage runs the run_inbound_message handler: classify and
// react to one inbound message. Runs observe domain.Message.ProcessedRunID to
// stay idempotent against redelivery, preserving the "at most one Run
// processes it" ordering guarantee.
func (e *Engine) HandleInboundMessage(ctx context.Context, runID, caseID, messageID string) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("runengine: load message %s: %w", messageID, err)
	}
	if msg.ProcessedRunID != "" {
		return e.skip(ctx, runID, caseID, domain.TriggerInboundMessage, "already_processed")
	}
	return e.runFresh(ctx, runID, caseID, domain.TriggerInboundMessage, messageID, e.inboundGraph, casegraph.State{CaseID: caseID, MessageID: messageID})
}

// HandleFollowupTrigger runs the run_followup_trigger handler: a scheduled
// reminder re-enters the Initial-Request graph with FollowupAttempt set so
// draft_initial_request drafts SEND_FOLLOWUP instead of
// SEND_INITIAL_REQUEST.
func (e *Engine) HandleFollowupTrigger(ctx context.Context, runID, caseID, followupID string) error {
	sched, err := e.store.GetFollowup(ctx, followupID)
	if err != nil {
		return fmt.Errorf("runengine: load followup %s: %w", followupID, err)
	}
	if sched.Paused || sched.Completed {
		return e.skip(ctx, runID, caseID, domain.TriggerScheduledFollowup, "followup_inactive")
	}
	err = e.runFresh(ctx, runID, caseID, domain.TriggerScheduledFollowup, "", e.requestGraph, casegraph.State{CaseID: caseID, FollowupAttempt: sched.Attempt})
	if err != nil {
		return err
	}
	return e.store.CompleteFollowup(ctx, followupID)
}

// HandleResumeRun runs the resume_run handler: deliver a human decision to
// whichever case graph is waiting at gate_or_execute. The precondition
// check runs before the case lock is ever attempted, since a SKIP here
// needs no serialization with anything.
func (e *Engine) HandleResumeRun(ctx context.Context, runID, caseID, proposalID, decision, note string) error {
	endRun := e.metrics.beginRun()
	defer endRun()

	return traceRun(ctx, "runengine."+string(domain.TriggerResume), runID, caseID, domain.TriggerResume, func(ctx context.Context) error {
		skip, reason, err := e.resumePrecondition(ctx, proposalID)
		if err != nil {
			return fmt.Errorf("runengine: resume precondition for proposal %s: %w", proposalID, err)
		}
		if skip {
			err := e.skip(ctx, runID, caseID, domain.TriggerResume, reason)
			e.metrics.recordOutcome(string(domain.TriggerResume), outcomeLabel(true, err))
			return err
		}

		waiting, err := e.store.LatestWaitingRun(ctx, caseID)
		if err != nil {
			return fmt.Errorf("runengine: find waiting run for case %s: %w", caseID, err)
		}
		if waiting == nil || waiting.ThreadID == "" {
			err := e.skip(ctx, runID, caseID, domain.TriggerResume, "no_waiting_run")
			e.metrics.recordOutcome(string(domain.TriggerResume), outcomeLabel(true, err))
			return err
		}

		g := e.graphFor(waiting.TriggerType)
		resumeCmd := graph.Command{Resume: map[string]any{"decision": decision, "note": note}}

		lockRequestedAt := time.Now()
		outcome, err := e.locks.WithCaseLock(ctx, caseID, runID, waiting.ID, domain.TriggerResume, func(ctx context.Context, runID string) (lock.BodyResult, error) {
			e.metrics.observeLockWait(time.Since(lockRequestedAt))
			ctx, cancel := context.WithTimeout(ctx, e.opts.GraphExecutionTimeout)
			defer cancel()
			result, err := g.Resume(ctx, waiting.ThreadID, resumeCmd)
			return e.finishRun(ctx, runID, caseID, proposalID, result, err)
		})
		err = e.reportOutcome(ctx, runID, caseID, domain.TriggerResume, outcome, err)
		e.metrics.recordOutcome(string(domain.TriggerResume), outcomeLabel(outcome.Skipped, err))
		return err
	})
}

// graphFor maps the trigger type that originally created a waiting run back
// to the graph that must resume it.
func (e *Engine) graphFor(trigger domain.TriggerType) *graph.Engine[casegraph.State] {
	if trigger == domain.TriggerInboundMessage {
		return e.inboundGraph
	}
	return e.requestGraph
}

func (e *Engine) runFresh(ctx context.Context, runID, caseID string, trigger domain.TriggerType, messageID string, g *graph.Engine[casegraph.State], initial casegraph.State) error {
	endRun := e.metrics.beginRun()
	defer endRun()

	return traceRun(ctx, "runengine."+string(trigger), runID, caseID, trigger, func(ctx context.Context) error {
		lockRequestedAt := time.Now()
		outcome, err := e.locks.WithCaseLock(ctx, caseID, runID, "", trigger, func(ctx context.Context, runID string) (lock.BodyResult, error) {
			e.metrics.observeLockWait(time.Since(lockRequestedAt))
			ctx, cancel := context.WithTimeout(ctx, e.opts.GraphExecutionTimeout)
			defer cancel()
			ctx = casegraph.ContextWithRunID(ctx, runID)
			result, err := g.Invoke(ctx, runID, initial)
			return e.finishRun(ctx, runID, caseID, "", result, err)
		})
		err = e.reportOutcome(ctx, runID, caseID, trigger, outcome, err)
		e.metrics.recordOutcome(string(trigger), outcomeLabel(outcome.Skipped, err))
		return err
	})
}

// PollDeadLetterDepth blocks, refreshing the dead_letter_depth gauge every
// interval until ctx is cancelled, mirroring Scheduler.Run's poll loop.
// interval defaults to 30s if zero.
func (e *Engine) PollDeadLetterDepth(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			open, err := e.store.ListDeadLetters(ctx)
			if err != nil {
				e.logger.Warn("dead letter depth poll failed", zap.Error(err))
				continue
			}
			e.metrics.setDLQDepth(len(open))
		}
	}
}

// finishRun translates one graph Invoke/Resume call into a BodyResult and
// applies the proposal-linking and notification side effects. The error
// it returns (if any) is what WithCaseLock uses to mark the Run FAILED:
// either the invocation's own error or, for a StatusFailed result, that
// result's Err (prefixed graph_execution_timeout when the deadline
// expired). Interrupted and completed results return a nil error, so the
// Run lands WAITING or COMPLETED.
func (e *Engine) finishRun(ctx context.Context, runID, caseID, fallbackProposalID string, result graph.Result[casegraph.State], invokeErr error) (lock.BodyResult, error) {
	if invokeErr != nil {
		return lock.BodyResult{}, fmt.Errorf("graph invocation: %w", invokeErr)
	}

	proposalID := result.State.ProposalID
	if proposalID == "" {
		proposalID = fallbackProposalID
	}
	if proposalID != "" {
		if err := e.store.LinkRunProposal(ctx, runID, proposalID); err != nil {
			e.logger.Warn("failed to link run to proposal", zap.String("run_id", runID), zap.String("proposal_id", proposalID), zap.Error(err))
		}
	}

	switch result.Status {
	case graph.StatusInterrupted:
		e.notify(ctx, collaborator.EventCaseNeedsReview, caseID, runID, "", "", fmt.Sprintf("case %s needs review", caseID))
		return lock.BodyResult{Interrupted: true, NodeTrace: result.NodeTrace, InterruptValue: result.InterruptValue}, nil

	case graph.StatusCompleted:
		return lock.BodyResult{Completed: true, NodeTrace: result.NodeTrace}, nil

	default: // graph.StatusFailed
		failErr := result.Err
		if errors.Is(failErr, context.DeadlineExceeded) {
			failErr = fmt.Errorf("graph_execution_timeout: %w", failErr)
		}
		return lock.BodyResult{}, failErr
	}
}

func (e *Engine) reportOutcome(ctx context.Context, runID, caseID string, trigger domain.TriggerType, outcome lock.Outcome, err error) error {
	if err != nil {
		var re *runerr.Error
		if errors.As(err, &re) && re.Kind == runerr.KindLockUnavailable {
			return e.skip(ctx, runID, caseID, trigger, "lock_unavailable")
		}
		e.notify(ctx, collaborator.EventRunFailed, caseID, runID, "", "", err.Error())
		return err
	}
	if outcome.Skipped {
		e.logger.Info("run skipped", zap.String("case_id", caseID), zap.String("reason", outcome.SkipReason))
		return e.skip(ctx, runID, caseID, trigger, outcome.SkipReason)
	}
	return nil
}

// skip records a Run row that never got to execute, e.g. because its lock
// was contended or its RESUME precondition failed. trigger must still be
// supplied even for a pre-lock skip since the runs table's trigger_type
// column is not nullable.
func (e *Engine) skip(ctx context.Context, runID, caseID string, trigger domain.TriggerType, reason string) error {
	if runID == "" {
		e.logger.Info("run skipped before creation", zap.String("case_id", caseID), zap.String("reason", reason))
		return nil
	}
	if err := e.store.InsertRun(ctx, &domain.Run{ID: runID, CaseID: caseID, TriggerType: trigger, Status: domain.RunCreated}); err != nil {
		e.logger.Warn("failed to record skipped run", zap.String("run_id", runID), zap.Error(err))
	}
	if err := e.store.SkipRun(ctx, runID, reason); err != nil {
		return fmt.Errorf("runengine: skip run %s: %w", runID, err)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, event collaborator.NotificationEvent, caseID, runID, queue, jobName, message string) {
	err := e.notifier.Notify(ctx, collaborator.Notification{
		Event:   event,
		CaseID:  caseID,
		RunID:   runID,
		Queue:   queue,
		JobName: jobName,
		Message: message,
	})
	if err != nil {
		e.logger.Warn("notifier failed", zap.String("event", string(event)), zap.String("case_id", caseID), zap.Error(err))
	}
}

// resumePrecondition reports whether a RESUME job should be SKIPPED
// because its target proposal is already terminal, or already has an
// execution that is not in a terminal state itself (a prior attempt is
// still being dispatched).
func (e *Engine) resumePrecondition(ctx context.Context, proposalID string) (skip bool, reason string, err error) {
	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return false, "", err
	}
	if proposal.Status.IsTerminal() {
		return true, "proposal_terminal", nil
	}
	if proposal.ExecutionKey == "" {
		return false, "", nil
	}
	execution, err := e.store.GetExecutionByKey(ctx, proposal.ExecutionKey)
	if err != nil {
		return false, "", err
	}
	if execution.Status == domain.ExecutionPending {
		return true, "execution_in_flight", nil
	}
	return false, "", nil
}
