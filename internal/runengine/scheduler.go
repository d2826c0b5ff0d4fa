package runengine

import (
	"context"
	"time"

	"github.com/ShadewG/autobot-engine/internal/domain"
	"go.uber.org/zap"
)

// FollowupSource is the slice of internal/store.Store the scheduler polls.
type FollowupSource interface {
	DueFollowups(ctx context.Context) ([]*domain.FollowUpSchedule, error)
}

// FollowupEnqueuer is the slice of internal/queue.Queue the scheduler needs,
// narrowed so tests can substitute a fake without a live River client.
type FollowupEnqueuer interface {
	EnqueueFollowupTriggerRun(ctx context.Context, runID string, sched *domain.FollowUpSchedule) error
}

// Scheduler polls for due follow-up schedules and enqueues a
// run_followup_trigger job for each. It does not mark a schedule completed
// itself; HandleFollowupTrigger does that once the run it kicks off returns,
// so a job lost between enqueue and execution is simply picked up again on
// the next poll.
type Scheduler struct {
	source   FollowupSource
	queue    FollowupEnqueuer
	idGen    func() string
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler builds a Scheduler. interval defaults to 30s if zero.
func NewScheduler(source FollowupSource, queue FollowupEnqueuer, idGen func() string, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		source:   source,
		queue:    queue,
		idGen:    idGen,
		interval: interval,
		logger:   logger.With(zap.String("component", "runengine.scheduler")),
	}
}

// Run blocks, polling every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	due, err := s.source.DueFollowups(ctx)
	if err != nil {
		s.logger.Error("poll due followups failed", zap.Error(err))
		return
	}
	for _, sched := range due {
		runID := s.idGen()
		if err := s.queue.EnqueueFollowupTriggerRun(ctx, runID, sched); err != nil {
			s.logger.Error("enqueue followup trigger failed", zap.String("followup_id", sched.ID), zap.Error(err))
			continue
		}
	}
}
