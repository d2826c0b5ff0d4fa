// Package schedule computes due timestamps and scheduled keys for follow-up
// reminders. It has no tick source of its own: the actual firing of a
// due follow-up is driven by internal/runengine.Scheduler polling
// internal/store.Store.DueFollowups, the same time.Ticker idiom
// internal/lock.Manager.RunReaper uses for its own background sweep.
package schedule

import (
	"time"

	"github.com/ShadewG/autobot-engine/internal/domain"
)

// DefaultInterval is the spacing between follow-up attempts absent any
// per-case override.
const DefaultInterval = 7 * 24 * time.Hour

// Policy computes when a case's next follow-up falls due. The zero value
// uses DefaultInterval.
type Policy struct {
	Interval time.Duration
}

func (p Policy) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

// DueAt returns the timestamp a follow-up scheduled at now should fire.
func (p Policy) DueAt(now time.Time) time.Time {
	return now.Add(p.interval())
}

// NextSchedule builds the FollowUpSchedule a case's next reminder slot
// needs, deriving its ScheduledKey from case id, attempt number and due
// date so a double-fire of schedule_followups for the same day is a
// no-op insert rather than a duplicate row (spec's scheduled-follow-up
// idempotency requirement).
func (p Policy) NextSchedule(id, caseID string, attempt int, now time.Time) *domain.FollowUpSchedule {
	due := p.DueAt(now)
	return &domain.FollowUpSchedule{
		ID:           id,
		CaseID:       caseID,
		DueAt:        due,
		Attempt:      attempt,
		ScheduledKey: domain.ScheduledKey(caseID, attempt, due),
	}
}
