package queue

import (
	"time"

	"github.com/riverqueue/river/rivertype"
)

// retryPolicy dispatches to the Backoff function of the job's own queue
// profile rather than River's single global default, since each profile
// carries its own schedule (email backs off from 5s, analysis from 10s,
// generation from 15s, portal holds a fixed 60s).
type retryPolicy struct{}

func (retryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	profile, ok := Profiles[job.Queue]
	if !ok {
		return time.Now().Add(30 * time.Second)
	}
	return time.Now().Add(profile.Backoff(job.Attempt))
}
