// Package queue implements the Job Queue: a River-backed dispatcher with
// one named queue per delivery profile, idempotent job ids via River's
// uniqueness options, and a dead-letter sink for jobs that exhaust their
// profile's retry budget.
package queue

import (
	"math"
	"time"
)

// Profile names one of the five delivery profiles, each its own River
// queue so a backlog in one never head-of-line blocks another (e.g. a
// slow portal submission queue never delays agent classification jobs).
type Profile struct {
	Queue       string
	MaxWorkers  int
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// fixedBackoff returns a constant delay regardless of attempt number, the
// shape the portal profile uses.
func fixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// exponentialBackoff doubles from base on each attempt, the shape the
// email/analysis/generation profiles use, grounded in
// dshills-langgraph-go's graph/policy.go computeBackoff formula.
func exponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base * time.Duration(math.Pow(2, float64(attempt-1)))
	}
}

const (
	QueueAgent      = "agent"
	QueueEmail      = "email"
	QueueAnalysis   = "analysis"
	QueueGeneration = "generation"
	QueuePortal     = "portal"
)

// Profiles is the fixed table of delivery profiles. Worker counts are
// modest defaults; internal/config can override MaxWorkers per queue at
// startup without touching this table's attempt/backoff shape.
var Profiles = map[string]Profile{
	QueueAgent: {
		Queue:       QueueAgent,
		MaxWorkers:  4,
		MaxAttempts: 1,
		Backoff:     fixedBackoff(0),
	},
	QueueEmail: {
		Queue:       QueueEmail,
		MaxWorkers:  4,
		MaxAttempts: 5,
		Backoff:     exponentialBackoff(5 * time.Second),
	},
	QueueAnalysis: {
		Queue:       QueueAnalysis,
		MaxWorkers:  4,
		MaxAttempts: 3,
		Backoff:     exponentialBackoff(10 * time.Second),
	},
	QueueGeneration: {
		Queue:       QueueGeneration,
		MaxWorkers:  2,
		MaxAttempts: 3,
		Backoff:     exponentialBackoff(15 * time.Second),
	},
	QueuePortal: {
		Queue:       QueuePortal,
		MaxWorkers:  2,
		MaxAttempts: 2,
		Backoff:     fixedBackoff(60 * time.Second),
	},
}
