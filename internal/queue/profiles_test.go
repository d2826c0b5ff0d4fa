package queue

import (
	"testing"
	"time"
)

func TestProfileAttemptCounts(t *testing.T) {
	cases := map[string]int{
		QueueAgent:      1,
		QueueEmail:      5,
		QueueAnalysis:   3,
		QueueGeneration: 3,
		QueuePortal:     2,
	}
	for queue, want := range cases {
		got := Profiles[queue].MaxAttempts
		if got != want {
			t.Errorf("Profiles[%s].MaxAttempts = %d, want %d", queue, got, want)
		}
	}
}

func TestExponentialBackoffDoubles(t *testing.T) {
	backoff := exponentialBackoff(5 * time.Second)
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}
	for i, w := range want {
		got := backoff(i + 1)
		if got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestFixedBackoffIsConstant(t *testing.T) {
	backoff := fixedBackoff(60 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := backoff(attempt); got != 60*time.Second {
			t.Errorf("backoff(%d) = %v, want 60s", attempt, got)
		}
	}
}

func TestPortalProfileUsesFixedDelay(t *testing.T) {
	got := Profiles[QueuePortal].Backoff(1)
	if got != 60*time.Second {
		t.Errorf("portal backoff(1) = %v, want 60s", got)
	}
	got = Profiles[QueuePortal].Backoff(2)
	if got != 60*time.Second {
		t.Errorf("portal backoff(2) = %v, want 60s", got)
	}
}
