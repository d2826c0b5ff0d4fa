package graph

import (
	"context"
	"testing"

	"github.com/ShadewG/autobot-engine/internal/graph/store"
)

type testState struct {
	Steps    []string `graph:"append_if_new"`
	Approved bool
	Retries  int
}

func buildLinearEngine(t *testing.T, checkpoints store.Store) *Engine[testState] {
	t.Helper()

	b := NewBuilder[testState]().
		Add("a", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			return NodeResult[testState]{Delta: testState{Steps: []string{"a"}}, Route: Goto("b")}
		})).
		Add("b", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			return NodeResult[testState]{Delta: testState{Steps: []string{"b"}}, Route: Stop()}
		})).
		StartAt("a")

	engine, err := b.Compile(checkpoints, Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return engine
}

func TestInvokeRunsToCompletion(t *testing.T) {
	engine := buildLinearEngine(t, store.NewMemStore())

	result, err := engine.Invoke(context.Background(), "thread-1", testState{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("Status = %v, want %v", result.Status, StatusCompleted)
	}
	if len(result.State.Steps) != 2 || result.State.Steps[0] != "a" || result.State.Steps[1] != "b" {
		t.Errorf("Steps = %v, want [a b]", result.State.Steps)
	}
}

func TestInterruptAndResume(t *testing.T) {
	checkpoints := store.NewMemStore()

	b := NewBuilder[testState]().
		Add("gate", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			if resume, ok := ResumeValue(ctx); ok {
				approved, _ := resume["approve"].(bool)
				return NodeResult[testState]{Delta: testState{Approved: approved}, Route: Stop()}
			}
			return NodeResult[testState]{
				Interrupt: &Interrupt{NextNode: "gate", Value: map[string]any{"reason": "needs_human"}},
			}
		})).
		StartAt("gate")

	engine, err := b.Compile(checkpoints, Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	result, err := engine.Invoke(context.Background(), "thread-2", testState{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Status != StatusInterrupted {
		t.Fatalf("Status = %v, want %v", result.Status, StatusInterrupted)
	}
	if result.InterruptValue["reason"] != "needs_human" {
		t.Errorf("InterruptValue = %v", result.InterruptValue)
	}

	resumed, err := engine.Resume(context.Background(), "thread-2", Command{Resume: map[string]any{"approve": true}})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != StatusCompleted {
		t.Fatalf("Status = %v, want %v", resumed.Status, StatusCompleted)
	}
	if !resumed.State.Approved {
		t.Error("expected Approved=true after resume")
	}
}

func TestResumeWithoutInterruptFails(t *testing.T) {
	engine := buildLinearEngine(t, store.NewMemStore())

	if _, err := engine.Invoke(context.Background(), "thread-3", testState{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	_, err := engine.Resume(context.Background(), "thread-3", Command{})
	if err != ErrNotInterrupted {
		t.Errorf("err = %v, want %v", err, ErrNotInterrupted)
	}
}

func TestBoundedConditionalIteration(t *testing.T) {
	b := NewBuilder[testState]().
		Add("loop", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			return NodeResult[testState]{Delta: testState{Retries: s.Retries + 1}}
		})).
		Connect("loop", "loop", func(s testState) bool { return true }).
		StartAt("loop")

	engine, err := b.Compile(store.NewMemStore(), Options{MaxConditionalIterations: 3})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	result, err := engine.Invoke(context.Background(), "thread-4", testState{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("Status = %v, want %v", result.Status, StatusFailed)
	}
	if result.Err != ErrMaxIterationsExceeded {
		t.Errorf("Err = %v, want %v", result.Err, ErrMaxIterationsExceeded)
	}
}

func TestRouterRejectsUnknownDestination(t *testing.T) {
	b := NewBuilder[testState]().
		Add("start", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			return NodeResult[testState]{}
		})).
		Add("known", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			return NodeResult[testState]{Delta: testState{Steps: []string{"known"}}, Route: Stop()}
		})).
		AddRouter(Router[testState]{
			NodeID: "start",
			Dests:  map[string]bool{"known": true},
			Decide: func(s testState) string { return "not_declared" },
		}).
		StartAt("start")

	engine, err := b.Compile(store.NewMemStore(), Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	result, err := engine.Invoke(context.Background(), "thread-5", testState{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("Status = %v, want %v (unknown route should end the run, not crash)", result.Status, StatusCompleted)
	}
	if len(result.State.Steps) != 0 {
		t.Errorf("expected router to stop rather than reach 'known', got Steps = %v", result.State.Steps)
	}
}
