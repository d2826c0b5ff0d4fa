package store

import (
	"context"
	"testing"
)

func TestMemStorePutAndGetLatest(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if err := s.Put(ctx, "case:1", 0, []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "case:1", 1, []byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cp, err := s.GetLatest(ctx, "case:1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if string(cp.Blob) != "second" {
		t.Errorf("Blob = %q, want %q", cp.Blob, "second")
	}
}

func TestMemStoreGetLatestNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.GetLatest(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("err = %v, want %v", err, ErrNotFound)
	}
}

func TestMemStoreIgnoresNonIncreasingIndex(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.Put(ctx, "t", 2, []byte("c"))
	_ = s.Put(ctx, "t", 0, []byte("a"))
	_ = s.Put(ctx, "t", 1, []byte("b"))

	all, err := s.Iter(ctx, "t")
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if len(all) != 1 {
		// Put enforces strictly-increasing index per thread; out-of-order
		// writes after a higher index are no-ops, matching the
		// idempotent-retry contract documented on Store.Put.
		t.Fatalf("len(all) = %d, want 1 (index 2 written first wins)", len(all))
	}
}

func TestMemStoreDeleteByPrefix(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.Put(ctx, "case:1", 0, []byte("x"))
	_ = s.Put(ctx, "case:2", 0, []byte("y"))
	_ = s.Put(ctx, "initial:1", 0, []byte("z"))

	if err := s.DeleteByPrefix(ctx, "case:"); err != nil {
		t.Fatalf("DeleteByPrefix: %v", err)
	}

	if _, err := s.GetLatest(ctx, "case:1"); err != ErrNotFound {
		t.Errorf("case:1 should be deleted, got err = %v", err)
	}
	if _, err := s.GetLatest(ctx, "case:2"); err != ErrNotFound {
		t.Errorf("case:2 should be deleted, got err = %v", err)
	}
	if _, err := s.GetLatest(ctx, "initial:1"); err != nil {
		t.Errorf("initial:1 should survive, got err = %v", err)
	}
}
