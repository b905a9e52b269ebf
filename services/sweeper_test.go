package services

import (
	"context"
	"testing"
	"time"
)

func TestIdleSweeperEvicts(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	mgr.InitializeSession(ctx, "u1", "s1")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweeper := NewIdleSweeper(mgr, 5*time.Millisecond, time.Nanosecond)
	done := make(chan struct{})
	go func() {
		sweeper.Run(runCtx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for mgr.ResidentCount() > 0 {
		select {
		case <-deadline:
			t.Fatalf("sweeper never evicted the idle session")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop on context cancel")
	}

	// The entry is still re-enterable after idle eviction.
	if ok := mgr.InitializeSession(ctx, "u1", "s1"); !ok {
		t.Fatalf("re-initialize after idle eviction failed")
	}
}

func TestIdleSweeperDefaults(t *testing.T) {
	sweeper := NewIdleSweeper(nil, 0, 0)
	if sweeper.interval != 10*time.Minute {
		t.Fatalf("default interval = %v", sweeper.interval)
	}
	if sweeper.idleThreshold != time.Hour {
		t.Fatalf("default threshold = %v", sweeper.idleThreshold)
	}
}
