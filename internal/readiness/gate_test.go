package readiness

import (
	"context"
	"testing"
	"time"

	logx "chartbot/pkg/logx"
)

func TestGateRequiresBothFlags(t *testing.T) {
	t.Parallel()
	g := NewGate(logx.Nop())
	if g.Ready() {
		t.Fatal("fresh gate must not be ready")
	}
	g.SetCachesPrimed()
	if g.Ready() {
		t.Fatal("caches alone must not make the gate ready")
	}
	g.SetSessionUp()
	if !g.Ready() {
		t.Fatal("both flags set, gate should be ready")
	}
	g.SetSessionDown()
	if g.Ready() {
		t.Fatal("session down should clear readiness")
	}
}

func TestWaitBlocksUntilReady(t *testing.T) {
	t.Parallel()
	g := NewGate(logx.Nop()).WithPollInterval(5 * time.Millisecond)
	g.SetCachesPrimed()

	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned before the session flag was set")
	case <-time.After(30 * time.Millisecond):
	}

	g.SetSessionUp()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after readiness")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()
	g := NewGate(logx.Nop()).WithPollInterval(5 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); err == nil {
		t.Fatal("Wait on a never-ready gate must fail once ctx is done")
	}
}

func TestWaitFastPath(t *testing.T) {
	t.Parallel()
	g := NewGate(logx.Nop()) // default 60s poll would stall a non-fast path
	g.SetCachesPrimed()
	g.SetSessionUp()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait should return immediately when already ready: %v", err)
	}
}
