package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mirkobrombin/go-tiercache/v1/adapter"
	tierrors "github.com/mirkobrombin/go-tiercache/v1/errors"
	"github.com/mirkobrombin/go-tiercache/v1/lock"
	"github.com/mirkobrombin/go-tiercache/v1/metrics"
)

const (
	taskTTL      = 200 * time.Millisecond
	taskInterval = 10 * time.Millisecond
)

func TestRunWithHeartbeatRemovesSentinel(t *testing.T) {
	c := newCoordinator(adapter.NewMemoryStore())
	ctx := context.Background()
	started, err := c.RunWithHeartbeatStatus(ctx, "import", taskTTL, taskInterval, func(ctx context.Context) error {
		running, err := c.IsRunning(ctx, "import")
		if err != nil || !running {
			t.Errorf("expected task running, got %v err %v", running, err)
		}
		if got := c.LocalTasks(); len(got) != 1 || got[0] != "import" {
			t.Errorf("unexpected local tasks %v", got)
		}
		return nil
	})
	if err != nil || !started {
		t.Fatalf("RunWithHeartbeatStatus: started %v err %v", started, err)
	}
	if running, _ := c.IsRunning(ctx, "import"); running {
		t.Fatal("expected sentinel removed")
	}
	if got := c.LocalTasks(); len(got) != 0 {
		t.Fatalf("expected no local tasks, got %v", got)
	}
}

func TestRunWithHeartbeatKeepsSentinelAlive(t *testing.T) {
	c := newCoordinator(adapter.NewMemoryStore())
	ctx := context.Background()
	ttl := 50 * time.Millisecond
	err := c.RunWithHeartbeat(ctx, "long", ttl, taskInterval, func(ctx context.Context) error {
		time.Sleep(3 * ttl)
		running, err := c.IsRunning(ctx, "long")
		if err != nil || !running {
			t.Errorf("heartbeat should keep the sentinel past its ttl, running %v err %v", running, err)
		}
		s, _, _ := c.Status(ctx, "long")
		if s.State != lock.StateRunning || s.Owner == "" {
			t.Errorf("unexpected sentinel %+v", s)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunWithHeartbeat: %v", err)
	}
}

func TestRunWithHeartbeatSkipsRunningTask(t *testing.T) {
	c := newCoordinator(adapter.NewMemoryStore())
	ctx := context.Background()
	err := c.RunWithHeartbeat(ctx, "sync", taskTTL, taskInterval, func(ctx context.Context) error {
		started, err := c.RunWithHeartbeatStatus(ctx, "sync", taskTTL, taskInterval, func(context.Context) error {
			t.Error("duplicate task must not run")
			return nil
		})
		if err != nil || started {
			t.Errorf("expected duplicate start refused, started %v err %v", started, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunWithHeartbeat: %v", err)
	}
}

func TestCancelStopsTaskWithinInterval(t *testing.T) {
	c := newCoordinator(adapter.NewMemoryStore())
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.CancelCounter)
	const (
		ttl      = time.Second
		interval = 50 * time.Millisecond
		margin   = 25 * time.Millisecond
	)

	running := make(chan struct{})
	stopped := make(chan time.Time, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.RunWithHeartbeat(ctx, "export", ttl, interval, func(ctx context.Context) error {
			close(running)
			<-ctx.Done()
			stopped <- time.Now()
			if !errors.Is(context.Cause(ctx), lock.ErrTaskCanceled) {
				t.Errorf("expected ErrTaskCanceled cause, got %v", context.Cause(ctx))
			}
			return ctx.Err()
		})
	}()
	<-running

	canceledAt := time.Now()
	ok, err := c.Cancel(ctx, "export", ttl)
	if err != nil || !ok {
		t.Fatalf("Cancel: ok %v err %v", ok, err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancellation must not be an error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task did not stop after cancel")
	}
	if d := (<-stopped).Sub(canceledAt); d > interval+margin {
		t.Fatalf("cancel observed after %s", d)
	}
	if running, _ := c.IsRunning(ctx, "export"); running {
		t.Fatal("expected sentinel removed after cancellation")
	}
	if got := testutil.ToFloat64(metrics.CancelCounter); got != before+1 {
		t.Fatalf("expected cancel counter %v, got %v", before+1, got)
	}
}

func TestCancelAcrossCoordinators(t *testing.T) {
	rc, store := newRedisCoordinator(t)
	other := newCoordinator(store)
	ctx := context.Background()

	running := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- rc.RunWithHeartbeat(ctx, "rebuild", taskTTL, taskInterval, func(ctx context.Context) error {
			close(running)
			<-ctx.Done()
			return context.Cause(ctx)
		})
	}()
	<-running

	if ok, err := other.IsRunning(ctx, "rebuild"); err != nil || !ok {
		t.Fatalf("expected task visible from another coordinator, ok %v err %v", ok, err)
	}
	if ok, err := other.Cancel(ctx, "rebuild", taskTTL); err != nil || !ok {
		t.Fatalf("Cancel: ok %v err %v", ok, err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task did not stop after remote cancel")
	}
}

func TestCancelMissingTask(t *testing.T) {
	c := newCoordinator(adapter.NewMemoryStore())
	ok, err := c.Cancel(context.Background(), "nothing", time.Second)
	if err != nil || ok {
		t.Fatalf("expected false for missing task, got %v err %v", ok, err)
	}
}

func TestCancelIgnoresLocks(t *testing.T) {
	c := newCoordinator(adapter.NewMemoryStore())
	ctx := context.Background()
	if _, ok, _ := c.TryLock(ctx, "r", time.Minute); !ok {
		t.Fatal("TryLock failed")
	}
	if ok, err := c.Cancel(ctx, "r", time.Minute); err != nil || ok {
		t.Fatalf("expected lock sentinel untouched, got %v err %v", ok, err)
	}
}

func TestRunWithHeartbeatReturnsActionError(t *testing.T) {
	c := newCoordinator(adapter.NewMemoryStore())
	boom := errors.New("boom")
	err := c.RunWithHeartbeat(context.Background(), "t", taskTTL, taskInterval, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected action error, got %v", err)
	}
	if running, _ := c.IsRunning(context.Background(), "t"); running {
		t.Fatal("expected sentinel removed after failure")
	}
}

func TestRunWithHeartbeatParentCancelIsAnError(t *testing.T) {
	c := newCoordinator(adapter.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	err := c.RunWithHeartbeat(ctx, "t", taskTTL, taskInterval, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if running, _ := c.IsRunning(context.Background(), "t"); running {
		t.Fatal("expected sentinel removed after parent cancel")
	}
}

func TestRunWithHeartbeatValidatesDurations(t *testing.T) {
	c := newCoordinator(adapter.NewMemoryStore())
	noop := func(context.Context) error { return nil }
	for _, tc := range []struct{ ttl, interval time.Duration }{
		{0, time.Second},
		{time.Second, 0},
		{time.Second, time.Second},
	} {
		if err := c.RunWithHeartbeat(context.Background(), "t", tc.ttl, tc.interval, noop); !errors.Is(err, tierrors.ErrInvalidTTL) {
			t.Fatalf("ttl %s interval %s: expected ErrInvalidTTL, got %v", tc.ttl, tc.interval, err)
		}
	}
}

func TestRunWithHeartbeatStartError(t *testing.T) {
	store := &flakyStore{Store: storeOnly{adapter.NewMemoryStore()}}
	store.failSet.Store(true)
	c := newCoordinator(store)
	started, err := c.RunWithHeartbeatStatus(context.Background(), "t", taskTTL, taskInterval, func(context.Context) error {
		t.Error("action must not run")
		return nil
	})
	if started || !errors.Is(err, errUnavailable) {
		t.Fatalf("expected start error, got started %v err %v", started, err)
	}
}

func TestCancelWithPlainStore(t *testing.T) {
	c := newCoordinator(storeOnly{adapter.NewMemoryStore()})
	ctx := context.Background()

	running := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.RunWithHeartbeat(ctx, "plain", taskTTL, taskInterval, func(ctx context.Context) error {
			close(running)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-running

	if ok, err := c.Cancel(ctx, "plain", taskTTL); err != nil || !ok {
		t.Fatalf("Cancel: ok %v err %v", ok, err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task did not stop after cancel")
	}
}
