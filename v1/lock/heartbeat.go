package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/mirkobrombin/go-tiercache/v1/adapter"
	tierrors "github.com/mirkobrombin/go-tiercache/v1/errors"
	"github.com/mirkobrombin/go-tiercache/v1/logging"
	"github.com/mirkobrombin/go-tiercache/v1/metrics"
)

// ErrTaskCanceled is the cause attached to a task context stopped by Cancel.
// Actions can tell it apart from their parent context ending through
// context.Cause.
var ErrTaskCanceled = errors.New("lock: task canceled")

const maxCancelAttempts = 5

type task struct {
	runID   string
	started time.Time
}

// RunWithHeartbeat runs action unless another process already runs taskKey.
// See RunWithHeartbeatStatus.
func (c *Coordinator) RunWithHeartbeat(ctx context.Context, taskKey string, ttl, interval time.Duration, action func(context.Context) error) error {
	_, err := c.RunWithHeartbeatStatus(ctx, taskKey, ttl, interval, action)
	return err
}

// RunWithHeartbeatStatus writes a Running sentinel for taskKey with ttl and
// runs action while a heartbeat refreshes it every interval. started is
// false when a sentinel already exists; action is not run then.
//
// Each heartbeat checks the sentinel before refreshing it. A Canceled sentinel cancels the
// context handed to action, with ErrTaskCanceled as cause, so a Cancel call
// takes effect within one interval. Such a cancellation is a normal end:
// an action returning context.Canceled or ErrTaskCanceled yields a nil
// error. The sentinel is removed when action returns, whatever the outcome.
func (c *Coordinator) RunWithHeartbeatStatus(ctx context.Context, taskKey string, ttl, interval time.Duration, action func(context.Context) error) (started bool, err error) {
	if ttl <= 0 || interval <= 0 {
		return false, fmt.Errorf("%w: ttl %s, heartbeat interval %s", tierrors.ErrInvalidTTL, ttl, interval)
	}
	if interval >= ttl {
		return false, fmt.Errorf("%w: heartbeat interval %s must be shorter than ttl %s", tierrors.ErrInvalidTTL, interval, ttl)
	}

	runID, err := uuid.GenerateUUID()
	if err != nil {
		return false, err
	}
	key := c.key(taskKey)
	value, err := newSentinel(StateRunning, runID, ttl).encode()
	if err != nil {
		return false, err
	}
	ok, err := c.setIfAbsent(ctx, key, value, ttl)
	if err != nil {
		return false, fmt.Errorf("lock: start task %s: %w", taskKey, err)
	}
	if !ok {
		c.log.Debug("task already running", logging.Fields{"task": taskKey})
		return false, nil
	}

	c.tasks.Store(taskKey, &task{runID: runID, started: time.Now()})
	metrics.RunningTasksGauge.Inc()

	taskCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(taskCtx, stop, cancel, taskKey, runID, value, ttl, interval)
	}()

	defer func() {
		close(stop)
		wg.Wait()
		cancel(nil)
		c.finish(context.WithoutCancel(ctx), taskKey, runID)
		c.tasks.Delete(taskKey)
		metrics.RunningTasksGauge.Dec()
	}()

	err = action(taskCtx)
	if err != nil && errors.Is(context.Cause(taskCtx), ErrTaskCanceled) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, ErrTaskCanceled)) {
		c.log.Info("task canceled", logging.Fields{"task": taskKey})
		err = nil
	}
	return true, err
}

// heartbeat refreshes the sentinel every interval. On stores implementing
// adapter.Swapper the refresh only replaces the value written by the
// previous tick, so a concurrent Cancel is never overwritten. Otherwise, or
// when the swap misses, the sentinel is read and inspected first.
func (c *Coordinator) heartbeat(ctx context.Context, stop <-chan struct{}, cancel context.CancelCauseFunc, taskKey, runID, current string, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	key := c.key(taskKey)
	storeCtx := context.WithoutCancel(ctx)
	swapper, canSwap := c.store.(adapter.Swapper)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		metrics.HeartbeatCounter.Inc()

		fresh, err := newSentinel(StateRunning, runID, ttl).encode()
		if err != nil {
			c.log.Error("heartbeat encode failed", logging.Fields{"task": taskKey, "error": err})
			continue
		}
		if canSwap {
			swapped, err := swapper.CompareAndSwap(storeCtx, key, current, fresh, ttl)
			if err != nil {
				c.log.Warn("heartbeat write failed", logging.Fields{"task": taskKey, "error": err})
				continue
			}
			if swapped {
				current = fresh
				continue
			}
		}

		raw, exists, err := c.store.GetString(storeCtx, key)
		if err != nil {
			c.log.Warn("heartbeat read failed", logging.Fields{"task": taskKey, "error": err})
			continue
		}
		if !exists {
			// The sentinel expired under us; claim it again unless someone
			// else already has.
			ok, err := c.setIfAbsent(storeCtx, key, fresh, ttl)
			if err != nil {
				c.log.Warn("heartbeat write failed", logging.Fields{"task": taskKey, "error": err})
			} else if ok {
				current = fresh
			}
			continue
		}
		s, err := decodeSentinel(raw)
		switch {
		case err != nil:
			c.log.Warn("heartbeat found corrupt sentinel, rewriting", logging.Fields{"task": taskKey, "error": err})
		case s.State == StateCanceled:
			metrics.CancelCounter.Inc()
			cancel(ErrTaskCanceled)
			return
		case s.Owner != runID:
			c.log.Warn("task sentinel owned by another run, heartbeat stopped", logging.Fields{"task": taskKey, "owner": s.Owner})
			return
		}
		if err := c.store.SetString(storeCtx, key, fresh, ttl); err != nil {
			c.log.Warn("heartbeat write failed", logging.Fields{"task": taskKey, "error": err})
			continue
		}
		current = fresh
	}
}

// finish removes the task sentinel unless another run has taken it over.
func (c *Coordinator) finish(ctx context.Context, taskKey, runID string) {
	key := c.key(taskKey)
	if raw, ok, err := c.store.GetString(ctx, key); err == nil && ok {
		if s, err := decodeSentinel(raw); err == nil && s.Owner != "" && s.Owner != runID {
			return
		}
	}
	if err := c.store.RemoveString(ctx, key); err != nil {
		c.log.Warn("task sentinel removal failed", logging.Fields{"task": taskKey, "error": err})
	}
}

// Cancel marks a running task as Canceled for ttl. The owning process stops
// it at its next heartbeat. It reports false when no task sentinel exists.
// On stores implementing adapter.Swapper the flip only lands on the value
// just read, so a task that ends meanwhile is not left with a stray Canceled
// sentinel.
func (c *Coordinator) Cancel(ctx context.Context, taskKey string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: cancel ttl %s", tierrors.ErrInvalidTTL, ttl)
	}
	key := c.key(taskKey)
	swapper, canSwap := c.store.(adapter.Swapper)
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		raw, ok, err := c.store.GetString(ctx, key)
		if err != nil {
			return false, fmt.Errorf("lock: cancel %s: %w", taskKey, err)
		}
		if !ok {
			return false, nil
		}
		var owner string
		if s, err := decodeSentinel(raw); err == nil {
			if s.State == StateLocked {
				return false, nil
			}
			owner = s.Owner
		}
		value, err := newSentinel(StateCanceled, owner, ttl).encode()
		if err != nil {
			return false, err
		}
		if !canSwap {
			if err := c.store.SetString(ctx, key, value, ttl); err != nil {
				return false, fmt.Errorf("lock: cancel %s: %w", taskKey, err)
			}
			return true, nil
		}
		swapped, err := swapper.CompareAndSwap(ctx, key, raw, value, ttl)
		if err != nil {
			return false, fmt.Errorf("lock: cancel %s: %w", taskKey, err)
		}
		if swapped {
			return true, nil
		}
	}
	return false, fmt.Errorf("lock: cancel %s: sentinel kept changing", taskKey)
}

// IsRunning reports whether a sentinel exists for taskKey in any process.
func (c *Coordinator) IsRunning(ctx context.Context, taskKey string) (bool, error) {
	_, ok, err := c.store.GetString(ctx, c.key(taskKey))
	if err != nil {
		return false, fmt.Errorf("lock: status %s: %w", taskKey, err)
	}
	return ok, nil
}
