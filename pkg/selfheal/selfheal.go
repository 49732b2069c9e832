// Package selfheal implements component E: a lock-gated periodic
// convergence trigger across every eligible scaling group, distributing
// triggers across the tick interval rather than firing them all at once.
package selfheal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wisbric/otter/pkg/coordination"
	"github.com/wisbric/otter/pkg/model"
	"github.com/wisbric/otter/pkg/store"
)

// ConvergenceRequester is the subset of §4.H the driver needs: submit a
// convergence request for one group, marked as an on_error-equivalent
// background trigger rather than a user-driven one.
type ConvergenceRequester interface {
	RequestConvergence(ctx context.Context, tenantID, groupID string, onError bool)
}

// Driver implements §4.E's tick/distribute/trigger loop, grounded on the
// host's escalation.Engine tick/processTenant pattern: enumerate, then
// dispatch each independently, logging rather than aborting on a
// per-group error.
type Driver struct {
	Groups     *store.GroupStore
	Lock       *coordination.Lock
	Requester  ConvergenceRequester
	Interval   time.Duration
	Logger     *slog.Logger
	LockWait   time.Duration

	mu              sync.Mutex
	scheduledTimers []*time.Timer
	hasLock         bool
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Driver) lockWait() time.Duration {
	if d.LockWait <= 0 {
		return 3 * time.Second
	}
	return d.LockWait
}

// Run ticks every d.Interval until ctx is cancelled, acquiring the
// self-heal lock on each tick and only proceeding when held.
func (d *Driver) Run(ctx context.Context) {
	d.logger().Info("self-heal loop started", "interval", d.Interval)
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.cancelScheduledCalls()
			d.mu.Lock()
			hasLock := d.hasLock
			d.mu.Unlock()
			if hasLock {
				d.releaseLock(context.Background())
			}
			d.logger().Info("self-heal loop stopped")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick implements §4.E: acquire the lock, enumerate eligible groups,
// distribute their triggers across [0, interval-5s].
func (d *Driver) tick(ctx context.Context) {
	// On restart / each wave, leftover scheduled calls are an invariant
	// violation: cancel_scheduled_calls must succeed before scheduling a
	// new wave.
	if n := d.cancelScheduledCalls(); n > 0 {
		d.logger().Warn("leftover self-heal calls before new wave, forcing reset", "count", n)
	}

	if !d.ensureLock(ctx) {
		return
	}

	groups, err := d.Groups.ListConvergenceEligible(ctx)
	if err != nil {
		d.logger().Error("listing convergence-eligible groups", "error", err)
		d.releaseLock(ctx)
		return
	}

	window := d.Interval - 5*time.Second
	if window < 0 {
		window = 0
	}
	n := len(groups)

	for i, g := range groups {
		offset := time.Duration(0)
		if n > 1 {
			offset = time.Duration(i) * window / time.Duration(n)
		}
		d.scheduleGroup(ctx, g, offset)
	}
}

// ensureLock reports whether this instance holds the self-heal lock,
// reusing the existing claim across ticks rather than re-Acquiring a
// non-reentrant lock every interval (Acquire spawns a new heartbeat
// goroutine and claim sequence number per call). It only calls Acquire
// when this instance does not already hold the lock; a held lock is
// re-validated with IsHeld, and released and re-acquired if lost.
func (d *Driver) ensureLock(ctx context.Context) bool {
	d.mu.Lock()
	hasLock := d.hasLock
	d.mu.Unlock()

	if hasLock {
		held, err := d.Lock.IsHeld(ctx)
		if err == nil && held {
			return true
		}
		d.releaseLock(ctx)
	}

	if err := d.Lock.Acquire(ctx, d.lockWait()); err != nil {
		d.mu.Lock()
		d.hasLock = false
		d.mu.Unlock()
		return false
	}

	d.mu.Lock()
	d.hasLock = true
	d.mu.Unlock()
	return true
}

// scheduleGroup schedules one group's convergence trigger at the given
// offset into the window, per §4.E step 2-3.
func (d *Driver) scheduleGroup(ctx context.Context, g model.ScalingGroup, offset time.Duration) {
	timer := time.AfterFunc(offset, func() {
		d.mu.Lock()
		held := d.hasLock
		d.mu.Unlock()
		if !held {
			return // lock lost mid-interval: outstanding triggers are cancelled.
		}
		if g.Status != model.StatusActive || g.State.Paused {
			return
		}
		d.Requester.RequestConvergence(ctx, g.TenantID, g.GroupID, true)
	})

	d.mu.Lock()
	d.scheduledTimers = append(d.scheduledTimers, timer)
	d.mu.Unlock()
}

// cancelScheduledCalls stops every outstanding scheduled trigger and
// reports how many were still pending, per §4.E's restart invariant.
func (d *Driver) cancelScheduledCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, t := range d.scheduledTimers {
		if t.Stop() {
			n++
		}
	}
	d.scheduledTimers = nil
	return n
}

func (d *Driver) releaseLock(ctx context.Context) {
	if err := d.Lock.Release(ctx); err != nil {
		d.logger().Warn("releasing self-heal lock", "error", err)
	}
	d.mu.Lock()
	d.hasLock = false
	d.mu.Unlock()
}

// HealthCheck implements §4.E's health_check(): reports
// (bool(outstandingCalls), {"has_lock", "scheduled_calls"}), matching the
// original's literal shape rather than an inverted "is healthy" flag.
func (d *Driver) HealthCheck() (bool, map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	scheduledCalls := len(d.scheduledTimers)
	detail := map[string]any{
		"has_lock":        d.hasLock,
		"scheduled_calls": scheduledCalls,
	}
	return scheduledCalls > 0, detail
}
