// Package group implements component I: the per-group "modify-and-trigger"
// serialization that every state mutation in this engine funnels through.
package group

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/otter/pkg/convergence"
	"github.com/wisbric/otter/pkg/coordination"
	"github.com/wisbric/otter/pkg/model"
	"github.com/wisbric/otter/pkg/store"
)

// defaultLockTimeout bounds how long modifyAndTrigger waits to acquire the
// per-group lock before giving up.
const defaultLockTimeout = 5 * time.Second

// Mutation is the fn of §4.I step 3: it receives the loaded group and its
// current state, and returns the new state (this is where §4.F runs).
type Mutation func(group model.ScalingGroup, state model.GroupState) (model.GroupState, error)

// LockFactory builds a per-(tenantID, groupID) coordination lock. Callers
// typically bind this to coordination.NewLock with a Redis client closed
// over, keyed as fmt.Sprintf("otter:group-lock:%s:%s", tenantID, groupID).
type LockFactory func(tenantID, groupID string) *coordination.Lock

// Coordinator implements modifyAndTrigger over a GroupStore and a
// convergence Executor.
type Coordinator struct {
	Groups      *store.GroupStore
	NewLock     LockFactory
	Executor    convergence.Executor
	LockTimeout time.Duration
	Logger      *slog.Logger
}

// NewLockFactory builds a LockFactory bound to a Redis client, keying each
// group's lock path as "otter:group-lock:{tenantID}:{groupID}".
func NewLockFactory(rdb *redis.Client, logger *slog.Logger) LockFactory {
	return func(tenantID, groupID string) *coordination.Lock {
		path := fmt.Sprintf("otter:group-lock:%s:%s", tenantID, groupID)
		return coordination.NewLock(rdb, path, logger)
	}
}

func (c *Coordinator) lockTimeout() time.Duration {
	if c.LockTimeout <= 0 {
		return defaultLockTimeout
	}
	return c.LockTimeout
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// ModifyAndTrigger implements §4.I's modifyAndTrigger:
//  1. acquire the group's coordination lock
//  2. load state
//  3. apply fn
//  4. persist
//  5. fire-and-log convergence, unless fireConvergence is false (the
//     pause/resume operations of §4.F/§2C never fire convergence directly)
//  6. release
//
// The lock is held across the convergence dispatch (not just the state
// mutation): §5 requires convergence requests against the same group to
// never overlap, and the per-group lock is the mechanism that also guards
// TriggerConvergence's background (self-heal/observer) dispatch — releasing
// early here would let the two paths race on the same group.
func (c *Coordinator) ModifyAndTrigger(ctx context.Context, tenantID, groupID string, fn Mutation, fireConvergence bool) (model.GroupState, error) {
	lock := c.NewLock(tenantID, groupID)
	if err := lock.Acquire(ctx, c.lockTimeout()); err != nil {
		return model.GroupState{}, fmt.Errorf("acquiring lock for group %s/%s: %w", tenantID, groupID, err)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			c.logger().Warn("releasing group lock", "tenant_id", tenantID, "group_id", groupID, "error", err)
		}
	}()

	group, err := c.Groups.Load(ctx, tenantID, groupID)
	if err != nil {
		return model.GroupState{}, err
	}

	newState, err := fn(group, group.State)
	if err != nil {
		return model.GroupState{}, err
	}

	if err := c.Groups.SaveState(ctx, tenantID, groupID, newState, group.Status); err != nil {
		return model.GroupState{}, fmt.Errorf("persisting state for group %s/%s: %w", tenantID, groupID, err)
	}

	if !fireConvergence {
		return newState, nil
	}

	group.State = newState
	outcome, err := c.Executor.Converge(ctx, &group)
	if err != nil {
		c.logger().Error("convergence failed after state mutation",
			"tenant_id", tenantID, "group_id", groupID, "error", err)
	} else {
		c.logger().Info("convergence dispatched",
			"tenant_id", tenantID, "group_id", groupID, "outcome", outcome.String())
	}

	return newState, nil
}

// TriggerConvergence implements the background (self-heal/observer)
// convergence path: it acquires the same per-group lock ModifyAndTrigger
// uses before dispatching §4.H, so a self-heal-triggered convergence can
// never overlap a concurrent user-driven scale event on the same group
// (§5, §9's Open-Question resolution). Unlike ModifyAndTrigger it does not
// mutate state first — it loads the group fresh and converges it as-is.
func (c *Coordinator) TriggerConvergence(ctx context.Context, tenantID, groupID string) (convergence.Outcome, error) {
	lock := c.NewLock(tenantID, groupID)
	if err := lock.Acquire(ctx, c.lockTimeout()); err != nil {
		return 0, fmt.Errorf("acquiring lock for group %s/%s: %w", tenantID, groupID, err)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			c.logger().Warn("releasing group lock", "tenant_id", tenantID, "group_id", groupID, "error", err)
		}
	}()

	group, err := c.Groups.Load(ctx, tenantID, groupID)
	if err != nil {
		return 0, err
	}

	return c.Executor.Converge(ctx, &group)
}
