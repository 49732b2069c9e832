// Package controller implements component F: cooldown enforcement and
// desired-capacity arithmetic for a single policy execution.
package controller

import (
	"math"
	"time"

	"github.com/wisbric/otter/pkg/model"
)

// MaxEntitiesHardCap is the absolute ceiling on a group's effective max,
// regardless of what the tenant configures, per §3's invariant.
const MaxEntitiesHardCap = 25

// Clock returns the current instant; overridable in tests. Production
// callers use RealClock, which always renders UTC.
type Clock func() time.Time

// RealClock is the default Clock, matching the "UTC Zulu" convention
// carried through this codebase (§2C).
func RealClock() time.Time { return time.Now().UTC() }

// Controller implements §4.F's maybeExecute and the pause/resume
// operations promoted from stubs in §2C. It holds no state of its own:
// every call receives the group and policy to act on and returns the
// updated GroupState for the caller (§4.I's modifyAndTrigger) to persist.
type Controller struct {
	Now          Clock
	MaxEntities  int // defaults to MaxEntitiesHardCap when zero.
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return RealClock()
}

func (c *Controller) hardCap() int {
	if c.MaxEntities <= 0 {
		return MaxEntitiesHardCap
	}
	return c.MaxEntities
}

// MaybeExecute implements §4.F steps 1-6. The caller has already loaded
// policy/group/state and resolved any version check (step 1) before
// calling this — Controller is pure arithmetic plus the cooldown clock
// read, so policyVersion mismatches are the caller's responsibility.
//
// A paused group is rejected with CannotExecutePolicyError{Reason: "paused"}.
// On success it returns the new GroupState with desired, policyTouched,
// and groupTouched updated; the caller persists it and fires convergence.
func (c *Controller) MaybeExecute(group model.ScalingGroup, state model.GroupState, policy model.Policy) (model.GroupState, error) {
	if state.Paused {
		return state, &model.CannotExecutePolicyError{
			TenantID: group.TenantID, GroupID: group.GroupID, PolicyID: policy.ID, Reason: "paused",
		}
	}
	if err := c.checkCooldown(group, state, policy); err != nil {
		return state, err
	}

	desired := applyPolicy(state.Desired, policy)
	return c.finish(group, state, policy.ID, desired), nil
}

// ObeyConfigChange implements §4.F's "obeyConfigChange": skip the cooldown
// check and the desired-capacity arithmetic entirely, just reclamp the
// current desired to the (possibly just-changed) config bounds.
func (c *Controller) ObeyConfigChange(group model.ScalingGroup, state model.GroupState) model.GroupState {
	state.Desired = clamp(state.Desired, group.Config.MinEntities, group.Config.EffectiveMax(c.hardCap()))
	return state
}

// Pause implements the promoted-from-stub operation (§2C): flip
// state.paused under the same per-group lock as any other mutation.
// Convergence is never fired directly for this operation — §4.I's caller
// must skip step 5 when dispatching a pause/resume mutation.
func (c *Controller) Pause(state model.GroupState) model.GroupState {
	state.Paused = true
	return state
}

// Resume implements the promoted-from-stub operation (§2C): the inverse
// of Pause, same no-convergence contract.
func (c *Controller) Resume(state model.GroupState) model.GroupState {
	state.Paused = false
	return state
}

// checkCooldown implements §4.F step 3: both the policy-level and the
// group-level cooldown must have elapsed.
func (c *Controller) checkCooldown(group model.ScalingGroup, state model.GroupState, policy model.Policy) error {
	now := c.now()

	if prior, ok := state.PolicyTouched[policy.ID]; ok {
		if now.Sub(prior) < time.Duration(policy.Cooldown)*time.Second {
			return &model.CannotExecutePolicyError{
				TenantID: group.TenantID, GroupID: group.GroupID, PolicyID: policy.ID, Reason: "cooldown",
			}
		}
	}

	if !state.GroupTouched.IsZero() {
		if now.Sub(state.GroupTouched) < group.Config.Cooldown {
			return &model.CannotExecutePolicyError{
				TenantID: group.TenantID, GroupID: group.GroupID, PolicyID: policy.ID, Reason: "cooldown",
			}
		}
	}

	return nil
}

// finish implements §4.F step 5-6: clamp, stamp the touch timestamps.
func (c *Controller) finish(group model.ScalingGroup, state model.GroupState, policyID string, desired int) model.GroupState {
	now := c.now()

	state.Desired = clamp(desired, group.Config.MinEntities, group.Config.EffectiveMax(c.hardCap()))

	if state.PolicyTouched == nil {
		state.PolicyTouched = make(map[string]time.Time)
	}
	state.PolicyTouched[policyID] = now
	state.GroupTouched = now

	return state
}

// applyPolicy implements §4.F step 4's three arithmetic kinds.
func applyPolicy(current int, policy model.Policy) int {
	switch policy.Kind {
	case model.PolicyChange:
		return current + int(policy.Change)
	case model.PolicyChangePercent:
		delta := ceilAwayFromZero(float64(current) * policy.ChangePercent / 100)
		return current + delta
	case model.PolicyDesiredCapacity:
		return int(policy.DesiredCapacity)
	default:
		return current
	}
}

// ceilAwayFromZero implements §4.F step 4's rounding rule: ⌈x⌉ for x > 0,
// ⌊x⌋ for x < 0, with exact .5 rounded away from zero in both directions.
func ceilAwayFromZero(x float64) int {
	if x == 0 {
		return 0
	}
	if x > 0 {
		return int(math.Ceil(x))
	}
	return int(math.Floor(x))
}

// clamp implements §4.F step 5 / §3's invariant.
func clamp(desired, min, max int) int {
	if desired < min {
		return min
	}
	if desired > max {
		return max
	}
	return desired
}
