// Package engine wires together components F, G/H, and I into the single
// "execute a policy against a group" and "trigger a background
// convergence" operations that the scheduler and self-heal driver call
// through.
package engine

import (
	"context"
	"log/slog"

	"github.com/wisbric/otter/pkg/controller"
	"github.com/wisbric/otter/pkg/group"
	"github.com/wisbric/otter/pkg/model"
	"github.com/wisbric/otter/pkg/store"
)

// Engine implements scheduler.PolicyExecutor and selfheal.ConvergenceRequester.
// Convergence itself is only ever dispatched through Coordinator, which owns
// the per-group lock that serializes it against concurrent state mutation;
// Engine holds no direct reference to a convergence.Executor or GroupStore.
type Engine struct {
	Coordinator *group.Coordinator
	Controller  *controller.Controller
	Policies    *store.PolicyStore
	Logger      *slog.Logger
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// ExecutePolicy implements §4.F via §4.I for a scheduled or webhook-driven
// policy firing: load the policy, run maybeExecute under the per-group
// lock, persist, and fire convergence.
func (e *Engine) ExecutePolicy(ctx context.Context, tenantID, groupID, policyID string) error {
	policy, err := e.Policies.Load(ctx, tenantID, groupID, policyID)
	if err != nil {
		return err
	}

	_, err = e.Coordinator.ModifyAndTrigger(ctx, tenantID, groupID,
		func(g model.ScalingGroup, state model.GroupState) (model.GroupState, error) {
			return e.Controller.MaybeExecute(g, state, policy)
		},
		true,
	)
	return err
}

// ExecutePolicyVersioned is ExecutePolicy with an optimistic-concurrency
// check against the caller's expected policy version (§4.F step 1).
func (e *Engine) ExecutePolicyVersioned(ctx context.Context, tenantID, groupID, policyID string, expectedVersion int) error {
	policy, err := e.Policies.Load(ctx, tenantID, groupID, policyID)
	if err != nil {
		return err
	}
	if policy.Version != expectedVersion {
		return &model.StalePolicyError{PolicyID: policyID, RequestVersion: expectedVersion, CurrentVersion: policy.Version}
	}

	_, err = e.Coordinator.ModifyAndTrigger(ctx, tenantID, groupID,
		func(g model.ScalingGroup, state model.GroupState) (model.GroupState, error) {
			return e.Controller.MaybeExecute(g, state, policy)
		},
		true,
	)
	return err
}

// Pause implements the §2C-promoted pause operation: mutate state.paused
// under the lock, never firing convergence directly.
func (e *Engine) Pause(ctx context.Context, tenantID, groupID string) error {
	_, err := e.Coordinator.ModifyAndTrigger(ctx, tenantID, groupID,
		func(_ model.ScalingGroup, state model.GroupState) (model.GroupState, error) {
			return e.Controller.Pause(state), nil
		},
		false,
	)
	return err
}

// Resume implements the §2C-promoted resume operation.
func (e *Engine) Resume(ctx context.Context, tenantID, groupID string) error {
	_, err := e.Coordinator.ModifyAndTrigger(ctx, tenantID, groupID,
		func(_ model.ScalingGroup, state model.GroupState) (model.GroupState, error) {
			return e.Controller.Resume(state), nil
		},
		false,
	)
	return err
}

// RequestConvergence implements selfheal.ConvergenceRequester: a
// background-triggered convergence pass with no preceding state mutation.
// It routes through Coordinator.TriggerConvergence so this background
// dispatch serializes with any concurrent user-driven scale event on the
// same group through the same per-group lock ExecutePolicy uses (§5, §9).
func (e *Engine) RequestConvergence(ctx context.Context, tenantID, groupID string, onError bool) {
	outcome, err := e.Coordinator.TriggerConvergence(ctx, tenantID, groupID)
	if err != nil {
		e.logger().Error("self-heal convergence failed",
			"tenant_id", tenantID, "group_id", groupID, "on_error", onError, "error", err)
		return
	}
	e.logger().Info("self-heal convergence dispatched",
		"tenant_id", tenantID, "group_id", groupID, "outcome", outcome.String())
}
