package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/wisbric/otter/pkg/model"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func baseGroup(min, max int, cooldown time.Duration) model.ScalingGroup {
	maxEntities := max
	return model.ScalingGroup{
		TenantID: "t1",
		GroupID:  "g1",
		Config: model.GroupConfig{
			Name:        "web",
			MinEntities: min,
			MaxEntities: &maxEntities,
			Cooldown:    cooldown,
		},
	}
}

// Scenario 1: scale up by change.
func TestMaybeExecute_ScaleUpByChange(t *testing.T) {
	c := &Controller{Now: fixedClock(time.Unix(0, 0).UTC())}
	group := baseGroup(1, 10, 0)
	state := model.NewGroupState()
	state.Desired = 1
	policy := model.Policy{ID: "p1", Kind: model.PolicyChange, Change: 2}

	got, err := c.MaybeExecute(group, state, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Desired != 3 {
		t.Fatalf("desired = %d, want 3", got.Desired)
	}
}

// Scenario 5: change-percent rounding.
func TestMaybeExecute_ChangePercentRounding(t *testing.T) {
	c := &Controller{Now: fixedClock(time.Unix(0, 0).UTC())}
	group := baseGroup(0, 100, 0)
	state := model.NewGroupState()
	state.Desired = 3
	policy := model.Policy{ID: "p1", Kind: model.PolicyChangePercent, ChangePercent: 50}

	got, err := c.MaybeExecute(group, state, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Desired != 5 {
		t.Fatalf("desired = %d, want 5", got.Desired)
	}
}

// Scenario 6: cooldown rejection, then success after cooldown elapses.
func TestMaybeExecute_CooldownRejectionThenSuccess(t *testing.T) {
	group := baseGroup(0, 100, 0)
	state := model.NewGroupState()
	state.Desired = 1
	policy := model.Policy{ID: "p", Kind: model.PolicyChange, Change: 1, Cooldown: 60}

	t0 := time.Unix(0, 0).UTC()
	c := &Controller{Now: fixedClock(t0)}
	state, err := c.MaybeExecute(group, state, policy)
	if err != nil {
		t.Fatalf("first call: unexpected error: %v", err)
	}

	c.Now = fixedClock(t0.Add(30 * time.Second))
	before := state
	_, err = c.MaybeExecute(group, state, policy)
	var cannotExecute *model.CannotExecutePolicyError
	if !errors.As(err, &cannotExecute) {
		t.Fatalf("second call at +30s: expected CannotExecutePolicyError, got %v", err)
	}
	if before.Desired != state.Desired {
		t.Fatalf("state mutated on cooldown rejection")
	}

	c.Now = fixedClock(t0.Add(61 * time.Second))
	state, err = c.MaybeExecute(group, state, policy)
	if err != nil {
		t.Fatalf("third call at +61s: unexpected error: %v", err)
	}
	if state.Desired != 3 {
		t.Fatalf("desired = %d, want 3", state.Desired)
	}
}

func TestMaybeExecute_GroupCooldownAppliesAcrossPolicies(t *testing.T) {
	group := baseGroup(0, 100, 60*time.Second)
	state := model.NewGroupState()
	t0 := time.Unix(0, 0).UTC()
	c := &Controller{Now: fixedClock(t0)}

	p1 := model.Policy{ID: "p1", Kind: model.PolicyChange, Change: 1}
	state, err := c.MaybeExecute(group, state, p1)
	if err != nil {
		t.Fatalf("first policy: unexpected error: %v", err)
	}

	p2 := model.Policy{ID: "p2", Kind: model.PolicyChange, Change: 1}
	c.Now = fixedClock(t0.Add(10 * time.Second))
	_, err = c.MaybeExecute(group, state, p2)
	var cannotExecute *model.CannotExecutePolicyError
	if !errors.As(err, &cannotExecute) {
		t.Fatalf("second policy inside group cooldown: expected CannotExecutePolicyError, got %v", err)
	}
}

func TestMaybeExecute_ClampsToMinAndMax(t *testing.T) {
	c := &Controller{Now: fixedClock(time.Unix(0, 0).UTC())}
	group := baseGroup(2, 5, 0)
	state := model.NewGroupState()
	state.Desired = 2

	down := model.Policy{ID: "down", Kind: model.PolicyChange, Change: -10}
	got, err := c.MaybeExecute(group, state, down)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Desired != 2 {
		t.Fatalf("desired = %d, want clamped to min 2", got.Desired)
	}

	up := model.Policy{ID: "up", Kind: model.PolicyChange, Change: 100}
	got, err = c.MaybeExecute(group, got, up)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Desired != 5 {
		t.Fatalf("desired = %d, want clamped to max 5", got.Desired)
	}
}

func TestMaybeExecute_HardCapOverridesConfiguredMax(t *testing.T) {
	c := &Controller{Now: fixedClock(time.Unix(0, 0).UTC())}
	group := baseGroup(0, 1000, 0)
	state := model.NewGroupState()
	state.Desired = 0

	policy := model.Policy{ID: "p", Kind: model.PolicyDesiredCapacity, DesiredCapacity: 1000}
	got, err := c.MaybeExecute(group, state, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Desired != MaxEntitiesHardCap {
		t.Fatalf("desired = %d, want hard cap %d", got.Desired, MaxEntitiesHardCap)
	}
}

func TestPauseResume_NoConvergenceFlag(t *testing.T) {
	c := &Controller{}
	state := model.NewGroupState()

	state = c.Pause(state)
	if !state.Paused {
		t.Fatal("Pause did not set state.Paused")
	}

	state = c.Resume(state)
	if state.Paused {
		t.Fatal("Resume did not clear state.Paused")
	}
}

func TestObeyConfigChange_SkipsCooldownAndArithmetic(t *testing.T) {
	c := &Controller{Now: fixedClock(time.Unix(0, 0).UTC())}
	group := baseGroup(3, 10, time.Hour)
	state := model.NewGroupState()
	state.Desired = 1
	state.GroupTouched = time.Unix(0, 0).UTC() // would fail any cooldown check

	got := c.ObeyConfigChange(group, state)
	if got.Desired != 3 {
		t.Fatalf("desired = %d, want reclamped to min 3", got.Desired)
	}
}

func TestCeilAwayFromZero(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{1.5, 2}, {-1.5, -2}, {0.1, 1}, {-0.1, -1}, {0, 0}, {2.0, 2},
	}
	for _, tc := range cases {
		if got := ceilAwayFromZero(tc.in); got != tc.want {
			t.Errorf("ceilAwayFromZero(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
