package convergence

import (
	"testing"
	"time"

	"github.com/wisbric/otter/pkg/model"
)

func epoch(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}

func TestConverge_ScaleUpByChange(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "s0", State: model.ServerActive, Created: epoch(0)},
	}
	plan := Converge(3, servers, nil, nil, epoch(0), model.LaunchConfig{Type: "launch_server"}, DefaultBuildTimeout)

	if got := plan.CountKind(model.StepCreateServer); got != 2 {
		t.Fatalf("expected 2 CreateServer steps, got %d (plan=%+v)", got, plan)
	}
	if got := plan.Len(); got != 2 {
		t.Fatalf("expected plan of exactly 2 steps, got %d", got)
	}
}

func TestConverge_ScaleDownWithLBDetach(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "abc", State: model.ServerActive, Created: epoch(0), ServicenetAddress: "1.1.1.1"},
	}
	lbNodes := []model.LBNode{
		{LBID: "5", NodeID: "3", Address: "1.1.1.1"},
	}
	plan := Converge(0, servers, lbNodes, nil, epoch(100), model.LaunchConfig{}, DefaultBuildTimeout)

	if plan.Len() != 2 {
		t.Fatalf("expected 2 steps, got %d (%+v)", plan.Len(), plan)
	}
	if plan.CountKind(model.StepDeleteServer) != 1 || plan.CountKind(model.StepRemoveFromLoadBalancer) != 1 {
		t.Fatalf("expected one DeleteServer and one RemoveFromLoadBalancer, got %+v", plan)
	}
}

func TestConverge_BuildTimeout(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "slow", State: model.ServerBuild, Created: epoch(0)},
		{ID: "ok", State: model.ServerActive, Created: epoch(0)},
	}
	plan := Converge(2, servers, nil, nil, epoch(3600), model.LaunchConfig{}, DefaultBuildTimeout)

	if plan.CountKind(model.StepDeleteServer) != 1 {
		t.Fatalf("expected 1 DeleteServer, got %+v", plan)
	}
	if plan.CountKind(model.StepCreateServer) != 1 {
		t.Fatalf("expected a replacement CreateServer, got %+v", plan)
	}
}

func TestConverge_TimeoutOverCapacity(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "slow", State: model.ServerBuild, Created: epoch(0)},
		{ID: "ok", State: model.ServerActive, Created: epoch(0)},
		{ID: "new", State: model.ServerActive, Created: epoch(3600)},
	}
	plan := Converge(2, servers, nil, nil, epoch(3600), model.LaunchConfig{}, DefaultBuildTimeout)

	if plan.Len() != 1 {
		t.Fatalf("expected exactly 1 step (no replacement), got %+v", plan)
	}
	if plan.Steps[0].Kind != model.StepDeleteServer || plan.Steps[0].ServerID != "slow" {
		t.Fatalf("expected DeleteServer(slow), got %+v", plan.Steps[0])
	}
}

func TestConverge_Idempotence(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "abc", State: model.ServerActive, Created: epoch(0), ServicenetAddress: "1.1.1.1",
			DesiredLBs: []model.LBNodeConfig{{LBID: "5", Port: 80, Weight: 1, Condition: model.LBConditionEnabled, Type: model.LBTypePrimary}}},
	}
	lbNodes := []model.LBNode{
		{LBID: "5", NodeID: "3", Address: "1.1.1.1", Config: model.LBNodeConfig{Weight: 1, Condition: model.LBConditionEnabled, Type: model.LBTypePrimary}},
	}

	plan := Converge(1, servers, lbNodes, nil, epoch(100), model.LaunchConfig{}, DefaultBuildTimeout)
	if !plan.IsEmpty() {
		t.Fatalf("expected empty plan at fixed point, got %+v", plan)
	}
}

func TestConverge_NoDoubleDelete(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "a", State: model.ServerActive, Created: epoch(0)},
		{ID: "b", State: model.ServerActive, Created: epoch(1)},
		{ID: "c", State: model.ServerActive, Created: epoch(2)},
	}
	plan := Converge(0, servers, nil, nil, epoch(100), model.LaunchConfig{}, DefaultBuildTimeout)

	seen := make(map[string]int)
	for _, s := range plan.Steps {
		if s.Kind == model.StepDeleteServer {
			seen[s.ServerID]++
		}
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("server %s deleted %d times, want 1", id, count)
		}
	}
	if len(seen) != 3 {
		t.Fatalf("expected all 3 servers deleted exactly once, got %v", seen)
	}
}

func TestConverge_PrefersBuildingOverActiveWhenOverCapacity(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "building1", State: model.ServerBuild, Created: epoch(3500)},
		{ID: "active-old", State: model.ServerActive, Created: epoch(0)},
		{ID: "active-new", State: model.ServerActive, Created: epoch(50)},
	}
	plan := Converge(2, servers, nil, nil, epoch(3600), model.LaunchConfig{}, DefaultBuildTimeout)

	if plan.CountKind(model.StepDeleteServer) != 1 {
		t.Fatalf("expected exactly 1 deletion, got %+v", plan)
	}
	if plan.Steps[0].ServerID != "building1" {
		t.Fatalf("expected the building server to be preferred for deletion, got %+v", plan.Steps[0])
	}
}

func TestConverge_BoundedCreation(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "a", State: model.ServerActive, Created: epoch(0)},
	}
	plan := Converge(5, servers, nil, nil, epoch(100), model.LaunchConfig{}, DefaultBuildTimeout)
	if got, want := plan.CountKind(model.StepCreateServer), 4; got != want {
		t.Fatalf("expected %d CreateServer steps (5 desired - 1 healthy survivor), got %d", want, got)
	}
}

func TestConverge_RCv3PoolDiff(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "abc", State: model.ServerActive, Created: epoch(0), DesiredRCv3Pools: []string{"pool-1"}},
	}
	plan := Converge(1, servers, nil, nil, epoch(100), model.LaunchConfig{}, DefaultBuildTimeout)

	if got := plan.CountKind(model.StepAddToRCv3Pool); got != 1 {
		t.Fatalf("expected 1 AddToRCv3Pool step, got %+v", plan)
	}
	if plan.Steps[0].PoolID != "pool-1" || plan.Steps[0].ServerID != "abc" {
		t.Fatalf("unexpected rcv3 step: %+v", plan.Steps[0])
	}
}

func TestConverge_RCv3PoolDiffIdempotent(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "abc", State: model.ServerActive, Created: epoch(0), DesiredRCv3Pools: []string{"pool-1"}},
	}
	rcv3Nodes := []model.RCv3Node{{PoolID: "pool-1", ServerID: "abc"}}
	plan := Converge(1, servers, nil, rcv3Nodes, epoch(100), model.LaunchConfig{}, DefaultBuildTimeout)

	if !plan.IsEmpty() {
		t.Fatalf("expected empty plan at fixed point, got %+v", plan)
	}
}

func TestConverge_RCv3PoolRemovedOnDelete(t *testing.T) {
	servers := []model.NovaServer{
		{ID: "abc", State: model.ServerError, Created: epoch(0)},
	}
	rcv3Nodes := []model.RCv3Node{{PoolID: "pool-1", ServerID: "abc"}}
	plan := Converge(0, servers, nil, rcv3Nodes, epoch(100), model.LaunchConfig{}, DefaultBuildTimeout)

	if got := plan.CountKind(model.StepRemoveFromRCv3Pool); got != 1 {
		t.Fatalf("expected 1 RemoveFromRCv3Pool step, got %+v", plan)
	}
}

func TestConverge_Clamp(t *testing.T) {
	// The planner itself does not clamp (that's §4.F's job); this test
	// documents that the planner always creates exactly up to `desired`
	// regardless of how desired was produced, i.e. it trusts its input.
	plan := Converge(25, nil, nil, nil, epoch(0), model.LaunchConfig{}, DefaultBuildTimeout)
	if got := plan.CountKind(model.StepCreateServer); got != 25 {
		t.Fatalf("expected 25 creates, got %d", got)
	}
}
