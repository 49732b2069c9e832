package model

import "testing"

func TestStepKind_String(t *testing.T) {
	cases := map[StepKind]string{
		StepCreateServer:          "CreateServer",
		StepDeleteServer:          "DeleteServer",
		StepAddToLoadBalancer:     "AddToLoadBalancer",
		StepChangeLoadBalancerNode: "ChangeLoadBalancerNode",
		StepRemoveFromLoadBalancer: "RemoveFromLoadBalancer",
		StepAddToRCv3Pool:         "AddToRCv3Pool",
		StepRemoveFromRCv3Pool:    "RemoveFromRCv3Pool",
		StepKind(99):              "Unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("StepKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestPlan_CountKindAndEmpty(t *testing.T) {
	p := Plan{}
	if !p.IsEmpty() || p.Len() != 0 {
		t.Fatal("expected a zero-value Plan to be empty")
	}

	p.Steps = []Step{
		{Kind: StepCreateServer},
		{Kind: StepCreateServer},
		{Kind: StepDeleteServer},
	}
	if p.IsEmpty() {
		t.Fatal("expected a non-empty plan")
	}
	if p.Len() != 3 {
		t.Errorf("Len() = %d, want 3", p.Len())
	}
	if p.CountKind(StepCreateServer) != 2 {
		t.Errorf("CountKind(CreateServer) = %d, want 2", p.CountKind(StepCreateServer))
	}
	if p.CountKind(StepAddToRCv3Pool) != 0 {
		t.Errorf("CountKind(AddToRCv3Pool) = %d, want 0", p.CountKind(StepAddToRCv3Pool))
	}
}
