package model

import "testing"

func TestGroupConfig_EffectiveMax(t *testing.T) {
	five := 5
	thirty := 30

	cases := []struct {
		name    string
		max     *int
		hardCap int
		want    int
	}{
		{"nil max falls back to hard cap", nil, 25, 25},
		{"configured max under hard cap wins", &five, 25, 5},
		{"configured max over hard cap is clamped", &thirty, 25, 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := GroupConfig{MaxEntities: tc.max}
			if got := c.EffectiveMax(tc.hardCap); got != tc.want {
				t.Errorf("EffectiveMax() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestLaunchConfig_DesiredLBs(t *testing.T) {
	lc := LaunchConfig{Args: map[string]any{
		"loadBalancers": []any{
			map[string]any{"loadBalancerId": "5", "port": float64(80), "weight": float64(3), "condition": "ENABLED", "type": "PRIMARY"},
			map[string]any{"loadBalancerId": "6", "port": float64(443)},
			map[string]any{"port": float64(80)},       // missing id, skipped
			"not-a-map",                                // wrong shape, skipped
		},
	}}

	got := lc.DesiredLBs()
	if len(got) != 2 {
		t.Fatalf("expected 2 parsed entries, got %d (%+v)", len(got), got)
	}
	if got[0].LBID != "5" || got[0].Port != 80 || got[0].Weight != 3 || got[0].Condition != LBConditionEnabled || got[0].Type != LBTypePrimary {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
	if got[1].LBID != "6" || got[1].Port != 443 {
		t.Errorf("unexpected second entry: %+v", got[1])
	}
}

func TestLaunchConfig_DesiredLBs_AbsentArgs(t *testing.T) {
	if got := (LaunchConfig{}).DesiredLBs(); got != nil {
		t.Errorf("expected nil for absent Args, got %+v", got)
	}
}

func TestLaunchConfig_DesiredRCv3Pools(t *testing.T) {
	lc := LaunchConfig{Args: map[string]any{
		"rackConnect": []any{
			"pool-a",
			map[string]any{"loadBalancerPoolId": "pool-b"},
			map[string]any{"somethingElse": "x"}, // no id, skipped
			42,                                    // wrong shape, skipped
		},
	}}

	got := lc.DesiredRCv3Pools()
	if len(got) != 2 || got[0] != "pool-a" || got[1] != "pool-b" {
		t.Errorf("unexpected pools: %+v", got)
	}
}

func TestNewGroupState_InitializesMaps(t *testing.T) {
	s := NewGroupState()
	if s.Active == nil || s.Pending == nil || s.PolicyTouched == nil {
		t.Fatalf("expected all maps initialized, got %+v", s)
	}
	s.Active["x"] = ActiveServer{ServerID: "x"}
	if len(s.Active) != 1 {
		t.Error("expected Active map to be writable")
	}
}
