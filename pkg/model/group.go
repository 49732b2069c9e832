// Package model holds the core Otter data types: scaling groups, policies,
// scheduled events, observations, and plans.
package model

import "time"

// GroupStatus is the lifecycle status of a ScalingGroup.
type GroupStatus string

const (
	StatusActive   GroupStatus = "ACTIVE"
	StatusError    GroupStatus = "ERROR"
	StatusDisabled GroupStatus = "DISABLED"
	StatusDeleting GroupStatus = "DELETING"
)

// GroupConfig is the tenant-supplied scaling configuration.
type GroupConfig struct {
	Name         string
	MinEntities  int
	MaxEntities  *int // nil means unbounded, clamped by MaxEntitiesHardCap.
	Cooldown     time.Duration
}

// EffectiveMax returns min(config.MaxEntities, hardCap), per §3's invariant.
func (c GroupConfig) EffectiveMax(hardCap int) int {
	if c.MaxEntities == nil {
		return hardCap
	}
	if *c.MaxEntities < hardCap {
		return *c.MaxEntities
	}
	return hardCap
}

// LaunchConfig is an opaque launch template plus its type tag. Args is the
// launch_server payload as stored: a "server" template plus, optionally, the
// load-balancer and RackConnect v3 pool memberships every server this group
// creates should end up with.
type LaunchConfig struct {
	Type string // always "launch_server" in the in-scope model.
	Args map[string]any
}

// DesiredLBs parses Args["loadBalancers"], the launch_server convention for
// the load-balancer memberships every server of this group should carry.
// Each entry is tolerantly read as a map with "loadBalancerId"/"port" and
// optional "weight"/"condition"/"type" (defaults applied by the planner
// when absent, §4.G edge policy). Malformed or absent entries are skipped.
func (lc LaunchConfig) DesiredLBs() []LBNodeConfig {
	raw, ok := lc.Args["loadBalancers"].([]any)
	if !ok {
		return nil
	}
	var lbs []LBNodeConfig
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		lbID := stringField(entry, "loadBalancerId")
		if lbID == "" {
			continue
		}
		cfg := LBNodeConfig{LBID: lbID, Port: intField(entry, "port")}
		if w := intField(entry, "weight"); w != 0 {
			cfg.Weight = w
		}
		if c := stringField(entry, "condition"); c != "" {
			cfg.Condition = LBCondition(c)
		}
		if t := stringField(entry, "type"); t != "" {
			cfg.Type = LBType(t)
		}
		lbs = append(lbs, cfg)
	}
	return lbs
}

// DesiredRCv3Pools parses Args["rackConnect"], the launch_server convention
// for the RackConnect v3 pool ids every server of this group should join
// (§6, optional path).
func (lc LaunchConfig) DesiredRCv3Pools() []string {
	raw, ok := lc.Args["rackConnect"].([]any)
	if !ok {
		return nil
	}
	var pools []string
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			pools = append(pools, v)
		case map[string]any:
			if id := stringField(v, "loadBalancerPoolId"); id != "" {
				pools = append(pools, id)
			}
		}
	}
	return pools
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64: // json.Unmarshal into any decodes numbers as float64
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// ActiveServer records a server this group currently owns.
type ActiveServer struct {
	ServerID string
	Links    []string
	Created  time.Time
}

// GroupState is the mutable state of a scaling group, mutated only through
// the per-group serialization of §4.I.
type GroupState struct {
	Desired       int
	Active        map[string]ActiveServer
	Pending       map[string]struct{} // outstanding job ids
	PolicyTouched map[string]time.Time
	GroupTouched  time.Time
	Paused        bool
	HeatStack     string // optional orchestration stack link; "" if unset.
}

// NewGroupState returns a zero-value GroupState with initialized maps.
func NewGroupState() GroupState {
	return GroupState{
		Active:        make(map[string]ActiveServer),
		Pending:       make(map[string]struct{}),
		PolicyTouched: make(map[string]time.Time),
	}
}

// ScalingGroup is identified by (TenantID, GroupID).
type ScalingGroup struct {
	TenantID     string
	GroupID      string
	Config       GroupConfig
	LaunchConfig LaunchConfig
	State        GroupState
	Status       GroupStatus

	// KnownLBIDs are the load balancers this group's servers may be
	// registered with; the executor (§4.H) fetches current node
	// membership for each when gathering observations.
	KnownLBIDs []string
}
