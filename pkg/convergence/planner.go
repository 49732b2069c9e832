// Package convergence implements components G and H: the pure planner that
// diffs observed cloud state against desired capacity, and the executor
// that gathers observations, invokes the planner, and dispatches the
// resulting steps.
package convergence

import (
	"sort"
	"time"

	"github.com/wisbric/otter/pkg/model"
)

// DefaultBuildTimeout is the build timeout default from §9's Open Question
// resolution: not specified in source, defaulting to 3600s, configurable.
const DefaultBuildTimeout = 3600 * time.Second

// Converge is the pure function at the heart of component G:
// converge(desired, servers, lbNodes, now) -> Plan. It performs no I/O, and
// reads no clock — now is supplied by the caller so the function is
// trivially deterministic and testable.
func Converge(desired int, servers []model.NovaServer, lbNodes []model.LBNode, rcv3Nodes []model.RCv3Node, now time.Time, launchConfig model.LaunchConfig, buildTimeout time.Duration) model.Plan {
	if buildTimeout <= 0 {
		buildTimeout = DefaultBuildTimeout
	}

	errored, building, active := partition(servers, now, buildTimeout)

	var steps []model.Step

	// Step 2: every errored server is deleted, along with any LB
	// membership addressed at it.
	for _, s := range errored {
		steps = append(steps, model.Step{Kind: model.StepDeleteServer, ServerID: s.ID})
		steps = append(steps, removeLBStepsFor(s, lbNodes)...)
		steps = append(steps, removeRCv3StepsFor(s, rcv3Nodes)...)
	}

	// Step 3: survivors are building + active.
	survivors := append(append([]model.NovaServer(nil), building...), active...)

	if len(survivors) < desired {
		// Step 4: under capacity — create the shortfall.
		for i := 0; i < desired-len(survivors); i++ {
			steps = append(steps, model.Step{Kind: model.StepCreateServer, LaunchConfig: launchConfig})
		}
	}

	toDelete := make(map[string]struct{})
	if len(survivors) > desired {
		// Step 5: over capacity — prefer deleting building servers first
		// (regardless of age), then oldest active servers.
		excess := len(survivors) - desired
		candidates := buildingThenOldestActive(building, active)
		for i := 0; i < excess && i < len(candidates); i++ {
			s := candidates[i]
			toDelete[s.ID] = struct{}{}
			steps = append(steps, model.Step{Kind: model.StepDeleteServer, ServerID: s.ID})
			steps = append(steps, removeLBStepsFor(s, lbNodes)...)
			steps = append(steps, removeRCv3StepsFor(s, rcv3Nodes)...)
		}
	}

	// Step 6: LB diff for active, not-scheduled-for-deletion servers.
	for _, s := range active {
		if _, deleting := toDelete[s.ID]; deleting {
			continue
		}
		steps = append(steps, lbDiffFor(s, lbNodes)...)
		steps = append(steps, rcv3DiffFor(s, rcv3Nodes)...)
	}

	return model.Plan{Steps: steps}
}

func partition(servers []model.NovaServer, now time.Time, buildTimeout time.Duration) (errored, building, active []model.NovaServer) {
	for _, s := range servers {
		switch {
		case s.IsErrored(now, buildTimeout):
			errored = append(errored, s)
		case s.IsBuilding(now, buildTimeout):
			building = append(building, s)
		case s.State == model.ServerActive:
			active = append(active, s)
		}
	}
	return
}

// buildingThenOldestActive orders deletion candidates: all building servers
// first (in input order — §4.G says "regardless of age"), then active
// servers oldest-created first.
func buildingThenOldestActive(building, active []model.NovaServer) []model.NovaServer {
	ordered := append([]model.NovaServer(nil), building...)

	sortedActive := append([]model.NovaServer(nil), active...)
	sort.SliceStable(sortedActive, func(i, j int) bool {
		return sortedActive[i].Created.Before(sortedActive[j].Created)
	})
	ordered = append(ordered, sortedActive...)
	return ordered
}

// removeLBStepsFor emits RemoveFromLoadBalancer for every LBNode whose
// address matches the server's servicenet address. A server with no
// servicenet address contributes no LB steps (edge policy, §4.G).
func removeLBStepsFor(s model.NovaServer, lbNodes []model.LBNode) []model.Step {
	if s.ServicenetAddress == "" {
		return nil
	}
	var steps []model.Step
	for _, n := range lbNodes {
		if n.Address == s.ServicenetAddress {
			steps = append(steps, model.Step{
				Kind:   model.StepRemoveFromLoadBalancer,
				LBID:   n.LBID,
				NodeID: n.NodeID,
			})
		}
	}
	return steps
}

// removeRCv3StepsFor emits RemoveFromRCv3Pool for every RCv3Node membership
// recorded against the server, mirroring removeLBStepsFor for the optional
// RackConnect v3 path (§6).
func removeRCv3StepsFor(s model.NovaServer, rcv3Nodes []model.RCv3Node) []model.Step {
	var steps []model.Step
	for _, n := range rcv3Nodes {
		if n.ServerID == s.ID {
			steps = append(steps, model.Step{Kind: model.StepRemoveFromRCv3Pool, PoolID: n.PoolID, ServerID: s.ID})
		}
	}
	return steps
}

// rcv3DiffFor computes the add/remove steps for one active server's current
// RCv3 pool memberships versus its DesiredRCv3Pools. Unlike classic load
// balancers, RCv3 pool membership has no per-node config to reconcile —
// membership is a plain set.
func rcv3DiffFor(s model.NovaServer, rcv3Nodes []model.RCv3Node) []model.Step {
	current := make(map[string]struct{})
	for _, n := range rcv3Nodes {
		if n.ServerID == s.ID {
			current[n.PoolID] = struct{}{}
		}
	}

	desired := make(map[string]struct{})
	for _, poolID := range s.DesiredRCv3Pools {
		desired[poolID] = struct{}{}
	}

	poolIDs := make([]string, 0, len(desired)+len(current))
	seen := make(map[string]struct{})
	for id := range desired {
		poolIDs = append(poolIDs, id)
		seen[id] = struct{}{}
	}
	for id := range current {
		if _, ok := seen[id]; !ok {
			poolIDs = append(poolIDs, id)
		}
	}
	sort.Strings(poolIDs)

	var steps []model.Step
	for _, poolID := range poolIDs {
		_, wants := desired[poolID]
		_, has := current[poolID]
		switch {
		case wants && !has:
			steps = append(steps, model.Step{Kind: model.StepAddToRCv3Pool, PoolID: poolID, ServerID: s.ID})
		case !wants && has:
			steps = append(steps, model.Step{Kind: model.StepRemoveFromRCv3Pool, PoolID: poolID, ServerID: s.ID})
		}
	}
	return steps
}

// lbDiffFor computes the add/change/remove steps for one active server's
// current LB memberships versus its DesiredLBs.
func lbDiffFor(s model.NovaServer, lbNodes []model.LBNode) []model.Step {
	if s.ServicenetAddress == "" {
		return nil
	}

	current := make(map[string]model.LBNode) // keyed by lbID
	for _, n := range lbNodes {
		if n.Address == s.ServicenetAddress {
			current[n.LBID] = n
		}
	}

	desired := make(map[string]model.LBNodeConfig)
	for _, cfg := range s.DesiredLBs {
		c := cfg
		if c.Weight == 0 {
			c.Weight = model.DefaultLBConfig.Weight
		}
		if c.Condition == "" {
			c.Condition = model.DefaultLBConfig.Condition
		}
		if c.Type == "" {
			c.Type = model.DefaultLBConfig.Type
		}
		desired[cfg.LBID] = c
	}

	var steps []model.Step

	lbIDs := make([]string, 0, len(desired)+len(current))
	seen := make(map[string]struct{})
	for id := range desired {
		lbIDs = append(lbIDs, id)
		seen[id] = struct{}{}
	}
	for id := range current {
		if _, ok := seen[id]; !ok {
			lbIDs = append(lbIDs, id)
		}
	}
	sort.Strings(lbIDs)

	for _, lbID := range lbIDs {
		wantCfg, wants := desired[lbID]
		node, has := current[lbID]

		switch {
		case wants && !has:
			steps = append(steps, model.Step{
				Kind:      model.StepAddToLoadBalancer,
				LBID:      lbID,
				Address:   s.ServicenetAddress,
				Port:      wantCfg.Port,
				Weight:    wantCfg.Weight,
				Condition: wantCfg.Condition,
				Type:      wantCfg.Type,
			})
		case wants && has:
			if node.Config.Weight != wantCfg.Weight || node.Config.Condition != wantCfg.Condition || node.Config.Type != wantCfg.Type {
				steps = append(steps, model.Step{
					Kind:      model.StepChangeLoadBalancerNode,
					LBID:      lbID,
					NodeID:    node.NodeID,
					Weight:    wantCfg.Weight,
					Condition: wantCfg.Condition,
					Type:      wantCfg.Type,
				})
			}
		case !wants && has:
			steps = append(steps, model.Step{
				Kind:   model.StepRemoveFromLoadBalancer,
				LBID:   lbID,
				NodeID: node.NodeID,
			})
		}
	}

	return steps
}
