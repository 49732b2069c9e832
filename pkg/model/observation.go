package model

import "time"

// ServerState is the Nova-reported lifecycle state of a compute server.
type ServerState string

const (
	ServerActive  ServerState = "ACTIVE"
	ServerBuild   ServerState = "BUILD"
	ServerError   ServerState = "ERROR"
	ServerUnknown ServerState = "UNKNOWN"
)

// LBCondition and LBType mirror the load-balancer node config vocabulary.
type LBCondition string
type LBType string

const (
	LBConditionEnabled  LBCondition = "ENABLED"
	LBConditionDisabled LBCondition = "DISABLED"
	LBConditionDraining LBCondition = "DRAINING"

	LBTypePrimary   LBType = "PRIMARY"
	LBTypeSecondary LBType = "SECONDARY"
)

// DefaultLBConfig is the default node configuration applied when a server's
// desired LB membership does not specify one (§4.G edge policy).
var DefaultLBConfig = LBNodeConfig{
	Weight:    1,
	Condition: LBConditionEnabled,
	Type:      LBTypePrimary,
}

// LBNodeConfig is the mutable per-node configuration on a load balancer.
type LBNodeConfig struct {
	LBID      string
	Port      int
	Weight    int
	Condition LBCondition
	Type      LBType
}

// NovaServer is a transient snapshot of one compute server, tagged as
// AS-owned by metadata["rax:auto_scaling_group_id"] == groupId.
type NovaServer struct {
	ID                string
	State             ServerState
	Created           time.Time
	ServicenetAddress string // "" if the server has none yet.
	DesiredLBs        []LBNodeConfig
	DesiredRCv3Pools  []string // RackConnect v3 pool ids this server should belong to.
}

// IsBuilding reports whether the server is still within its build window.
func (s NovaServer) IsBuilding(now time.Time, buildTimeout time.Duration) bool {
	return s.State == ServerBuild && now.Sub(s.Created) < buildTimeout
}

// IsErrored reports whether the server is ERROR, or a BUILD that has
// exceeded buildTimeout (a timed-out build).
func (s NovaServer) IsErrored(now time.Time, buildTimeout time.Duration) bool {
	if s.State == ServerError {
		return true
	}
	return s.State == ServerBuild && now.Sub(s.Created) >= buildTimeout
}

// LBNode is a transient snapshot of one load-balancer node.
type LBNode struct {
	LBID    string
	NodeID  string
	Address string
	Config  LBNodeConfig
}

// RCv3Node is a transient snapshot of one RackConnect v3 load-balancer pool
// membership entry (§6, optional).
type RCv3Node struct {
	PoolID   string
	ServerID string
}
