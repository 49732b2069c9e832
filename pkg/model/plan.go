package model

// StepKind discriminates the seven step shapes a Plan can contain.
type StepKind int

const (
	StepCreateServer StepKind = iota
	StepDeleteServer
	StepAddToLoadBalancer
	StepChangeLoadBalancerNode
	StepRemoveFromLoadBalancer
	StepAddToRCv3Pool
	StepRemoveFromRCv3Pool
)

func (k StepKind) String() string {
	switch k {
	case StepCreateServer:
		return "CreateServer"
	case StepDeleteServer:
		return "DeleteServer"
	case StepAddToLoadBalancer:
		return "AddToLoadBalancer"
	case StepChangeLoadBalancerNode:
		return "ChangeLoadBalancerNode"
	case StepRemoveFromLoadBalancer:
		return "RemoveFromLoadBalancer"
	case StepAddToRCv3Pool:
		return "AddToRCv3Pool"
	case StepRemoveFromRCv3Pool:
		return "RemoveFromRCv3Pool"
	default:
		return "Unknown"
	}
}

// Step is one corrective action emitted by the convergence planner (§4.G).
// A Plan is an unordered multiset of Steps — step identity ignores emission
// order, so Step deliberately has no sequence number.
type Step struct {
	Kind StepKind

	// CreateServer
	LaunchConfig LaunchConfig

	// DeleteServer / the server side of RackConnect v3 pool steps
	ServerID string

	// Load-balancer steps
	LBID      string
	NodeID    string // set for ChangeLoadBalancerNode / RemoveFromLoadBalancer
	Address   string // set for AddToLoadBalancer
	Port      int
	Weight    int
	Condition LBCondition
	Type      LBType

	// RackConnect v3 pool steps (§6, optional): ServerID identifies the
	// cloud server side of the membership entry.
	PoolID string
}

// Plan is the unordered multiset of steps a convergence pass must execute.
type Plan struct {
	Steps []Step
}

// Len returns the number of steps in the plan.
func (p Plan) Len() int { return len(p.Steps) }

// IsEmpty reports whether the plan has no steps (the idempotence fixed point).
func (p Plan) IsEmpty() bool { return len(p.Steps) == 0 }

// CountKind returns how many steps of the given kind the plan contains.
func (p Plan) CountKind(k StepKind) int {
	n := 0
	for _, s := range p.Steps {
		if s.Kind == k {
			n++
		}
	}
	return n
}
