package convergence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/otter/pkg/cloud"
	"github.com/wisbric/otter/pkg/model"
)

// Outcome is the aggregated result of a convergence pass, per §4.H step 4.
type Outcome int

const (
	Success Outcome = iota
	Retry
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "SUCCESS"
	case Retry:
		return "RETRY"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// worse returns whichever of a, b ranks worse: FAILURE > RETRY > SUCCESS.
func worse(a, b Outcome) Outcome {
	if a > b {
		return a
	}
	return b
}

// AuditLogger is the subset of internal/audit's Writer this package needs.
// The audit record never carries a policy or webhook id, even though the
// triggering context may have one — the original's explicit redaction,
// carried into §2C.
type AuditLogger interface {
	LogConvergence(tenantID, groupID string, delta, capacity int)
}

// Executor is component H's contract; the Heat/orchestration variant (§2C,
// §9) implements the same interface.
type Executor interface {
	Converge(ctx context.Context, group *model.ScalingGroup) (Outcome, error)
}

// Metrics are the Prometheus collectors this package increments, mirroring
// pkg/identity and pkg/scheduler's package-level-counter-plus-All()
// convention.
type Metrics struct {
	OutcomeTotal *prometheus.CounterVec
}

// StandardExecutor is the primary §4.H implementation: gather observations,
// call the planner, dispatch steps against compute/LB/RackConnect.
type StandardExecutor struct {
	Compute      *cloud.ComputeClient
	LoadBalancer *cloud.LoadBalancerClient
	RackConnect  *cloud.RackConnectClient // nil when RCv3 is disabled.
	Audit        AuditLogger
	Logger       *slog.Logger
	BuildTimeout time.Duration
	Now          func() time.Time // overridable for tests; defaults to time.Now.
	Metrics      *Metrics

	// WorkerPoolSize bounds how many step requests may be in flight at
	// once, per §5's bounded worker pool.
	WorkerPoolSize int
}

func (e *StandardExecutor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *StandardExecutor) poolSize() int {
	if e.WorkerPoolSize <= 0 {
		return 10
	}
	return e.WorkerPoolSize
}

// Converge implements §4.H.
func (e *StandardExecutor) Converge(ctx context.Context, group *model.ScalingGroup) (Outcome, error) {
	servers, err := e.Compute.ListGroupServers(ctx, group.TenantID, group.GroupID)
	if err != nil {
		return Failure, fmt.Errorf("gathering servers for group %s: %w", group.GroupID, err)
	}

	desiredLBs := group.LaunchConfig.DesiredLBs()
	desiredRCv3Pools := group.LaunchConfig.DesiredRCv3Pools()
	for i := range servers {
		servers[i].DesiredLBs = desiredLBs
		servers[i].DesiredRCv3Pools = desiredRCv3Pools
	}

	var lbNodes []model.LBNode
	for _, lbID := range group.KnownLBIDs {
		nodes, err := e.LoadBalancer.ListNodes(ctx, group.TenantID, lbID)
		if err != nil {
			return Failure, fmt.Errorf("gathering lb nodes for group %s: %w", group.GroupID, err)
		}
		lbNodes = append(lbNodes, nodes...)
	}

	var rcv3Nodes []model.RCv3Node
	if e.RackConnect != nil {
		serverIDs := make([]string, len(servers))
		for i, s := range servers {
			serverIDs[i] = s.ID
		}
		nodes, err := e.RackConnect.ListNodes(ctx, group.TenantID, serverIDs)
		if err != nil {
			return Failure, fmt.Errorf("gathering rcv3 pool membership for group %s: %w", group.GroupID, err)
		}
		rcv3Nodes = nodes
	}

	before := len(servers)
	plan := Converge(group.State.Desired, servers, lbNodes, rcv3Nodes, e.now(), group.LaunchConfig, e.BuildTimeout)

	outcome := e.dispatch(ctx, group.TenantID, plan)
	if e.Metrics != nil && e.Metrics.OutcomeTotal != nil {
		e.Metrics.OutcomeTotal.WithLabelValues(strings.ToLower(outcome.String())).Inc()
	}

	delta := group.State.Desired - before
	e.audit(group.TenantID, group.GroupID, delta, group.State.Desired)

	return outcome, nil
}

func (e *StandardExecutor) audit(tenantID, groupID string, delta, capacity int) {
	if e.Audit == nil {
		return
	}
	e.Audit.LogConvergence(tenantID, groupID, delta, capacity)
}

// dispatch runs every step in plan concurrently (no intra-plan dependency
// ordering, per §4.H), bounded by the worker pool, and aggregates the
// worst outcome.
func (e *StandardExecutor) dispatch(ctx context.Context, tenantID string, plan model.Plan) Outcome {
	if plan.IsEmpty() {
		return Success
	}

	sem := make(chan struct{}, e.poolSize())
	var wg sync.WaitGroup
	var mu sync.Mutex
	overall := Success

	for _, step := range plan.Steps {
		step := step
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := e.dispatchStep(ctx, tenantID, step)
			o := classify(err)

			mu.Lock()
			overall = worse(overall, o)
			mu.Unlock()

			if err != nil {
				e.logger().Warn("convergence step failed",
					"tenant_id", tenantID, "step", step.Kind.String(), "error", err, "outcome", o.String())
			}
		}()
	}

	wg.Wait()
	return overall
}

func (e *StandardExecutor) dispatchStep(ctx context.Context, tenantID string, step model.Step) error {
	switch step.Kind {
	case model.StepCreateServer:
		return e.Compute.CreateServer(ctx, tenantID, step.LaunchConfig)
	case model.StepDeleteServer:
		return e.Compute.DeleteServer(ctx, tenantID, step.ServerID)
	case model.StepAddToLoadBalancer:
		return e.LoadBalancer.AddToLoadBalancer(ctx, tenantID, step)
	case model.StepChangeLoadBalancerNode:
		return e.LoadBalancer.ChangeLoadBalancerNode(ctx, tenantID, step)
	case model.StepRemoveFromLoadBalancer:
		return e.LoadBalancer.RemoveFromLoadBalancer(ctx, tenantID, step)
	case model.StepAddToRCv3Pool:
		if e.RackConnect == nil {
			return fmt.Errorf("rcv3 step emitted but no RackConnect client configured")
		}
		return e.RackConnect.AddNode(ctx, tenantID, step.PoolID, step.ServerID)
	case model.StepRemoveFromRCv3Pool:
		if e.RackConnect == nil {
			return fmt.Errorf("rcv3 step emitted but no RackConnect client configured")
		}
		return e.RackConnect.RemoveNode(ctx, tenantID, step.PoolID, step.ServerID)
	default:
		return fmt.Errorf("unknown step kind %v", step.Kind)
	}
}

func (e *StandardExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// classify maps a dispatch error to an Outcome: nil is SUCCESS; an
// UpdateInProgress, a BusyLock/LockTimeout, a 429 or 409 APIError, or a
// transport error is RETRY; anything else is FAILURE.
func classify(err error) Outcome {
	if err == nil {
		return Success
	}

	var updateInProgress *model.UpdateInProgressError
	if errors.As(err, &updateInProgress) {
		return Retry
	}
	var busyLock *model.BusyLockError
	if errors.As(err, &busyLock) {
		return Retry
	}
	var lockTimeout *model.LockTimeoutError
	if errors.As(err, &lockTimeout) {
		return Retry
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code == 409 {
			return Retry
		}
		return Failure
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retry
	}

	return Failure
}
