// Package scheduler implements component D: a per-process timer that
// fans out due ScheduledEvents to policy execution, one bucket at a time,
// exclusively owned per the partitioner (§4.C).
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/wisbric/otter/pkg/coordination"
	"github.com/wisbric/otter/pkg/model"
	"github.com/wisbric/otter/pkg/store"
)

// PolicyExecutor is the subset of §4.F/§4.I the scheduler needs: invoke
// the named policy on a group, under the per-group serialization.
type PolicyExecutor interface {
	ExecutePolicy(ctx context.Context, tenantID, groupID, policyID string) error
}

// Metrics are the Prometheus collectors this package increments.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec   // labels: outcome
	OldestEventAge  *prometheus.GaugeVec     // labels: bucket
}

// Scheduler implements §4.D's tick loop.
type Scheduler struct {
	Events      *store.EventStore
	Partitioner *coordination.Partitioner
	BucketLocks func(bucket string) *coordination.Lock
	Executor    PolicyExecutor
	Interval    time.Duration
	BatchSize   int
	Now         func() time.Time
	Logger      *slog.Logger
	Metrics     *Metrics

	lockTimeout time.Duration
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scheduler) batchSize() int {
	if s.BatchSize <= 0 {
		return 100
	}
	return s.BatchSize
}

func (s *Scheduler) lockAcquireTimeout() time.Duration {
	if s.lockTimeout <= 0 {
		return 3 * time.Second
	}
	return s.lockTimeout
}

// Run performs one tick immediately, then on a time.NewTicker(interval)
// loop until ctx is cancelled — the same run-once-then-ticker shape the
// host uses for its own periodic workers.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger().Info("scheduler loop started", "interval", s.Interval)

	if err := s.Partitioner.Start(ctx); err != nil {
		s.logger().Error("starting partitioner", "error", err)
	}

	if err := s.Tick(ctx); err != nil {
		s.logger().Error("initial scheduler tick", "error", err)
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger().Info("scheduler loop stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger().Error("scheduler tick", "error", err)
			}
		}
	}
}

// Tick implements §4.D steps 1-5 across every bucket owned by this
// instance.
func (s *Scheduler) Tick(ctx context.Context) error {
	if err := s.Partitioner.Tick(ctx); err != nil {
		return err
	}
	if !s.Partitioner.IsAcquired() {
		return nil
	}

	for _, bucket := range s.Partitioner.OwnedBuckets() {
		if err := s.tickBucket(ctx, bucket); err != nil {
			s.logger().Error("processing scheduler bucket", "bucket", bucket, "error", err)
		}
	}
	return nil
}

// tickBucket implements steps 2-5 for a single bucket: fetch-and-delete
// under the bucket lock, execute each event, re-add cron successors, and
// drain (loop immediately) if the batch was full.
func (s *Scheduler) tickBucket(ctx context.Context, bucket string) error {
	lock := s.BucketLocks(bucket)
	if err := lock.Acquire(ctx, s.lockAcquireTimeout()); err != nil {
		var busy *model.BusyLockError
		var timeout *model.LockTimeoutError
		if errors.As(err, &busy) || errors.As(err, &timeout) {
			return nil // another instance owns this bucket right now; retry next tick.
		}
		return err
	}
	defer lock.Release(ctx)

	for {
		now := s.now()
		events, err := s.Events.FetchAndDelete(ctx, bucket, now, s.batchSize())
		if err != nil {
			return err
		}
		if len(events) == 0 {
			break
		}

		deleted := make(map[string]struct{})
		for _, ev := range events {
			outcome := s.executeOne(ctx, ev)
			if outcome == outcomeDeleted {
				deleted[ev.PolicyID] = struct{}{}
			}
		}

		for _, ev := range events {
			if ev.Cron == "" {
				continue
			}
			if _, gone := deleted[ev.PolicyID]; gone {
				continue
			}
			next, err := nextCronOccurrence(ev.Cron, now)
			if err != nil {
				s.logger().Warn("computing next cron occurrence", "policy_id", ev.PolicyID, "error", err)
				continue
			}
			successor := ev
			successor.Trigger = next
			if err := s.Events.Insert(ctx, successor); err != nil {
				s.logger().Error("inserting cron successor event", "policy_id", ev.PolicyID, "error", err)
			}
		}

		if len(events) < s.batchSize() {
			break // not a full batch: done for this tick.
		}
		// Drain: a full batch means more may be due right now.
	}

	return nil
}

type executeOutcome int

const (
	outcomeOK executeOutcome = iota
	outcomeDeleted
	outcomeFailed
)

// executeOne implements §4.D step 3: invoke policy execution, swallowing
// NoSuchScalingGroup/NoSuchPolicy as a "deleted" marker so cron re-add is
// skipped for that policy.
func (s *Scheduler) executeOne(ctx context.Context, ev model.ScheduledEvent) executeOutcome {
	err := s.Executor.ExecutePolicy(ctx, ev.TenantID, ev.GroupID, ev.PolicyID)
	s.observe(err)

	if err == nil {
		return outcomeOK
	}

	var noGroup *model.NoSuchScalingGroupError
	var noPolicy *model.NoSuchPolicyError
	if errors.As(err, &noGroup) || errors.As(err, &noPolicy) {
		return outcomeDeleted
	}

	s.logger().Error("executing scheduled policy",
		"tenant_id", ev.TenantID, "group_id", ev.GroupID, "policy_id", ev.PolicyID, "error", err)
	return outcomeFailed
}

func (s *Scheduler) observe(err error) {
	if s.Metrics == nil || s.Metrics.EventsProcessed == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.Metrics.EventsProcessed.WithLabelValues(outcome).Inc()
}

// nextCronOccurrence computes the next fire time strictly after now for a
// standard 5-field cron expression, using robfig/cron/v3's parser in
// place of the original's hand-rolled cron evaluator (§2B).
func nextCronOccurrence(expr string, now time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now).UTC(), nil
}

// HealthCheck implements §6's scheduler health probe: unhealthy if any
// owned bucket's oldest due event is older than threshold.
func (s *Scheduler) HealthCheck(ctx context.Context, threshold time.Duration) (bool, map[string]any) {
	detail := make(map[string]any)
	healthy := true
	now := s.now()

	for _, bucket := range s.Partitioner.OwnedBuckets() {
		oldest, ok, err := s.Events.OldestTrigger(ctx, bucket)
		if err != nil || !ok {
			continue
		}
		age := now.Sub(oldest)
		detail[bucket+"_oldest_age_seconds"] = age.Seconds()
		if s.Metrics != nil && s.Metrics.OldestEventAge != nil {
			s.Metrics.OldestEventAge.WithLabelValues(bucket).Set(age.Seconds())
		}
		if age > threshold {
			healthy = false
		}
	}

	detail["acquired"] = s.Partitioner.IsAcquired()
	return healthy, detail
}
