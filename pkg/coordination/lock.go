// Package coordination implements component C: a distributed lock and
// bucket partitioner for cluster-wide mutual exclusion.
//
// The original implementation builds on Zookeeper's ephemeral sequential
// children. No Zookeeper, etcd, or consul client exists anywhere in the
// retrieval pack, so this is rebuilt on github.com/redis/go-redis/v9 (the
// host's own coordination-adjacent dependency, already used there for a
// rate limiter and a dedup cache with the same SET-with-TTL/INCR/EXPIRE
// idioms this package reuses): a claim is a sorted-set member with a
// monotonic sequence score, and "ephemeral" is implemented as a
// heartbeated TTL key rather than a session-bound node, reaped lazily
// before every lock-held check.
package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/otter/pkg/model"
)

const (
	defaultHeartbeatTTL = 3 * time.Second
	heartbeatInterval   = 1 * time.Second
	acquirePollInterval = 100 * time.Millisecond
)

// Lock is one named, Redis-backed mutual-exclusion lock. It matches §4.C's
// acquire/release/isHeld contract: the lock is held iff this claim has the
// lowest sequence number among live claims.
type Lock struct {
	rdb          *redis.Client
	path         string
	claimID      string
	heartbeatTTL time.Duration
	logger       *slog.Logger

	cancelHeartbeat context.CancelFunc
}

// NewLock creates a Lock bound to a named path, e.g. "/selfheallock" or a
// per-bucket scheduler lock path.
func NewLock(rdb *redis.Client, path string, logger *slog.Logger) *Lock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{
		rdb:          rdb,
		path:         path,
		claimID:      uuid.New().String(),
		heartbeatTTL: defaultHeartbeatTTL,
		logger:       logger,
	}
}

func (l *Lock) seqKey() string   { return l.path + ":seq" }
func (l *Lock) claimKey(id string) string {
	return fmt.Sprintf("%s:claim:%s", l.path, id)
}

// Acquire creates this lock's claim (the ephemeral sequential child
// equivalent) and polls until it becomes the lowest-sequence live claim or
// timeout elapses.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	seq, err := l.rdb.Incr(ctx, l.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("incrementing lock sequence for %s: %w", l.path, err)
	}

	if err := l.rdb.ZAdd(ctx, l.path, redis.Z{Score: float64(seq), Member: l.claimID}).Err(); err != nil {
		return fmt.Errorf("registering claim for %s: %w", l.path, err)
	}

	if err := l.heartbeatOnce(ctx); err != nil {
		_ = l.rdb.ZRem(ctx, l.path, l.claimID).Err()
		return fmt.Errorf("heartbeating initial claim for %s: %w", l.path, err)
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	l.cancelHeartbeat = cancel
	go l.heartbeatLoop(hbCtx)

	deadline := time.Now().Add(timeout)
	for {
		held, err := l.IsHeld(ctx)
		if err != nil {
			return err
		}
		if held {
			return nil
		}
		if time.Now().After(deadline) {
			cancel()
			_ = l.rdb.ZRem(context.Background(), l.path, l.claimID).Err()
			return &model.LockTimeoutError{LockPath: l.path, Timeout: timeout.String()}
		}
		select {
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Release removes this lock's claim and stops heartbeating it.
func (l *Lock) Release(ctx context.Context) error {
	if l.cancelHeartbeat != nil {
		l.cancelHeartbeat()
		l.cancelHeartbeat = nil
	}
	pipe := l.rdb.Pipeline()
	pipe.ZRem(ctx, l.path, l.claimID)
	pipe.Del(ctx, l.claimKey(l.claimID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("releasing claim for %s: %w", l.path, err)
	}
	return nil
}

// IsHeld reports whether this claim currently has the lowest sequence
// number among live (heartbeated) claims. O(children), matching §4.C.
func (l *Lock) IsHeld(ctx context.Context) (bool, error) {
	members, err := l.liveMembers(ctx)
	if err != nil {
		return false, err
	}
	if len(members) == 0 {
		return false, nil
	}
	return members[0] == l.claimID, nil
}

// liveMembers returns the sorted-set members in ascending sequence order,
// after reaping any whose heartbeat key has expired (a lost session in the
// original's terms).
func (l *Lock) liveMembers(ctx context.Context) ([]string, error) {
	all, err := l.rdb.ZRange(ctx, l.path, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing claims for %s: %w", l.path, err)
	}

	live := make([]string, 0, len(all))
	for _, member := range all {
		exists, err := l.rdb.Exists(ctx, l.claimKey(member)).Result()
		if err != nil {
			return nil, fmt.Errorf("checking claim heartbeat for %s: %w", l.path, err)
		}
		if exists == 0 {
			if err := l.rdb.ZRem(ctx, l.path, member).Err(); err != nil {
				l.logger.Warn("reaping stale claim", "path", l.path, "member", member, "error", err)
			}
			continue
		}
		live = append(live, member)
	}
	return live, nil
}

func (l *Lock) heartbeatOnce(ctx context.Context) error {
	return l.rdb.Set(ctx, l.claimKey(l.claimID), l.claimID, l.heartbeatTTL).Err()
}

func (l *Lock) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.heartbeatOnce(ctx); err != nil {
				l.logger.Warn("heartbeating claim", "path", l.path, "error", err)
			}
		}
	}
}
