package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgryski/go-rendezvous"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// State is the partitioner's membership state machine, per §4.C.
type State int

const (
	StateAllocating State = iota
	StateAcquired
	StateRelease
)

func (s State) String() string {
	switch s {
	case StateAllocating:
		return "ALLOCATING"
	case StateAcquired:
		return "ACQUIRED"
	case StateRelease:
		return "RELEASE"
	default:
		return "UNKNOWN"
	}
}

const (
	membershipPrefix    = "otter:partitioner:member:"
	membershipTTL       = 5 * time.Second
	membershipHeartbeat = 2 * time.Second
)

// Partitioner assigns a finite set of buckets across the live members of a
// named group, re-evaluating on every Tick call. Membership is tracked via
// heartbeated Redis keys (polled, since Redis has no Zookeeper-style
// watch), and bucket ownership is computed with rendezvous hashing
// (github.com/dgryski/go-rendezvous, already an indirect dependency of the
// host through go-redis's own ring client) so that membership changes
// reshuffle only the buckets that must move.
type Partitioner struct {
	rdb      *redis.Client
	group    string
	nodeID   string
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	buckets []string
	owned   map[string]struct{}

	cancel context.CancelFunc
}

// NewPartitioner creates a Partitioner for a named coordination group
// (e.g. "scheduler-buckets"). Its node id is a uuid generated here, so it
// is stable for the lifetime of this Partitioner.
func NewPartitioner(rdb *redis.Client, group string, buckets []string, logger *slog.Logger) *Partitioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Partitioner{
		rdb:     rdb,
		group:   group,
		nodeID:  uuid.New().String(),
		logger:  logger,
		state:   StateAllocating,
		buckets: append([]string(nil), buckets...),
		owned:   make(map[string]struct{}),
	}
}

func (p *Partitioner) membershipKey() string {
	return membershipPrefix + p.group + ":" + p.nodeID
}

// Start begins heartbeating this node's membership and performs an initial
// allocation.
func (p *Partitioner) Start(ctx context.Context) error {
	if err := p.rdb.Set(ctx, p.membershipKey(), p.nodeID, membershipTTL).Err(); err != nil {
		return fmt.Errorf("registering partitioner membership: %w", err)
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.heartbeatLoop(hbCtx)

	return p.Tick(ctx)
}

// Stop releases this node's membership, transitioning through RELEASE
// before going back to ALLOCATING for any future restart.
func (p *Partitioner) Stop(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	p.state = StateRelease
	p.owned = make(map[string]struct{})
	p.mu.Unlock()
	if err := p.rdb.Del(ctx, p.membershipKey()).Err(); err != nil {
		p.logger.Warn("releasing partitioner membership", "group", p.group, "error", err)
	}
	p.mu.Lock()
	p.state = StateAllocating
	p.mu.Unlock()
}

// Tick re-evaluates bucket ownership against current live membership.
// Consumers must call this once per scheduling tick and only act on owned
// buckets when State() == StateAcquired.
func (p *Partitioner) Tick(ctx context.Context) error {
	members, err := p.liveMembers(ctx)
	if err != nil {
		p.mu.Lock()
		p.state = StateAllocating
		p.mu.Unlock()
		return err
	}

	if len(members) == 0 {
		p.mu.Lock()
		p.state = StateAllocating
		p.mu.Unlock()
		return nil
	}

	hash := rendezvous.New(members, fnvHash)

	newOwned := make(map[string]struct{})
	for _, bucket := range p.buckets {
		if hash.Lookup(bucket) == p.nodeID {
			newOwned[bucket] = struct{}{}
		}
	}

	p.mu.Lock()
	p.owned = newOwned
	p.state = StateAcquired
	p.mu.Unlock()
	return nil
}

// State returns the partitioner's current membership state.
func (p *Partitioner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OwnedBuckets returns the buckets currently assigned to this node. Only
// meaningful when State() == StateAcquired.
func (p *Partitioner) OwnedBuckets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	owned := make([]string, 0, len(p.owned))
	for b := range p.owned {
		owned = append(owned, b)
	}
	sort.Strings(owned)
	return owned
}

// IsAcquired reports whether this node currently holds an allocation.
func (p *Partitioner) IsAcquired() bool {
	return p.State() == StateAcquired
}

func (p *Partitioner) liveMembers(ctx context.Context) ([]string, error) {
	keys, err := p.rdb.Keys(ctx, membershipPrefix+p.group+":*").Result()
	if err != nil {
		return nil, fmt.Errorf("listing partitioner membership for %s: %w", p.group, err)
	}
	members := make([]string, 0, len(keys))
	for _, k := range keys {
		id, err := p.rdb.Get(ctx, k).Result()
		if err != nil {
			continue
		}
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}

func (p *Partitioner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(membershipHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.rdb.Set(ctx, p.membershipKey(), p.nodeID, membershipTTL).Err(); err != nil {
				p.logger.Warn("heartbeating partitioner membership", "group", p.group, "error", err)
			}
		}
	}
}

// fnvHash is a simple FNV-1a over the string, matching the
// func(string) uint64 signature rendezvous.New expects (the same shape
// go-redis's ring client feeds it via xxhash.Sum64String).
func fnvHash(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
