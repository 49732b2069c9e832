// Package store is the Postgres-backed persistence layer for scaling
// groups, policies, and scheduled events, matching §6's persisted layout.
// It follows the host's pgx/pgxpool query-and-scan convention (see
// pkg/apikey.Store in the retrieval pack) rather than an ORM.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/otter/pkg/model"
)

// GroupStore persists ScalingGroup rows, matching §6's "scaling_group"
// table.
type GroupStore struct {
	pool *pgxpool.Pool
}

// NewGroupStore creates a GroupStore backed by the given connection pool.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

const groupColumns = `tenant_id, group_id, config, launch, state, status, paused, desired, created_at`

type configDTO struct {
	Name        string `json:"name"`
	MinEntities int    `json:"min_entities"`
	MaxEntities *int   `json:"max_entities"`
	CooldownSec int64  `json:"cooldown_seconds"`
}

type launchDTO struct {
	Type string         `json:"type"`
	Args map[string]any `json:"args"`
}

type stateDTO struct {
	Active        map[string]model.ActiveServer `json:"active"`
	Pending       []string                      `json:"pending"`
	PolicyTouched map[string]time.Time          `json:"policy_touched"`
	GroupTouched  time.Time                     `json:"group_touched"`
	HeatStack     string                        `json:"heat_stack"`
}

func toState(s model.GroupState) stateDTO {
	pending := make([]string, 0, len(s.Pending))
	for id := range s.Pending {
		pending = append(pending, id)
	}
	return stateDTO{
		Active:        s.Active,
		Pending:       pending,
		PolicyTouched: s.PolicyTouched,
		GroupTouched:  s.GroupTouched,
		HeatStack:     s.HeatStack,
	}
}

func fromState(desired int, paused bool, d stateDTO) model.GroupState {
	s := model.NewGroupState()
	s.Desired = desired
	s.Paused = paused
	s.HeatStack = d.HeatStack
	s.GroupTouched = d.GroupTouched
	if d.Active != nil {
		s.Active = d.Active
	}
	if d.PolicyTouched != nil {
		s.PolicyTouched = d.PolicyTouched
	}
	for _, id := range d.Pending {
		s.Pending[id] = struct{}{}
	}
	return s
}

// scanGroupRow scans one scaling_group row.
func scanGroupRow(row pgx.Row) (model.ScalingGroup, error) {
	var (
		g                              model.ScalingGroup
		configRaw, launchRaw, stateRaw []byte
		status                         string
		paused                         bool
		desired                        int
		createdAt                      time.Time
	)

	if err := row.Scan(&g.TenantID, &g.GroupID, &configRaw, &launchRaw, &stateRaw, &status, &paused, &desired, &createdAt); err != nil {
		return model.ScalingGroup{}, err
	}

	var cfg configDTO
	if err := json.Unmarshal(configRaw, &cfg); err != nil {
		return model.ScalingGroup{}, fmt.Errorf("decoding group config: %w", err)
	}
	var launch launchDTO
	if err := json.Unmarshal(launchRaw, &launch); err != nil {
		return model.ScalingGroup{}, fmt.Errorf("decoding launch config: %w", err)
	}
	var sd stateDTO
	if err := json.Unmarshal(stateRaw, &sd); err != nil {
		return model.ScalingGroup{}, fmt.Errorf("decoding group state: %w", err)
	}

	g.Config = model.GroupConfig{
		Name:        cfg.Name,
		MinEntities: cfg.MinEntities,
		MaxEntities: cfg.MaxEntities,
		Cooldown:    time.Duration(cfg.CooldownSec) * time.Second,
	}
	g.LaunchConfig = model.LaunchConfig{Type: launch.Type, Args: launch.Args}
	g.Status = model.GroupStatus(status)
	g.State = fromState(desired, paused, sd)

	return g, nil
}

// Load fetches one scaling group by (tenantID, groupID).
func (s *GroupStore) Load(ctx context.Context, tenantID, groupID string) (model.ScalingGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM scaling_group WHERE tenant_id = $1 AND group_id = $2`
	row := s.pool.QueryRow(ctx, query, tenantID, groupID)
	g, err := scanGroupRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.ScalingGroup{}, &model.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
		}
		return model.ScalingGroup{}, fmt.Errorf("loading scaling group %s/%s: %w", tenantID, groupID, err)
	}
	return g, nil
}

// ListConvergenceEligible returns every ACTIVE, non-paused group, for the
// self-heal driver's enumeration (§4.E step 1).
func (s *GroupStore) ListConvergenceEligible(ctx context.Context) ([]model.ScalingGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM scaling_group WHERE status = 'ACTIVE' AND paused = FALSE`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing convergence-eligible groups: %w", err)
	}
	defer rows.Close()

	var groups []model.ScalingGroup
	for rows.Next() {
		g, err := scanGroupRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scaling group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SaveState persists a group's mutable state, status, and paused flag —
// everything §4.I's modifyAndTrigger mutates. Config and launch are
// immutable after creation in this engine's scope.
func (s *GroupStore) SaveState(ctx context.Context, tenantID, groupID string, state model.GroupState, status model.GroupStatus) error {
	stateRaw, err := json.Marshal(toState(state))
	if err != nil {
		return fmt.Errorf("encoding group state: %w", err)
	}

	query := `UPDATE scaling_group SET state = $3, status = $4, paused = $5, desired = $6
		WHERE tenant_id = $1 AND group_id = $2`
	tag, err := s.pool.Exec(ctx, query, tenantID, groupID, stateRaw, string(status), state.Paused, state.Desired)
	if err != nil {
		return fmt.Errorf("saving group state for %s/%s: %w", tenantID, groupID, err)
	}
	if tag.RowsAffected() == 0 {
		return &model.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return nil
}
