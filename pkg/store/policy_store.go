package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/otter/pkg/model"
)

// PolicyStore persists Policy rows.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a PolicyStore backed by the given connection pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

const policyColumns = `policy_id, tenant_id, group_id, cooldown, kind, change, change_percent, desired_capacity, schedule_at_time, schedule_cron, version`

func scanPolicyRow(row pgx.Row) (model.Policy, error) {
	var p model.Policy
	var kind int16
	err := row.Scan(&p.ID, &p.TenantID, &p.GroupID, &p.Cooldown, &kind,
		&p.Change, &p.ChangePercent, &p.DesiredCapacity,
		&p.Schedule.AtTime, &p.Schedule.Cron, &p.Version)
	p.Kind = model.PolicyKind(kind)
	return p, err
}

// Load fetches one policy by id, scoped to (tenantID, groupID) so a caller
// cannot accidentally read another tenant's policy by guessing an id.
func (s *PolicyStore) Load(ctx context.Context, tenantID, groupID, policyID string) (model.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policy WHERE policy_id = $1 AND tenant_id = $2 AND group_id = $3`
	row := s.pool.QueryRow(ctx, query, policyID, tenantID, groupID)
	p, err := scanPolicyRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Policy{}, &model.NoSuchPolicyError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID}
		}
		return model.Policy{}, fmt.Errorf("loading policy %s: %w", policyID, err)
	}
	return p, nil
}

// Create inserts a new policy.
func (s *PolicyStore) Create(ctx context.Context, p model.Policy) error {
	query := `INSERT INTO policy (` + policyColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := s.pool.Exec(ctx, query, p.ID, p.TenantID, p.GroupID, p.Cooldown, int16(p.Kind),
		p.Change, p.ChangePercent, p.DesiredCapacity, p.Schedule.AtTime, p.Schedule.Cron, p.Version)
	if err != nil {
		return fmt.Errorf("creating policy %s: %w", p.ID, err)
	}
	return nil
}
