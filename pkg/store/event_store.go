package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/otter/pkg/model"
)

// EventStore persists ScheduledEvents, matching §6's "sample_events" table.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// FetchAndDelete implements §4.D step 2: transactionally pop up to
// batchSize events from bucket whose trigger <= now, ordered by
// (trigger, policyId). The caller must hold the per-bucket coordination
// lock (§4.C) so two instances never observe the same event.
func (s *EventStore) FetchAndDelete(ctx context.Context, bucket string, now time.Time, batchSize int) ([]model.ScheduledEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning fetch-and-delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT bucket, trigger_at, policy_id, tenant_id, group_id, cron, version
		FROM sample_events
		WHERE bucket = $1 AND trigger_at <= $2
		ORDER BY trigger_at ASC, policy_id ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, bucket, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("selecting due events for bucket %s: %w", bucket, err)
	}

	var events []model.ScheduledEvent
	for rows.Next() {
		var e model.ScheduledEvent
		if err := rows.Scan(&e.Bucket, &e.Trigger, &e.PolicyID, &e.TenantID, &e.GroupID, &e.Cron, &e.Version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning due event: %w", err)
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due events: %w", err)
	}

	for _, e := range events {
		if _, err := tx.Exec(ctx, `DELETE FROM sample_events WHERE bucket = $1 AND trigger_at = $2 AND policy_id = $3`,
			e.Bucket, e.Trigger, e.PolicyID); err != nil {
			return nil, fmt.Errorf("deleting fetched event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing fetch-and-delete: %w", err)
	}
	return events, nil
}

// Insert adds a new event, e.g. a successor event re-added after a cron
// event fires (§4.D step 4).
func (s *EventStore) Insert(ctx context.Context, e model.ScheduledEvent) error {
	query := `INSERT INTO sample_events (bucket, trigger_at, policy_id, tenant_id, group_id, cron, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (bucket, trigger_at, policy_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, e.Bucket, e.Trigger, e.PolicyID, e.TenantID, e.GroupID, e.Cron, e.Version)
	if err != nil {
		return fmt.Errorf("inserting event for policy %s: %w", e.PolicyID, err)
	}
	return nil
}

// OldestTrigger reports the oldest due-or-pending trigger in bucket, for
// the scheduler's health probe (§4.D "Health").
func (s *EventStore) OldestTrigger(ctx context.Context, bucket string) (time.Time, bool, error) {
	var trigger time.Time
	err := s.pool.QueryRow(ctx, `SELECT MIN(trigger_at) FROM sample_events WHERE bucket = $1`, bucket).Scan(&trigger)
	if err != nil {
		return time.Time{}, false, nil
	}
	if trigger.IsZero() {
		return time.Time{}, false, nil
	}
	return trigger, true, nil
}
