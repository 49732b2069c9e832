package model

import "time"

// ScheduledEvent is keyed by (Bucket, Trigger, PolicyID). Events carrying a
// Cron expression are re-added at the next occurrence after firing.
type ScheduledEvent struct {
	TenantID string
	GroupID  string
	PolicyID string
	Trigger  time.Time
	Cron     string // "" if this is a one-shot at-time event.
	Bucket   string
	Version  int
}

// Key returns the composite primary key used for dedup and ordering.
func (e ScheduledEvent) Key() (bucket string, trigger time.Time, policyID string) {
	return e.Bucket, e.Trigger, e.PolicyID
}
