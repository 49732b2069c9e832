package model

import (
	"testing"
	"time"
)

func TestScheduledEvent_Key(t *testing.T) {
	trigger := time.Unix(100, 0).UTC()
	e := ScheduledEvent{Bucket: "b0", Trigger: trigger, PolicyID: "p1"}

	bucket, gotTrigger, policyID := e.Key()
	if bucket != "b0" || !gotTrigger.Equal(trigger) || policyID != "p1" {
		t.Errorf("Key() = (%q, %v, %q), want (b0, %v, p1)", bucket, gotTrigger, policyID, trigger)
	}
}
