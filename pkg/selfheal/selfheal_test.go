package selfheal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wisbric/otter/pkg/model"
)

type fakeRequester struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRequester) RequestConvergence(_ context.Context, tenantID, groupID string, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tenantID+"/"+groupID)
}

func (f *fakeRequester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestHealthCheck_ReportsOutstandingCalls(t *testing.T) {
	d := &Driver{}

	d.scheduleGroup(context.Background(), model.ScalingGroup{}, time.Hour)

	healthy, detail := d.HealthCheck()
	if !healthy {
		t.Fatal("expected HealthCheck's first value to be true when calls are outstanding")
	}
	if detail["scheduled_calls"] != 1 {
		t.Errorf("scheduled_calls = %v, want 1", detail["scheduled_calls"])
	}

	cancelled := d.cancelScheduledCalls()
	if cancelled != 1 {
		t.Errorf("cancelScheduledCalls() = %d, want 1", cancelled)
	}

	healthy, detail = d.HealthCheck()
	if healthy {
		t.Fatal("expected HealthCheck's first value to be false once no calls are outstanding")
	}
	if detail["scheduled_calls"] != 0 {
		t.Errorf("scheduled_calls = %v, want 0", detail["scheduled_calls"])
	}
}

func TestScheduleGroup_FiresOnlyWhenLockedAndActive(t *testing.T) {
	req := &fakeRequester{}
	d := &Driver{Requester: req}
	d.hasLock = true

	active := model.ScalingGroup{TenantID: "t1", GroupID: "g1", Status: model.StatusActive}
	paused := model.ScalingGroup{TenantID: "t1", GroupID: "g2", Status: model.StatusActive}
	paused.State.Paused = true
	suspended := model.ScalingGroup{TenantID: "t1", GroupID: "g3", Status: model.StatusDisabled}

	d.scheduleGroup(context.Background(), active, time.Millisecond)
	d.scheduleGroup(context.Background(), paused, time.Millisecond)
	d.scheduleGroup(context.Background(), suspended, time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	if got := req.count(); got != 1 {
		t.Fatalf("expected exactly 1 convergence request, got %d: %v", got, req.calls)
	}
	if req.calls[0] != "t1/g1" {
		t.Errorf("unexpected call target: %v", req.calls)
	}
}

func TestScheduleGroup_SkipsWhenLockLostMidInterval(t *testing.T) {
	req := &fakeRequester{}
	d := &Driver{Requester: req}
	d.hasLock = true

	active := model.ScalingGroup{TenantID: "t1", GroupID: "g1", Status: model.StatusActive}
	d.scheduleGroup(context.Background(), active, 10*time.Millisecond)

	d.mu.Lock()
	d.hasLock = false
	d.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	if got := req.count(); got != 0 {
		t.Fatalf("expected no convergence requests once lock was lost, got %d", got)
	}
}
