package model

import "fmt"

// AuthenticationFailedError means credentials were rejected. Fatal per call;
// not retryable.
type AuthenticationFailedError struct {
	TenantID string
	Reason   string
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed for tenant %s: %s", e.TenantID, e.Reason)
}

// AuthenticationUnavailableError means the identity transport failed
// (connection error or 5xx). Retryable in the request pipeline.
type AuthenticationUnavailableError struct {
	TenantID string
	Cause    error
}

func (e *AuthenticationUnavailableError) Error() string {
	return fmt.Sprintf("identity service unavailable for tenant %s: %v", e.TenantID, e.Cause)
}

func (e *AuthenticationUnavailableError) Unwrap() error { return e.Cause }

// APIError means the remote service rejected the request outside the
// expected success codes.
type APIError struct {
	Code    int
	Body    []byte
	Headers map[string][]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Code, truncate(e.Body, 256))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}

// UpdateInProgressError is raised on HTTP 409, or the specific orchestration
// 400 body pattern that indicates a conflicting update is already underway.
// Callers queue at most one follow-up and discard further queued ones.
type UpdateInProgressError struct {
	GroupID string
}

func (e *UpdateInProgressError) Error() string {
	return fmt.Sprintf("update already in progress for group %s", e.GroupID)
}

// CannotExecutePolicyError is raised by the controller (§4.F) when a policy
// may not run: cooldown not elapsed, or the group is paused. Surfaces as
// HTTP 403 upstream.
type CannotExecutePolicyError struct {
	TenantID string
	GroupID  string
	PolicyID string
	Reason   string // "cooldown" or "paused"
}

func (e *CannotExecutePolicyError) Error() string {
	return fmt.Sprintf("cannot execute policy %s on group %s/%s: %s",
		e.PolicyID, e.TenantID, e.GroupID, e.Reason)
}

// NoSuchScalingGroupError is swallowed by the scheduler (the event is
// discarded); surfaced as 404 to API callers.
type NoSuchScalingGroupError struct {
	TenantID string
	GroupID  string
}

func (e *NoSuchScalingGroupError) Error() string {
	return fmt.Sprintf("no such scaling group %s/%s", e.TenantID, e.GroupID)
}

// NoSuchPolicyError is swallowed by the scheduler (the event is discarded);
// surfaced as 404 to API callers.
type NoSuchPolicyError struct {
	TenantID string
	GroupID  string
	PolicyID string
}

func (e *NoSuchPolicyError) Error() string {
	return fmt.Sprintf("no such policy %s on group %s/%s", e.PolicyID, e.TenantID, e.GroupID)
}

// StalePolicyError is raised when a caller's policy version does not match
// the current stored version (optimistic concurrency).
type StalePolicyError struct {
	PolicyID        string
	RequestVersion  int
	CurrentVersion  int
}

func (e *StalePolicyError) Error() string {
	return fmt.Sprintf("stale policy %s: requested version %d, current %d",
		e.PolicyID, e.RequestVersion, e.CurrentVersion)
}

// BusyLockError means the coordination lock is currently held elsewhere.
// Caller retries at the next tick.
type BusyLockError struct {
	LockPath string
}

func (e *BusyLockError) Error() string {
	return fmt.Sprintf("lock busy: %s", e.LockPath)
}

// LockTimeoutError means lock acquisition did not complete within the
// requested timeout. Caller retries at the next tick.
type LockTimeoutError struct {
	LockPath string
	Timeout  string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout after %s: %s", e.Timeout, e.LockPath)
}
