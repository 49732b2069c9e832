package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/wisbric/otter/pkg/model"
)

type stubAuth struct {
	token        string
	invalidated  int32
	onAuthHeader func(tenantID string) (http.Header, error)
}

func (a *stubAuth) AuthHeaders(_ context.Context, tenantID string) (http.Header, error) {
	if a.onAuthHeader != nil {
		return a.onAuthHeader(tenantID)
	}
	return http.Header{"X-Auth-Token": []string{a.token}}, nil
}

func (a *stubAuth) Invalidate(string) {
	atomic.AddInt32(&a.invalidated, 1)
}

type stubCatalog struct {
	baseURL string
}

func (c *stubCatalog) ResolveEndpoint(_ context.Context, _, _, _ string) (string, error) {
	return c.baseURL, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, auth *stubAuth) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		Auth:        auth,
		Catalog:     &stubCatalog{baseURL: srv.URL},
		ServiceName: "cloudServersOpenStack",
		Region:      "ORD",
	}), srv
}

func TestDo_SuccessDecodesBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Auth-Token"); got != "tok-1" {
			t.Errorf("auth header = %q, want tok-1", got)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"id": "abc"})
	}, &stubAuth{token: "tok-1"})

	var result struct {
		ID string `json:"id"`
	}
	if err := client.Do(context.Background(), "t1", http.MethodGet, "/servers", &result); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result.ID != "abc" {
		t.Errorf("result.ID = %q, want abc", result.ID)
	}
}

func TestDo_NonSuccessStatusIsAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}, &stubAuth{token: "tok-1"})

	err := client.Do(context.Background(), "t1", http.MethodGet, "/servers/missing", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != http.StatusNotFound {
		t.Errorf("apiErr.Code = %d, want 404", apiErr.Code)
	}
}

func TestDo_ReauthsOnceOnDefaultReauthCode(t *testing.T) {
	var attempt int32
	auth := &stubAuth{token: "tok-1"}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempt, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("X-Auth-Token"); got != "tok-1" {
			t.Errorf("auth header on retry = %q, want tok-1", got)
		}
		w.WriteHeader(http.StatusOK)
	}, auth)

	if err := client.Do(context.Background(), "t1", http.MethodGet, "/servers", nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if atomic.LoadInt32(&attempt) != 2 {
		t.Errorf("expected exactly 2 attempts (initial + reauth retry), got %d", attempt)
	}
	if atomic.LoadInt32(&auth.invalidated) != 1 {
		t.Errorf("expected Invalidate to be called exactly once, got %d", auth.invalidated)
	}
}

func TestDo_WithReauthCodes_CustomCode(t *testing.T) {
	var attempt int32
	auth := &stubAuth{token: "tok-1"}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempt, 1) == 1 {
			w.WriteHeader(419) // a non-default "session expired" style code
			return
		}
		w.WriteHeader(http.StatusOK)
	}, auth)

	err := client.Do(context.Background(), "t1", http.MethodGet, "/servers", nil, WithReauthCodes(419), WithSuccessCodes(200))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if atomic.LoadInt32(&auth.invalidated) != 1 {
		t.Errorf("expected Invalidate on custom reauth code, got %d calls", auth.invalidated)
	}
}

func TestDo_WithMaxRetries_ExhaustsAndFails(t *testing.T) {
	var attempt int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempt, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, &stubAuth{token: "tok-1"})

	err := client.Do(context.Background(), "t1", http.MethodGet, "/servers", nil, WithMaxRetries(2))
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if got := atomic.LoadInt32(&attempt); got != 2 {
		t.Errorf("expected exactly 2 attempts bounded by WithMaxRetries(2), got %d", got)
	}
}

func TestDo_WithRetryPredicate_OverridesDefault(t *testing.T) {
	var attempt int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempt, 1)
		if n == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}, &stubAuth{token: "tok-1"})

	alwaysRetry := func(error) bool { return true }
	err := client.Do(context.Background(), "t1", http.MethodGet, "/servers", nil,
		WithSuccessCodes(200), WithMaxRetries(3), WithRetryPredicate(alwaysRetry))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if atomic.LoadInt32(&attempt) != 2 {
		t.Errorf("expected the 404 to be retried under the overriding predicate, got %d attempts", attempt)
	}
}

func TestDo_PostsJSONBody(t *testing.T) {
	var gotBody map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}, &stubAuth{token: "tok-1"})

	err := client.Do(context.Background(), "t1", http.MethodPost, "/servers", nil,
		WithBody(map[string]string{"name": "s1"}), WithSuccessCodes(201))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotBody["name"] != "s1" {
		t.Errorf("server received body %+v, want name=s1", gotBody)
	}
}

func TestRawDoJSON_ReturnsRawMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"arbitrary":"payload"}`))
	}, &stubAuth{token: "tok-1"})

	raw, err := client.RawDoJSON(context.Background(), "t1", http.MethodGet, "/whatever")
	if err != nil {
		t.Fatalf("RawDoJSON: %v", err)
	}
	if string(raw) != `{"arbitrary":"payload"}` {
		t.Errorf("raw = %s, want literal passthrough", raw)
	}
}

func TestBindURL_JoinsRelativePath(t *testing.T) {
	catalog := &stubCatalog{baseURL: "https://compute.example.com/v2/1234/"}
	got, err := bindURL(context.Background(), catalog, "t1", "cloudServersOpenStack", "ORD", "servers/detail")
	if err != nil {
		t.Fatalf("bindURL: %v", err)
	}
	if want := "https://compute.example.com/v2/1234/servers/detail"; got != want {
		t.Errorf("bindURL = %q, want %q", got, want)
	}
}

func TestCheckStatus_DefaultsTo200(t *testing.T) {
	if err := checkStatus(&rawResponse{StatusCode: 200}, nil); err != nil {
		t.Errorf("expected 200 to satisfy the default success codes, got %v", err)
	}
	if err := checkStatus(&rawResponse{StatusCode: 201}, nil); err == nil {
		t.Error("expected 201 to fail the default (200-only) success codes")
	}
}

func TestIsReauthCode_DefaultsTo401And403(t *testing.T) {
	if !isReauthCode(401, nil) || !isReauthCode(403, nil) {
		t.Error("expected 401 and 403 to be reauth codes by default")
	}
	if isReauthCode(500, nil) {
		t.Error("500 should not be a default reauth code")
	}
}

func TestDefaultRetryable(t *testing.T) {
	if !defaultRetryable(&model.APIError{Code: 429}) {
		t.Error("expected a 429 APIError to be retryable")
	}
	if defaultRetryable(&model.APIError{Code: 400}) {
		t.Error("expected a 400 APIError to not be retryable by default")
	}
	if !defaultRetryable(&model.AuthenticationUnavailableError{TenantID: "t1"}) {
		t.Error("expected an identity-unavailable error to be retryable")
	}
	if !defaultRetryable(&net.DNSError{IsTimeout: true}) {
		t.Error("expected a transport net.Error to be retryable")
	}
}

func TestMergeHeaders_AuthWinsOnConflict(t *testing.T) {
	caller := http.Header{"X-Custom": []string{"caller"}, "X-Auth-Token": []string{"stale"}}
	auth := http.Header{"X-Auth-Token": []string{"fresh"}}

	merged := mergeHeaders(caller, auth)
	if merged.Get("X-Custom") != "caller" {
		t.Errorf("expected caller-only header to survive, got %q", merged.Get("X-Custom"))
	}
	if merged.Get("X-Auth-Token") != "fresh" {
		t.Errorf("expected auth header to win on conflict, got %q", merged.Get("X-Auth-Token"))
	}
}
