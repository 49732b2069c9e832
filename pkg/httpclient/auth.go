package httpclient

import (
	"context"
	"net/http"
)

// AuthHeaderProvider is component B's contract as seen from the HTTP client
// stack: acquire auth headers for a tenant, and drop a cached entry so the
// next acquisition re-authenticates.
type AuthHeaderProvider interface {
	AuthHeaders(ctx context.Context, tenantID string) (http.Header, error)
	Invalidate(tenantID string)
}

// mergeHeaders merges auth headers over caller-provided headers — auth wins
// on conflict, per §4.A layer 4.
func mergeHeaders(callerHeaders, authHeaders http.Header) http.Header {
	merged := make(http.Header, len(callerHeaders)+len(authHeaders))
	for k, vs := range callerHeaders {
		merged[k] = append([]string(nil), vs...)
	}
	for k, vs := range authHeaders {
		merged[k] = append([]string(nil), vs...)
	}
	return merged
}

// withAuth implements layer 4: acquire auth headers, merge them over the
// caller's headers, perform the call via do, and on a reauth-eligible
// status invalidate the cache entry and re-drive the request exactly once.
func withAuth(
	ctx context.Context,
	auth AuthHeaderProvider,
	tenantID string,
	reauthCodes []int,
	callerHeaders http.Header,
	do func(headers http.Header) (*rawResponse, error),
) (*rawResponse, error) {
	authHeaders, err := auth.AuthHeaders(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// do folds the status check (layer 3) inside it, so a non-2xx response
	// comes back as (resp, *model.APIError) rather than (nil, err) — resp
	// must still be inspected for a reauth code even though err is set. A
	// transport failure has no response to inspect and is returned as-is.
	resp, err := do(mergeHeaders(callerHeaders, authHeaders))
	if resp == nil || !isReauthCode(resp.StatusCode, reauthCodes) {
		return resp, err
	}

	auth.Invalidate(tenantID)
	authHeaders, err = auth.AuthHeaders(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return do(mergeHeaders(callerHeaders, authHeaders))
}
