package cloud

import (
	"net/http"
	"time"

	"context"

	"github.com/wisbric/otter/pkg/httpclient"
)

// boundClient adapts *httpclient.Client to the per-service clients in this
// package, giving each a uniform Do/DoWithOptions surface.
type boundClient struct {
	client *httpclient.Client
}

// NewBoundClient wraps a service-bound *httpclient.Client for use by the
// compute/loadbalancer/rackconnect clients in this package.
func NewBoundClient(client *httpclient.Client) *boundClient {
	return &boundClient{client: client}
}

func (b *boundClient) Do(ctx context.Context, tenantID, method, path string, result any) error {
	return b.client.Do(ctx, tenantID, method, path, result)
}

func (b *boundClient) DoWithOptions(ctx context.Context, tenantID, method, path string, headers http.Header, body any, successCodes []int, result any) error {
	opts := []httpclient.CallOption{
		httpclient.WithSuccessCodes(successCodes...),
	}
	if headers != nil {
		opts = append(opts, httpclient.WithHeaders(headers))
	}
	if body != nil {
		opts = append(opts, httpclient.WithBody(body))
	}
	return b.client.Do(ctx, tenantID, method, path, result, opts...)
}

// parseRFC3339 parses a cloud API timestamp, tolerating the Zulu-suffixed
// format this codebase standardizes on (§2C).
func parseRFC3339(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
