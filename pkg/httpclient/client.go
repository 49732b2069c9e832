package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CallOption customizes one Do call, matching the bound request function
// contract from §4.A: "(method, relative-path, [headers], [body],
// [success_codes], [reauth_codes])".
type CallOption func(*callOptions)

type callOptions struct {
	Headers      http.Header
	Body         any
	SuccessCodes []int
	ReauthCodes  []int
	Retry        retryConfig
}

func WithHeaders(h http.Header) CallOption {
	return func(o *callOptions) { o.Headers = h }
}

func WithBody(body any) CallOption {
	return func(o *callOptions) { o.Body = body }
}

func WithSuccessCodes(codes ...int) CallOption {
	return func(o *callOptions) { o.SuccessCodes = codes }
}

func WithReauthCodes(codes ...int) CallOption {
	return func(o *callOptions) { o.ReauthCodes = codes }
}

func WithRetryPredicate(p RetryPredicate) CallOption {
	return func(o *callOptions) { o.Retry.Predicate = p }
}

func WithMaxRetries(n int) CallOption {
	return func(o *callOptions) { o.Retry.MaxRetries = n }
}

// Metrics are the counters/histograms the client increments, grounded on
// the host's internal/telemetry package-level-var convention.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// Client is a service-bound, authenticated, retrying HTTP client: the
// composition point for all six layers of §4.A.
type Client struct {
	transport   *transport
	auth        AuthHeaderProvider
	catalog     CatalogResolver
	serviceName string
	region      string
	maxRetries  int
	logger      *slog.Logger
	metrics     *Metrics
}

// Config wires a Client to one service+region, per layer 6's "pre-bound to
// a service+region so callers pass only a relative path".
type Config struct {
	HTTPClient  *http.Client
	Auth        AuthHeaderProvider
	Catalog     CatalogResolver
	ServiceName string
	Region      string
	MaxRetries  int
	Timeout     time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
}

// New builds a Client bound to one service+region.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport:   newTransport(httpClient),
		auth:        cfg.Auth,
		catalog:     cfg.Catalog,
		serviceName: cfg.ServiceName,
		region:      cfg.Region,
		maxRetries:  cfg.MaxRetries,
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// Do performs one bound, authenticated, retrying request and decodes the
// response body (if any) into result. Layer composition, outermost to
// innermost: retry(auth(status(codec(transport)))), with service binding
// resolving the absolute URL before the first attempt.
func (c *Client) Do(ctx context.Context, tenantID, method, relPath string, result any, opts ...CallOption) error {
	o := callOptions{Retry: retryConfig{MaxRetries: c.maxRetries}}
	for _, opt := range opts {
		opt(&o)
	}

	url, err := bindURL(ctx, c.catalog, tenantID, c.serviceName, c.region, relPath)
	if err != nil {
		return err
	}

	reqBody, err := encodeJSONBody(o.Body)
	if err != nil {
		return err
	}
	if reqBody != nil && o.Headers == nil {
		o.Headers = http.Header{}
	}
	if reqBody != nil {
		o.Headers.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := withRetry(ctx, o.Retry, func() (*rawResponse, error) {
		return withAuth(ctx, c.auth, tenantID, o.ReauthCodes, o.Headers, func(headers http.Header) (*rawResponse, error) {
			r, err := c.transport.do(ctx, method, url, headers, reqBody)
			if err != nil {
				return nil, err
			}
			if statusErr := checkStatus(r, o.SuccessCodes); statusErr != nil {
				return r, statusErr
			}
			return r, nil
		})
	})
	duration := time.Since(start)

	c.observe(method, outcomeFor(err), duration)

	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}

	return decodeJSONBody(resp.Body, result)
}

func outcomeFor(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

func (c *Client) observe(method, outcome string, d time.Duration) {
	if c.metrics == nil {
		return
	}
	if c.metrics.RequestsTotal != nil {
		c.metrics.RequestsTotal.WithLabelValues(c.serviceName, method, outcome).Inc()
	}
	if c.metrics.RequestDuration != nil {
		c.metrics.RequestDuration.WithLabelValues(c.serviceName, method).Observe(d.Seconds())
	}
}

// RawDoJSON is a convenience for callers that need the decoded response as
// json.RawMessage rather than into a typed struct (e.g. generic webhooks).
func (c *Client) RawDoJSON(ctx context.Context, tenantID, method, relPath string, opts ...CallOption) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.Do(ctx, tenantID, method, relPath, &raw, opts...); err != nil {
		return nil, err
	}
	return raw, nil
}
