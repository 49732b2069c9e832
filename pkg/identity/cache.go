package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CredentialSource looks up a tenant's identity credentials. It is
// implemented outside this package; internal/app supplies one set of
// configured credentials for every tenant.
type CredentialSource interface {
	CredentialsForTenant(ctx context.Context, tenantID string) (Credentials, error)
}

// Metrics are the counters the cache increments, mirroring the host's
// package-level-counter-plus-All() convention in internal/telemetry.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// Cache holds, per tenant, a (token, service-catalog) pair with an expiry.
// Concurrent authenticate calls for one tenant coalesce into a single
// upstream request via singleflight, matching §4.B. Entries are mirrored to
// Redis (SET with TTL, grounded on the host's pkg/alert dedup cache
// pattern) so a process restart does not force every tenant to
// reauthenticate cold.
type Cache struct {
	client  *client
	creds   CredentialSource
	rdb     *redis.Client
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	entries map[string]Token

	group singleflight.Group
}

const redisKeyPrefix = "otter:identity:token:"

func redisKey(tenantID string) string {
	return redisKeyPrefix + tenantID
}

// NewCache builds an identity cache bound to one identity endpoint.
func NewCache(identityBaseURL string, httpClient *http.Client, creds CredentialSource, rdb *redis.Client, logger *slog.Logger, metrics *Metrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client:  newClient(identityBaseURL, httpClient),
		creds:   creds,
		rdb:     rdb,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]Token),
	}
}

// Authenticate returns the cached (token, catalog) for tenantID if valid;
// otherwise performs a credential-based token exchange, stores the result,
// and returns it. Concurrent calls for the same tenant share one upstream
// request.
func (c *Cache) Authenticate(ctx context.Context, tenantID string) (Token, error) {
	if tok, ok := c.lookup(tenantID); ok {
		c.hit()
		return tok, nil
	}

	c.miss()
	result, err, _ := c.group.Do(tenantID, func() (any, error) {
		if tok, ok := c.lookup(tenantID); ok {
			return tok, nil
		}
		return c.fetch(ctx, tenantID)
	})
	if err != nil {
		return Token{}, err
	}
	return result.(Token), nil
}

func (c *Cache) fetch(ctx context.Context, tenantID string) (Token, error) {
	creds, err := c.creds.CredentialsForTenant(ctx, tenantID)
	if err != nil {
		return Token{}, fmt.Errorf("looking up credentials for tenant %s: %w", tenantID, err)
	}

	tok, err := c.client.authenticate(ctx, creds)
	if err != nil {
		return Token{}, err
	}

	c.store(tenantID, tok)
	return tok, nil
}

func (c *Cache) lookup(tenantID string) (Token, bool) {
	c.mu.RLock()
	tok, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok && !tok.Expired(time.Now()) {
		return tok, true
	}

	if c.rdb == nil {
		return Token{}, false
	}
	raw, err := c.rdb.Get(context.Background(), redisKey(tenantID)).Bytes()
	if err != nil {
		return Token{}, false
	}
	var cached Token
	if err := json.Unmarshal(raw, &cached); err != nil {
		return Token{}, false
	}
	if cached.Expired(time.Now()) {
		return Token{}, false
	}
	c.mu.Lock()
	c.entries[tenantID] = cached
	c.mu.Unlock()
	return cached, true
}

func (c *Cache) store(tenantID string, tok Token) {
	c.mu.Lock()
	c.entries[tenantID] = tok
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return
	}
	ttl := time.Until(tok.Expiry)
	if ttl <= 0 {
		return
	}
	if err := c.rdb.Set(context.Background(), redisKey(tenantID), raw, ttl).Err(); err != nil {
		c.logger.Warn("mirroring identity token to redis", "tenant_id", tenantID, "error", err)
	}
}

// Invalidate drops the cached entry for tenantID, forcing the next
// Authenticate call to re-exchange credentials.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Del(context.Background(), redisKey(tenantID)).Err(); err != nil {
			c.logger.Warn("invalidating redis-mirrored identity token", "tenant_id", tenantID, "error", err)
		}
	}
}

// AuthHeaders implements httpclient.AuthHeaderProvider.
func (c *Cache) AuthHeaders(ctx context.Context, tenantID string) (http.Header, error) {
	tok, err := c.Authenticate(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("X-Auth-Token", tok.ID)
	return h, nil
}

// ResolveEndpoint implements httpclient.CatalogResolver.
func (c *Cache) ResolveEndpoint(ctx context.Context, tenantID, serviceName, region string) (string, error) {
	tok, err := c.Authenticate(ctx, tenantID)
	if err != nil {
		return "", err
	}
	url, ok := tok.Catalog.Resolve(serviceName, region)
	if !ok {
		return "", fmt.Errorf("no endpoint for service %q region %q in tenant %s's catalog", serviceName, region, tenantID)
	}
	return url, nil
}

func (c *Cache) hit() {
	if c.metrics != nil && c.metrics.CacheHits != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil && c.metrics.CacheMisses != nil {
		c.metrics.CacheMisses.Inc()
	}
}
