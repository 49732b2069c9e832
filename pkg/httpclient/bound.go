package httpclient

import (
	"context"
	"fmt"
	"strings"
)

// CatalogResolver is component B's service-catalog contract as seen from
// the HTTP client stack: resolve a tenant's public endpoint for a named
// service in a region.
type CatalogResolver interface {
	ResolveEndpoint(ctx context.Context, tenantID, serviceName, region string) (baseURL string, err error)
}

// bindURL implements layer 6: resolve the absolute URL for a relative path
// against the tenant's service catalog entry for (serviceName, region).
func bindURL(ctx context.Context, catalog CatalogResolver, tenantID, serviceName, region, relPath string) (string, error) {
	base, err := catalog.ResolveEndpoint(ctx, tenantID, serviceName, region)
	if err != nil {
		return "", fmt.Errorf("resolving %s endpoint for tenant %s: %w", serviceName, tenantID, err)
	}
	base = strings.TrimRight(base, "/")
	if relPath == "" {
		return base, nil
	}
	if !strings.HasPrefix(relPath, "/") {
		relPath = "/" + relPath
	}
	return base + relPath, nil
}
