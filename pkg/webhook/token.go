// Package webhook implements the capability-URL Webhook entity (§3): an
// HMAC-signed, expiry-bearing token embedding (tenantId, groupId,
// policyId) that lets its bearer execute one specific policy without a
// database round trip, verified the same way the host verifies its own
// session JWTs (internal/auth.SessionManager).
package webhook

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Claims are the capability embedded in a webhook token.
type Claims struct {
	TenantID string `json:"tenant_id"`
	GroupID  string `json:"group_id"`
	PolicyID string `json:"policy_id"`
}

// TokenManager issues and validates self-signed webhook capability tokens
// using HMAC-SHA256, the same scheme and library the host uses for its
// own session tokens.
type TokenManager struct {
	signingKey []byte
	ttl        time.Duration
}

// NewTokenManager creates a TokenManager. secret must be at least 32
// bytes, matching the host's session-secret minimum.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("webhook signing secret must be at least 32 bytes, got %d", len(secret))
	}
	return &TokenManager{signingKey: []byte(secret), ttl: ttl}, nil
}

// Issue creates a signed capability token for one (tenant, group, policy).
func (m *TokenManager) Issue(claims Claims) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: m.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(m.ttl)),
		Issuer:   "otter",
	}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing webhook token: %w", err)
	}
	return token, nil
}

// Verify checks the token's signature and expiry and returns its
// capability claims, without any database round trip.
func (m *TokenManager) Verify(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing webhook token: %w", err)
	}

	var registered jwt.Claims
	var claims Claims
	if err := tok.Claims(m.signingKey, &registered, &claims); err != nil {
		return nil, fmt.Errorf("verifying webhook token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: "otter",
		Time:   time.Now(),
	}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("validating webhook token claims: %w", err)
	}

	return &claims, nil
}
