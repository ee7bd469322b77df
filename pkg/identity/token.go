package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
)

const (
	// Issuer is the iss claim of every token this package issues.
	Issuer = "soulbound/identity"
	// Audience is the aud claim the API accepts.
	Audience = "soulbound-api"

	// RoleOwner marks the registry owner's tokens.
	RoleOwner = "owner"
)

// Claims binds a token to a party address.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Address returns the subject as an Identity.
func (c *Claims) Address() contracts.Identity {
	return contracts.Identity(c.Subject)
}

// HasRole reports whether the token carries role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// TokenManager issues and validates bearer tokens.
type TokenManager struct {
	keySet KeySet
	clock  func() time.Time
}

// NewTokenManager creates a manager backed by ks.
func NewTokenManager(ks KeySet) *TokenManager {
	return &TokenManager{keySet: ks, clock: time.Now}
}

// WithClock overrides clock for testing.
func (tm *TokenManager) WithClock(clock func() time.Time) *TokenManager {
	tm.clock = clock
	return tm
}

// Issue signs a token for addr. addr is checksummed first.
func (tm *TokenManager) Issue(ctx context.Context, addr string, roles []string, ttl time.Duration) (string, error) {
	id, err := ParseAddress(addr)
	if err != nil {
		return "", err
	}
	now := tm.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
		},
		Roles: roles,
	}
	return tm.keySet.Sign(ctx, claims)
}

// Validate parses a token and checks signature, expiry, issuer, audience
// and that the subject is a well-formed address.
func (tm *TokenManager) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, tm.keySet.KeyFunc(),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	id, err := ParseAddress(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("token subject: %w", err)
	}
	claims.Subject = string(id)
	return claims, nil
}
