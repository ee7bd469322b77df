// Package auth authenticates API callers and attaches their identity to the
// request context.
package auth

import (
	"context"
	"errors"
	"slices"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/identity"
)

// ErrNoPrincipal is returned when the request carried no valid token.
var ErrNoPrincipal = errors.New("no principal in context")

// Principal is the authenticated caller of a request.
type Principal struct {
	Address contracts.Identity
	Roles   []string
}

// IsOwner reports whether the principal holds the owner role.
func (p Principal) IsOwner() bool {
	return slices.Contains(p.Roles, identity.RoleOwner)
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.Address == "" {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}
