package auth

import (
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
	"github.com/Mindburn-Labs/soulbound/pkg/identity"
)

// Validator checks a bearer token. *identity.TokenManager implements it.
type Validator interface {
	Validate(tokenStr string) (*identity.Claims, error)
}

// publicPaths are endpoints that never require authentication.
var publicPaths = []string{
	"/health",
	"/api/v1/health",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// isRead reports whether the method cannot change registry state.
func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// NewMiddleware creates bearer-token middleware.
// Reads are public, but a token sent on a read must still be valid.
// Mutations require a token. A nil validator rejects every mutation.
func NewMiddleware(validator Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if isRead(r.Method) {
					next.ServeHTTP(w, r)
					return
				}
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || tokenStr == "" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(tokenStr)
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			p := Principal{Address: claims.Address(), Roles: claims.Roles}
			recordCaller(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
