package auth

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
	"github.com/Mindburn-Labs/soulbound/pkg/ratelimit"
)

// RateLimitMiddleware throttles mutating requests per caller address,
// falling back to the remote IP for anonymous callers. Reads pass through.
// Limiter failures fail open.
func RateLimitMiddleware(limiter ratelimit.Limiter, policy ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || isRead(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key := "ip:" + remoteHost(r.RemoteAddr)
			if p, err := GetPrincipal(r.Context()); err == nil {
				key = "addr:" + string(p.Address)
			}

			allowed, err := limiter.Allow(r.Context(), key, policy, 1)
			if err != nil {
				slog.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				api.WriteTooManyRequests(w, policy.RetryAfter())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
