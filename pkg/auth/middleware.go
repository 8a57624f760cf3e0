package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/flowgen/pkg/api"
	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/observability"
	"github.com/rhuss/flowgen/pkg/transport"
)

// DefaultBypass lists paths served without API authentication. An entry
// ending in "/" matches every path below it.
var DefaultBypass = []string{"/", "/healthz", "/metrics", "/capabilities/"}

// Middleware authenticates every request not on the bypass list, applies
// the optional limiter, and stores the identity in the request context.
func Middleware(chain *Chain, limiter RateLimiter, bypass []string) func(http.Handler) http.Handler {
	exact := make(map[string]bool)
	var prefixes []string
	for _, p := range bypass {
		if p != "/" && strings.HasSuffix(p, "/") {
			prefixes = append(prefixes, p)
			continue
		}
		exact[p] = true
	}
	skip := func(path string) bool {
		if exact[path] {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", res.Err)
				w.Header().Set("WWW-Authenticate", `Bearer realm="flowgen"`)
				transport.WriteErrorResponse(w,
					&api.APIError{Type: api.ErrorTypeInvalidRequest, Message: "authentication required"},
					http.StatusUnauthorized)
				return
			}
			id := res.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned an identity without subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}
			debug.Log("auth", "authenticated", "subject", id.Subject, "path", r.URL.Path)

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.ServiceTier)
					observability.RateLimitRejectedTotal.WithLabelValues(id.ServiceTier).Inc()
					w.Header().Set("Retry-After", "60")
					transport.WriteAPIError(w, api.NewTooManyRequestsError(err.Error()))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), id)))
		})
	}
}
