package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting. The engine has no
// billing tiers (spec.md's non-goals exclude quota/billing), so there is a
// single limit rather than the free/paid split a multi-tier SaaS needs.
type RateLimitConfig struct {
	// RequestsPerMinute is the per-user limit.
	RequestsPerMinute int
}

// RateLimitByUser returns a middleware that rate limits by the opaque user
// id attached by UserID, falling back to the client IP if somehow absent
// (the UserID middleware should already have rejected that case upstream).
func RateLimitByUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	limiter := httprate.NewRateLimiter(
		cfg.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := GetUserID(r.Context()); id != "" {
				return "user:" + id, nil
			}
			return httprate.KeyByIP(r)
		}),
	)

	return func(next http.Handler) http.Handler {
		return limiter.Handler(next)
	}
}
