// Package mw contains HTTP middleware for the crawl engine's public surface.
package mw

import (
	"context"
	"net/http"

	"github.com/docspasta/engine/internal/apierr"
)

// ContextKey is a type for context keys, kept distinct from plain strings to
// avoid collisions with other packages' context values.
type ContextKey string

// UserIDKey is the context key the opaque user id is stored under.
const UserIDKey ContextKey = "user_id"

// UserIDHeader is the request header carrying the opaque user id. The core
// consumes an opaque user_id; how it is obtained upstream (session cookie,
// reverse-proxy claim injection, API gateway) is out of scope here.
const UserIDHeader = "X-User-Id"

// UserID extracts an opaque user id from r and requires every request to the
// crawl engine's endpoints to carry one. This replaces a full auth/claims
// system: the engine itself never authenticates a request, it only requires
// that something upstream already has.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserIDHeader)
		if id == "" {
			status, env := apierr.ToEnvelope(apierr.BadInput("missing %s header", UserIDHeader))
			writeEnvelope(w, status, env)
			return
		}
		ctx := context.WithValue(r.Context(), UserIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID returns the opaque user id stored in ctx by UserID, or "" if absent.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}
