package auth

import (
	"net/http"

	"github.com/example/feed-platform/internal/platform/api"
	"github.com/example/feed-platform/internal/platform/httpserver"
)

// RequireAdmin allows the request only if RequireUser already injected
// role=admin into the context.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			api.Forbidden(w, "FORBIDDEN", "admin role required", httpserver.RequestIDFromContext(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	api.Unauthorized(w, "UNAUTHORIZED", "valid bearer token required", httpserver.RequestIDFromContext(r.Context()))
}
