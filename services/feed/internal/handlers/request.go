package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/feed-platform/internal/platform/api"
	"github.com/example/feed-platform/internal/platform/auth"
	"github.com/example/feed-platform/internal/platform/httpserver"
)

const maxBodyBytes = 1 << 20

// requireUser returns the authenticated caller or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "UNAUTHORIZED", "authentication required", httpserver.RequestIDFromContext(r.Context()))
		return "", false
	}
	return userID, true
}

func viewer(r *http.Request) string {
	userID, _ := auth.UserIDFromContext(r.Context())
	return userID
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, name))
	if id == "" {
		api.BadRequest(w, "MISSING_ID", name+" is required", httpserver.RequestIDFromContext(r.Context()), nil)
		return "", false
	}
	return id, true
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", httpserver.RequestIDFromContext(r.Context()), nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeValidationError(w, r, err)
		return false
	}
	return true
}
