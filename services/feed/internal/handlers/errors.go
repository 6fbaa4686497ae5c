package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/api"
	"github.com/example/feed-platform/internal/platform/httpserver"
	"github.com/example/feed-platform/services/feed/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// writeDomainError maps the error taxonomy onto the API envelope.
func writeDomainError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", err.Error(), rid)
	case errors.Is(err, domain.ErrValidation):
		api.BadRequest(w, "VALIDATION_ERROR", err.Error(), rid, nil)
	case errors.Is(err, domain.ErrConflict):
		api.Conflict(w, "CONFLICT", err.Error(), rid, nil)
	case errors.Is(err, domain.ErrForbidden):
		api.Forbidden(w, "FORBIDDEN", err.Error(), rid)
	case errors.Is(err, domain.ErrTransient):
		log.Warn("transient failure surfaced to client", zap.String("request_id", rid), zap.Error(err))
		api.Unavailable(w, "TRANSIENT", "temporarily unavailable, retry later", rid)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		log.Error("request failed", zap.String("request_id", rid), zap.Error(err))
		api.Internal(w, rid)
	}
}

// writeValidationError reports failed struct tags field by field.
func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	details := map[string]any{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = fe.Tag()
		}
	}
	api.BadRequest(w, "VALIDATION_ERROR", "request failed validation", httpserver.RequestIDFromContext(r.Context()), details)
}
