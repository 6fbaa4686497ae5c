package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/api"
	"github.com/example/feed-platform/internal/platform/httpserver"
	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/idempotency"
	"github.com/example/feed-platform/services/feed/internal/karma"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxKeyLen         = 128
	releaseTimeout    = 2 * time.Second
)

// ToggleLike handles POST /v1/posts/{post_id}/like and
// POST /v1/comments/{comment_id}/like. A request carrying an
// Idempotency-Key that already completed gets the stored response back
// without toggling again.
func ToggleLike(eng *karma.Engine, idem idempotency.Store, kind domain.TargetKind, param string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		targetID, ok := pathID(w, r, param)
		if !ok {
			return
		}
		rid := httpserver.RequestIDFromContext(r.Context())

		var scoped string
		if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" && idem != nil {
			if len(key) > maxKeyLen {
				api.BadRequest(w, "INVALID_IDEMPOTENCY_KEY", "Idempotency-Key is too long", rid, nil)
				return
			}
			scoped = userID + ":" + key + ":" + string(kind) + ":" + targetID
			stored, err := idem.Reserve(r.Context(), scoped)
			switch {
			case errors.Is(err, idempotency.ErrInFlight):
				api.Conflict(w, "IN_FLIGHT", err.Error(), rid, nil)
				return
			case err != nil:
				log.Warn("idempotency reserve failed, proceeding without replay", zap.Error(err))
				scoped = ""
			case stored != nil:
				w.Header().Set(replayedHeader, "true")
				writeRaw(w, stored.Status, stored.Body)
				return
			}
		}

		res, err := eng.Toggle(r.Context(), userID, kind, targetID)
		if err != nil {
			if scoped != "" {
				// The client may already be gone; the key must still be freed.
				ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), releaseTimeout)
				if err := idem.Release(ctx, scoped); err != nil {
					log.Warn("idempotency release failed", zap.Error(err))
				}
				cancel()
			}
			writeDomainError(w, r, log, err)
			return
		}

		body, err := json.Marshal(res)
		if err != nil {
			writeDomainError(w, r, log, err)
			return
		}
		if scoped != "" {
			if err := idem.Complete(r.Context(), scoped, idempotency.Response{Status: http.StatusOK, Body: body}); err != nil {
				log.Warn("idempotency complete failed", zap.Error(err))
			}
		}
		writeRaw(w, http.StatusOK, body)
	}
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
