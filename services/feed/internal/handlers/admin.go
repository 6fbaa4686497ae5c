package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/api"
	"github.com/example/feed-platform/services/feed/internal/karma"
)

type reconcileOneResponse struct {
	AuthorID  string       `json:"author_id"`
	Corrected *karma.Drift `json:"corrected"`
}

// ReconcileKarma handles POST /v1/admin/karma/reconcile[?author_id=...]
func ReconcileKarma(eng *karma.Engine, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if authorID := strings.TrimSpace(r.URL.Query().Get("author_id")); authorID != "" {
			drift, err := eng.Reconcile(r.Context(), authorID)
			if err != nil {
				writeDomainError(w, r, log, err)
				return
			}
			api.WriteJSON(w, http.StatusOK, reconcileOneResponse{AuthorID: authorID, Corrected: drift})
			return
		}
		report, err := eng.ReconcileAll(r.Context())
		if err != nil {
			writeDomainError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, report)
	}
}
