package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/api"
	"github.com/example/feed-platform/internal/platform/auth"
	"github.com/example/feed-platform/services/feed/internal/karma"
)

type deleteFunc func(ctx context.Context, actorID, id string, admin bool) (karma.DeleteResult, error)

// DeletePost handles DELETE /v1/posts/{post_id}
func DeletePost(eng *karma.Engine, log *zap.Logger) http.HandlerFunc {
	return deleteHandler(eng.DeletePost, "post_id", log)
}

// DeleteComment handles DELETE /v1/comments/{comment_id}
func DeleteComment(eng *karma.Engine, log *zap.Logger) http.HandlerFunc {
	return deleteHandler(eng.DeleteComment, "comment_id", log)
}

// deleteHandler lets the owner, or any admin, cascade delete the target.
func deleteHandler(del deleteFunc, param string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, param)
		if !ok {
			return
		}
		res, err := del(r.Context(), userID, id, auth.IsAdmin(r.Context()))
		if err != nil {
			writeDomainError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}
