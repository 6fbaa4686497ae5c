// Package handlers exposes the feed over HTTP.
package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/auth"
	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/feed"
	"github.com/example/feed-platform/services/feed/internal/idempotency"
	"github.com/example/feed-platform/services/feed/internal/karma"
	"github.com/example/feed-platform/services/feed/internal/leaderboard"
)

type Deps struct {
	Feed        *feed.Service
	Karma       *karma.Engine
	Leaderboard *leaderboard.Aggregator
	Idempotency idempotency.Store
	Verifier    auth.JWTVerifier
	Log         *zap.Logger

	LeaderboardWindow time.Duration
	LeaderboardLimit  int
}

// Register mounts the /v1 routes on r. Reads are public and personalise
// has_liked when a token is present; writes require a user.
func Register(r chi.Router, d Deps) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r.Get("/v1/leaderboard", GetLeaderboard(d.Leaderboard, d.LeaderboardWindow, d.LeaderboardLimit))
	r.Get("/v1/authors/{author_id}", GetAuthor(d.Feed, log))

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalUser(d.Verifier))
		r.Get("/v1/feed", GetFeed(d.Feed, log))
		r.Get("/v1/posts/{post_id}", GetPost(d.Feed, log))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier))
		r.Post("/v1/authors", CreateAuthor(d.Feed, log))
		r.Post("/v1/posts", CreatePost(d.Feed, log))
		r.Delete("/v1/posts/{post_id}", DeletePost(d.Karma, log))
		r.Post("/v1/posts/{post_id}/like", ToggleLike(d.Karma, d.Idempotency, domain.KindPost, "post_id", log))
		r.Post("/v1/comments", CreateComment(d.Feed, log))
		r.Delete("/v1/comments/{comment_id}", DeleteComment(d.Karma, log))
		r.Post("/v1/comments/{comment_id}/like", ToggleLike(d.Karma, d.Idempotency, domain.KindComment, "comment_id", log))

		r.With(auth.RequireAdmin).Post("/v1/admin/karma/reconcile", ReconcileKarma(d.Karma, log))
	})
}
