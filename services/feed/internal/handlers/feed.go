package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/api"
	"github.com/example/feed-platform/internal/platform/httpserver"
	"github.com/example/feed-platform/services/feed/internal/feed"
	"github.com/example/feed-platform/services/feed/internal/leaderboard"
)

type createAuthorRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
}

type createPostRequest struct {
	Content string `json:"content" validate:"required"`
}

type createCommentRequest struct {
	PostID   string  `json:"post_id" validate:"required"`
	ParentID *string `json:"parent_id,omitempty" validate:"omitempty,min=1"`
	Content  string  `json:"content" validate:"required"`
}

type feedResponse struct {
	Posts []feed.PostView `json:"posts"`
}

type leaderboardResponse struct {
	Window  string              `json:"window"`
	Entries []leaderboard.Entry `json:"entries"`
}

// GetFeed handles GET /v1/feed
func GetFeed(svc *feed.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		posts, err := svc.GetFeed(r.Context(), viewer(r))
		if err != nil {
			writeDomainError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, feedResponse{Posts: posts})
	}
}

// GetPost handles GET /v1/posts/{post_id}
func GetPost(svc *feed.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID, ok := pathID(w, r, "post_id")
		if !ok {
			return
		}
		view, err := svc.GetPost(r.Context(), viewer(r), postID)
		if err != nil {
			writeDomainError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, view)
	}
}

// GetLeaderboard handles GET /v1/leaderboard?window=24h&limit=5
func GetLeaderboard(agg *leaderboard.Aggregator, defaultWindow time.Duration, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window, limit := defaultWindow, defaultLimit
		rid := httpserver.RequestIDFromContext(r.Context())
		q := r.URL.Query()
		if raw := strings.TrimSpace(q.Get("window")); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				api.BadRequest(w, "INVALID_WINDOW", "window must be a positive duration such as 24h", rid, nil)
				return
			}
			window = d
		}
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > leaderboard.MaxLimit {
				api.BadRequest(w, "INVALID_LIMIT", "limit must be between 1 and "+strconv.Itoa(leaderboard.MaxLimit), rid, nil)
				return
			}
			limit = n
		}
		entries := agg.TopKarma(r.Context(), window, limit)
		api.WriteJSON(w, http.StatusOK, leaderboardResponse{Window: window.String(), Entries: entries})
	}
}

// CreateAuthor handles POST /v1/authors
func CreateAuthor(svc *feed.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req createAuthorRequest
		if !decode(w, r, &req) {
			return
		}
		a, err := svc.RegisterAuthor(r.Context(), userID, req.Username)
		if err != nil {
			writeDomainError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, a)
	}
}

// GetAuthor handles GET /v1/authors/{author_id}
func GetAuthor(svc *feed.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorID, ok := pathID(w, r, "author_id")
		if !ok {
			return
		}
		a, err := svc.GetAuthor(r.Context(), authorID)
		if err != nil {
			writeDomainError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, a)
	}
}

// CreatePost handles POST /v1/posts
func CreatePost(svc *feed.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req createPostRequest
		if !decode(w, r, &req) {
			return
		}
		p, err := svc.CreatePost(r.Context(), userID, req.Content)
		if err != nil {
			writeDomainError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, p)
	}
}

// CreateComment handles POST /v1/comments
func CreateComment(svc *feed.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req createCommentRequest
		if !decode(w, r, &req) {
			return
		}
		c, err := svc.CreateComment(r.Context(), userID, req.PostID, req.ParentID, req.Content)
		if err != nil {
			writeDomainError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, c)
	}
}
