// Package leaderboard ranks authors by karma earned inside a trailing window,
// computed from the like log on every call.
package leaderboard

import (
	"cmp"
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/example/feed-platform/services/feed/internal/domain"
)

const (
	DefaultWindow = 24 * time.Hour
	DefaultLimit  = 5
	MaxLimit      = 100
)

// Source is the read the aggregator needs; store.Reader satisfies it.
type Source interface {
	LikesSince(ctx context.Context, since time.Time) ([]domain.AuthorLikes, error)
}

// Entry is one ranked author.
type Entry struct {
	AuthorID     string `json:"author_id"`
	Username     string `json:"username"`
	Karma        int    `json:"karma"`
	PostLikes    int    `json:"post_likes"`
	CommentLikes int    `json:"comment_likes"`
}

// Aggregator ranks authors by karma earned inside a time window.
type Aggregator struct {
	src Source
	log *zap.Logger
	now func() time.Time
}

// NewAggregator returns an Aggregator reading from src; nil log and now use defaults.
func NewAggregator(src Source, log *zap.Logger, now func() time.Time) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{src: src, log: log, now: now}
}

// TopKarma returns up to limit authors ordered by karma desc, then author id.
// A non-positive window or limit falls back to the defaults; limit is capped
// at MaxLimit. Store failures are logged and yield an empty list.
func (a *Aggregator) TopKarma(ctx context.Context, window time.Duration, limit int) []Entry {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	since := a.now().Add(-window)
	rows, err := a.src.LikesSince(ctx, since)
	if err != nil {
		a.log.Warn("leaderboard unavailable, returning empty list",
			zap.Duration("window", window), zap.Error(err))
		return []Entry{}
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		k := r.Karma()
		if k <= 0 {
			continue
		}
		entries = append(entries, Entry{
			AuthorID:     r.AuthorID,
			Username:     r.Username,
			Karma:        k,
			PostLikes:    r.PostLikes,
			CommentLikes: r.CommentLikes,
		})
	}
	slices.SortFunc(entries, func(x, y Entry) int {
		if c := cmp.Compare(y.Karma, x.Karma); c != 0 {
			return c
		}
		return cmp.Compare(x.AuthorID, y.AuthorID)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
