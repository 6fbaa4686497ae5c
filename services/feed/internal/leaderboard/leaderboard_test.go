package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/store"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func likeAt(t *testing.T, st store.Store, user string, kind domain.TargetKind, id string, at time.Time) {
	t.Helper()
	err := st.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertLike(context.Background(), domain.LikeEvent{UserID: user, Kind: kind, TargetID: id, CreatedAt: at})
	})
	if err != nil {
		t.Fatalf("insert like: %v", err)
	}
}

func TestTopKarma_Window(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if _, err := st.CreateAuthor(ctx, domain.Author{ID: "U", Username: "u"}); err != nil {
		t.Fatalf("create author: %v", err)
	}
	p, _ := st.CreatePost(ctx, domain.Post{AuthorID: "U", Content: "post"})
	c, _ := st.CreateComment(ctx, domain.Comment{PostID: p.ID, AuthorID: "U", Content: "comment"})

	likeAt(t, st, "v1", domain.KindPost, p.ID, now.Add(-25*time.Hour))
	likeAt(t, st, "v1", domain.KindComment, c.ID, now.Add(-25*time.Hour))
	agg := NewAggregator(st, nil, clock)

	if got := agg.TopKarma(ctx, 24*time.Hour, 5); len(got) != 0 {
		t.Fatalf("expected U absent with only old likes, got %+v", got)
	}

	likeAt(t, st, "v2", domain.KindPost, p.ID, now.Add(-time.Hour))
	got := agg.TopKarma(ctx, 24*time.Hour, 5)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %+v", got)
	}
	want := Entry{AuthorID: "U", Username: "u", Karma: 5, PostLikes: 1, CommentLikes: 0}
	if got[0] != want {
		t.Fatalf("expected %+v, got %+v", want, got[0])
	}
}

type fakeSource struct {
	rows  []domain.AuthorLikes
	err   error
	since time.Time
}

func (f *fakeSource) LikesSince(_ context.Context, since time.Time) ([]domain.AuthorLikes, error) {
	f.since = since
	return f.rows, f.err
}

func TestTopKarma_OrderingAndLimit(t *testing.T) {
	src := &fakeSource{rows: []domain.AuthorLikes{
		{AuthorID: "d", CommentLikes: 5},
		{AuthorID: "b", PostLikes: 1},
		{AuthorID: "a", PostLikes: 1},
		{AuthorID: "c", PostLikes: 2, CommentLikes: 1},
		{AuthorID: "z"},
	}}
	agg := NewAggregator(src, nil, clock)

	got := agg.TopKarma(context.Background(), 0, 0)
	order := ""
	for _, e := range got {
		order += fmt.Sprintf("%s:%d ", e.AuthorID, e.Karma)
	}
	if order != "c:11 a:5 b:5 d:5 " {
		t.Fatalf("unexpected order %q", order)
	}
	if !src.since.Equal(now.Add(-DefaultWindow)) {
		t.Fatalf("expected default window, since=%v", src.since)
	}

	if got := agg.TopKarma(context.Background(), time.Hour, 2); len(got) != 2 || got[1].AuthorID != "a" {
		t.Fatalf("expected top 2 [c a], got %+v", got)
	}
}

func TestTopKarma_StoreErrorDegradesToEmpty(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	agg := NewAggregator(&fakeSource{err: errors.New("connection refused")}, zap.New(core), clock)

	got := agg.TopKarma(context.Background(), time.Hour, 5)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}
}

func TestTopKarma_EmptyLog(t *testing.T) {
	agg := NewAggregator(store.NewMemoryStore(), nil, clock)
	if got := agg.TopKarma(context.Background(), time.Hour, 5); len(got) != 0 {
		t.Fatalf("expected empty leaderboard, got %+v", got)
	}
}
