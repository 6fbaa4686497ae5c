package feed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/feed-platform/internal/platform/analytics"
	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/karma"
	"github.com/example/feed-platform/services/feed/internal/store"
)

func setup(t *testing.T) (*Service, *karma.Engine, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewService(st, nil)
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		if _, err := svc.RegisterAuthor(ctx, name, name); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return svc, karma.NewEngine(st, karma.Options{}), st
}

func TestGetFeed_ComposesViews(t *testing.T) {
	svc, eng, st := setup(t)
	ctx := context.Background()

	older, err := st.CreatePost(ctx, domain.Post{AuthorID: "alice", Content: "older", CreatedAt: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	newer, err := svc.CreatePost(ctx, "bob", "**newer**")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	root, err := svc.CreateComment(ctx, "bob", older.ID, nil, "root")
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if _, err := svc.CreateComment(ctx, "alice", older.ID, &root.ID, "reply"); err != nil {
		t.Fatalf("create reply: %v", err)
	}
	if _, err := eng.Toggle(ctx, "bob", domain.KindPost, older.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := eng.Toggle(ctx, "bob", domain.KindComment, root.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	views, err := svc.GetFeed(ctx, "bob")
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if len(views) != 2 || views[0].ID != newer.ID || views[1].ID != older.ID {
		t.Fatalf("expected newest first, got %+v", views)
	}
	if !strings.Contains(views[0].ContentHTML, "<strong>newer</strong>") || views[0].Username != "bob" {
		t.Fatalf("unexpected newer view %+v", views[0])
	}
	if len(views[0].Comments) != 0 || views[0].Comments == nil {
		t.Fatalf("expected empty non-nil comment list")
	}

	v := views[1]
	if v.LikeCount != 1 || !v.HasLiked || v.CommentCount != 2 {
		t.Fatalf("unexpected older view %+v", v)
	}
	if len(v.Comments) != 1 || len(v.Comments[0].Replies) != 1 {
		t.Fatalf("expected one root with one reply, got %+v", v.Comments)
	}
	rootNode := v.Comments[0]
	if rootNode.LikeCount != 1 || !rootNode.HasLiked || rootNode.Username != "bob" {
		t.Fatalf("unexpected root node %+v", rootNode)
	}
	if reply := rootNode.Replies[0]; reply.Depth != 1 || reply.Username != "alice" {
		t.Fatalf("unexpected reply node %+v", reply)
	}

	anon, err := svc.GetFeed(ctx, "")
	if err != nil {
		t.Fatalf("anonymous feed: %v", err)
	}
	if anon[1].HasLiked || anon[1].Comments[0].HasLiked {
		t.Fatal("anonymous viewer must not have liked anything")
	}
}

func TestGetPost(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	p, err := svc.CreatePost(ctx, "alice", "hello")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	v, err := svc.GetPost(ctx, "", p.ID)
	if err != nil || v.ID != p.ID || v.Username != "alice" {
		t.Fatalf("unexpected view %+v, %v", v, err)
	}
	if _, err := svc.GetPost(ctx, "", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.CreatePost(ctx, "alice", strings.Repeat("x", 5001)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for long post, got %v", err)
	}
	p, _ := svc.CreatePost(ctx, "alice", "ok")
	if _, err := svc.CreateComment(ctx, "bob", p.ID, nil, strings.Repeat("x", 2001)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for long comment, got %v", err)
	}
	if _, err := svc.RegisterAuthor(ctx, "carol", "al"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for short username, got %v", err)
	}
	if _, err := svc.RegisterAuthor(ctx, "alice", "alice2"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate author, got %v", err)
	}
}

type recordingJS struct{ subjects []string }

func (r *recordingJS) PublishAsync(subj string, _ []byte, _ ...nats.PubOpt) (nats.PubAckFuture, error) {
	r.subjects = append(r.subjects, subj)
	return nil, nil
}

func TestAnalytics_PublishedOnCreate(t *testing.T) {
	js := &recordingJS{}
	svc := NewService(store.NewMemoryStore(), nil).WithAnalytics(analytics.New(js, nil))
	ctx := context.Background()

	if _, err := svc.RegisterAuthor(ctx, "alice", "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	p, err := svc.CreatePost(ctx, "alice", "hi")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := svc.CreateComment(ctx, "alice", p.ID, nil, "c"); err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if _, err := svc.CreatePost(ctx, "alice", ""); err == nil {
		t.Fatal("expected validation error")
	}

	want := []string{analytics.SubjectAuthorRegistered, analytics.SubjectPostCreated, analytics.SubjectCommentCreated}
	if len(js.subjects) != len(want) {
		t.Fatalf("expected %v, got %v", want, js.subjects)
	}
	for i := range want {
		if js.subjects[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, js.subjects)
		}
	}
}
