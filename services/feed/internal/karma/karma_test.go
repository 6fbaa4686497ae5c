package karma

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/store"
)

func backends(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) { fn(t, store.NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) {
		st, err := store.OpenSQLite(":memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

type fixture struct {
	st    store.Store
	posts map[string]domain.Post
	comms map[string]domain.Comment
}

// seed creates authors alice and bob, alice's post "p1", bob's root comment
// "c1" on it and alice's reply "c2" to c1.
func seed(t *testing.T, st store.Store) fixture {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		if _, err := st.CreateAuthor(ctx, domain.Author{ID: id, Username: id}); err != nil {
			t.Fatalf("create author: %v", err)
		}
	}
	p, err := st.CreatePost(ctx, domain.Post{ID: "p1", AuthorID: "alice", Content: "hello"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	c1, err := st.CreateComment(ctx, domain.Comment{ID: "c1", PostID: p.ID, AuthorID: "bob", Content: "first"})
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	parent := c1.ID
	c2, err := st.CreateComment(ctx, domain.Comment{ID: "c2", PostID: p.ID, AuthorID: "alice", ParentID: &parent, Content: "reply"})
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}
	return fixture{
		st:    st,
		posts: map[string]domain.Post{"p1": p},
		comms: map[string]domain.Comment{"c1": c1, "c2": c2},
	}
}

func karmaOf(t *testing.T, st store.Store, id string) int {
	t.Helper()
	a, err := st.GetAuthor(context.Background(), id)
	if err != nil {
		t.Fatalf("get author %s: %v", id, err)
	}
	return a.TotalKarma
}

func toggle(t *testing.T, e *Engine, user string, kind domain.TargetKind, id string) ToggleResult {
	t.Helper()
	res, err := e.Toggle(context.Background(), user, kind, id)
	if err != nil {
		t.Fatalf("toggle %s %s by %s: %v", kind, id, user, err)
	}
	return res
}

// ─── Toggle ──────────────────────────────────────────────────

func TestToggle_LikeCreditsWeight(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seed(t, st)
		e := NewEngine(st, Options{})

		res := toggle(t, e, "carol", domain.KindPost, "p1")
		if !res.Liked || res.LikeCount != 1 || res.AuthorKarma != 5 || res.Message != "Post liked" {
			t.Fatalf("unexpected post result %+v", res)
		}
		res = toggle(t, e, "carol", domain.KindComment, "c1")
		if !res.Liked || res.AuthorID != "bob" || res.AuthorKarma != 1 || res.Message != "Comment liked" {
			t.Fatalf("unexpected comment result %+v", res)
		}
		if got := karmaOf(t, st, "alice"); got != 5 {
			t.Fatalf("expected alice karma 5, got %d", got)
		}
	})
}

func TestToggle_DoubleToggleRestoresState(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seed(t, st)
		e := NewEngine(st, Options{})
		ctx := context.Background()

		before, _ := e.LikeCount(ctx, domain.KindComment, "c2")
		first := toggle(t, e, "bob", domain.KindComment, "c2")
		second := toggle(t, e, "bob", domain.KindComment, "c2")

		if !first.Liked || second.Liked {
			t.Fatalf("expected like then unlike, got %v then %v", first.Liked, second.Liked)
		}
		if second.Message != "Comment unliked" {
			t.Fatalf("unexpected message %q", second.Message)
		}
		after, _ := e.LikeCount(ctx, domain.KindComment, "c2")
		if after != before || second.LikeCount != before {
			t.Fatalf("expected count %d, got %d", before, after)
		}
		if got := karmaOf(t, st, "alice"); got != 0 {
			t.Fatalf("expected alice karma back to 0, got %d", got)
		}
	})
}

func TestToggle_Errors(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	e := NewEngine(st, Options{})
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		kind   domain.TargetKind
		target string
		want   error
	}{
		{"missing post", "carol", domain.KindPost, "nope", domain.ErrNotFound},
		{"missing comment", "carol", domain.KindComment, "nope", domain.ErrNotFound},
		{"comment id as post", "carol", domain.KindPost, "c1", domain.ErrNotFound},
		{"unknown kind", "carol", domain.TargetKind("story"), "p1", domain.ErrValidation},
		{"anonymous", "", domain.KindPost, "p1", domain.ErrValidation},
		{"empty target", "carol", domain.KindPost, "", domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Toggle(ctx, tt.user, tt.kind, tt.target)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestToggle_SelfLikes(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)

	allowed := NewEngine(st, Options{})
	if res := toggle(t, allowed, "alice", domain.KindPost, "p1"); res.AuthorKarma != 5 {
		t.Fatalf("expected self-like to credit 5, got %+v", res)
	}

	strict := NewEngine(st, Options{ForbidSelfLikes: true})
	_, err := strict.Toggle(context.Background(), "bob", domain.KindComment, "c1")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if got := karmaOf(t, st, "bob"); got != 0 {
		t.Fatalf("rejected self-like must not change karma, got %d", got)
	}
}

func TestToggle_ConcurrentLikesFromDistinctUsers(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seed(t, st)
		e := NewEngine(st, Options{})
		ctx := context.Background()

		const n = 25
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := e.Toggle(ctx, fmt.Sprintf("user-%d", i), domain.KindPost, "p1"); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("toggle: %v", err)
		}

		count, _ := st.LikeCount(ctx, domain.KindPost, "p1")
		if count != n {
			t.Fatalf("expected %d likes, got %d", n, count)
		}
		if got := karmaOf(t, st, "alice"); got != n*domain.KindPost.Weight() {
			t.Fatalf("expected karma %d, got %d", n*5, got)
		}
	})
}

func TestToggle_ConcurrentTogglesBySameUser(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seed(t, st)
		e := NewEngine(st, Options{})
		ctx := context.Background()

		const k = 11
		var wg sync.WaitGroup
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.Toggle(ctx, "carol", domain.KindComment, "c1"); err != nil {
					t.Errorf("toggle: %v", err)
				}
			}()
		}
		wg.Wait()

		count, _ := st.LikeCount(ctx, domain.KindComment, "c1")
		if count != k%2 {
			t.Fatalf("expected %d stored likes, got %d", k%2, count)
		}
		if got := karmaOf(t, st, "bob"); got != count {
			t.Fatalf("karma %d does not match %d likes", got, count)
		}
	})
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ToggleEvent
}

func (r *recordingNotifier) LikeToggled(_ context.Context, ev ToggleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestToggle_NotifiesAfterCommit(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	n := &recordingNotifier{}
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	e := NewEngine(st, Options{Notifier: n, Now: func() time.Time { return at }})

	toggle(t, e, "carol", domain.KindPost, "p1")
	toggle(t, e, "carol", domain.KindPost, "p1")
	_, _ = e.Toggle(context.Background(), "carol", domain.KindPost, "missing")

	if len(n.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(n.events))
	}
	if !n.events[0].Liked || n.events[1].Liked || n.events[0].AuthorID != "alice" || !n.events[0].At.Equal(at) {
		t.Fatalf("unexpected events %+v", n.events)
	}
}

// racingStore makes every transaction behave as if another request inserted
// the same like between the HasLike check and the insert.
type racingStore struct {
	store.Store
}

func (r racingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(racingTx{tx})
	})
}

type racingTx struct {
	store.Tx
}

func (racingTx) HasLike(context.Context, string, domain.TargetKind, string) (bool, error) {
	return false, nil
}

func (racingTx) InsertLike(_ context.Context, like domain.LikeEvent) error {
	return fmt.Errorf("%w: %s already liked %s", domain.ErrConflict, like.UserID, like.TargetID)
}

func TestToggle_DuplicateInsertIsAbsorbed(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	toggle(t, NewEngine(st, Options{}), "carol", domain.KindPost, "p1")

	n := &recordingNotifier{}
	e := NewEngine(racingStore{st}, Options{Notifier: n})
	res, err := e.Toggle(context.Background(), "carol", domain.KindPost, "p1")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !res.Liked || res.LikeCount != 1 || res.AuthorID != "alice" || res.AuthorKarma != domain.KindPost.Weight() {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := karmaOf(t, st, "alice"); got != domain.KindPost.Weight() {
		t.Fatalf("karma changed to %d", got)
	}
	if len(n.events) != 0 {
		t.Fatalf("expected no notification, got %+v", n.events)
	}
}

// ─── Retry ───────────────────────────────────────────────────

type flakyStore struct {
	store.Store
	failures int
	calls    int
	err      error
}

func (f *flakyStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.Store.InTx(ctx, fn)
}

func TestToggle_RetriesTransientErrors(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(t, mem)

	tests := []struct {
		name      string
		failures  int
		err       error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{"recovers on second attempt", 1, domain.ErrTransient, 3, 2, nil},
		{"gives up after budget", 5, domain.ErrTransient, 3, 3, domain.ErrTransient},
		{"single attempt budget", 5, domain.ErrTransient, 1, 1, domain.ErrTransient},
		{"budget clamped to three", 5, domain.ErrTransient, 10, 3, domain.ErrTransient},
		{"validation never retried", 5, domain.ErrValidation, 3, 1, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &flakyStore{Store: mem, failures: tt.failures, err: fmt.Errorf("%w: injected", tt.err)}
			e := NewEngine(fs, Options{MaxAttempts: tt.attempts})

			_, err := e.Toggle(context.Background(), "carol", domain.KindComment, "c2")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if fs.calls != tt.wantCalls {
				t.Fatalf("expected %d attempts, got %d", tt.wantCalls, fs.calls)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	want := []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
	for attempt, w := range want {
		if got := backoffDelay(attempt); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}
}

// ─── Ledger ──────────────────────────────────────────────────

func TestAdjustKarma_ClampsAtZero(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	core, logs := observer.New(zap.WarnLevel)
	e := NewEngine(st, Options{Log: zap.New(core)})
	ctx := context.Background()

	var total int
	err := st.InTx(ctx, func(tx store.Tx) error {
		var err error
		if total, err = e.AdjustKarma(ctx, tx, "bob", 3); err != nil {
			return err
		}
		total, err = e.AdjustKarma(ctx, tx, "bob", -5)
		return err
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if total != 0 || karmaOf(t, st, "bob") != 0 {
		t.Fatalf("expected clamp to 0, got %d", total)
	}
	if logs.FilterMessage("karma would go negative, clamping").Len() != 1 {
		t.Fatalf("expected one clamp warning, got %d", logs.Len())
	}
}

// ─── Reconcile ───────────────────────────────────────────────

func TestReconcile_InvariantHoldsAfterRandomToggles(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seed(t, st)
		e := NewEngine(st, Options{})
		ctx := context.Background()

		rng := rand.New(rand.NewSource(7))
		targets := []struct {
			kind domain.TargetKind
			id   string
		}{{domain.KindPost, "p1"}, {domain.KindComment, "c1"}, {domain.KindComment, "c2"}}
		for i := 0; i < 200; i++ {
			tg := targets[rng.Intn(len(targets))]
			toggle(t, e, fmt.Sprintf("user-%d", rng.Intn(6)), tg.kind, tg.id)
		}

		report, err := e.ReconcileAll(ctx)
		if err != nil {
			t.Fatalf("reconcile all: %v", err)
		}
		if report.Checked != 2 || len(report.Corrected) != 0 {
			t.Fatalf("expected no drift, got %+v", report)
		}

		p, _ := st.LikeCount(ctx, domain.KindPost, "p1")
		c2, _ := st.LikeCount(ctx, domain.KindComment, "c2")
		if got := karmaOf(t, st, "alice"); got != 5*p+c2 {
			t.Fatalf("alice karma %d, expected %d", got, 5*p+c2)
		}
	})
}

func TestReconcile_CorrectsDrift(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seed(t, st)
		e := NewEngine(st, Options{})
		ctx := context.Background()
		toggle(t, e, "carol", domain.KindPost, "p1")
		toggle(t, e, "carol", domain.KindComment, "c2")

		if err := st.InTx(ctx, func(tx store.Tx) error {
			if _, err := tx.LockAuthor(ctx, "alice"); err != nil {
				return err
			}
			return tx.SetKarma(ctx, "alice", 42)
		}); err != nil {
			t.Fatalf("corrupt karma: %v", err)
		}

		drift, err := e.Reconcile(ctx, "alice")
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if drift == nil || drift.Stored != 42 || drift.Computed != 6 {
			t.Fatalf("unexpected drift %+v", drift)
		}
		if got := karmaOf(t, st, "alice"); got != 6 {
			t.Fatalf("expected 6 after reconcile, got %d", got)
		}
		if _, err := e.Reconcile(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

// ─── Cascade delete ──────────────────────────────────────────

func TestDeletePost_DebitsEveryReceivingAuthor(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seed(t, st)
		e := NewEngine(st, Options{})
		ctx := context.Background()
		toggle(t, e, "carol", domain.KindPost, "p1")
		toggle(t, e, "dave", domain.KindPost, "p1")
		toggle(t, e, "carol", domain.KindComment, "c1")
		toggle(t, e, "dave", domain.KindComment, "c1")
		toggle(t, e, "carol", domain.KindComment, "c2")

		if karmaOf(t, st, "alice") != 11 || karmaOf(t, st, "bob") != 2 {
			t.Fatalf("unexpected karma before delete")
		}

		if _, err := e.DeletePost(ctx, "bob", "p1", false); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden for non-owner, got %v", err)
		}

		res, err := e.DeletePost(ctx, "alice", "p1", false)
		if err != nil {
			t.Fatalf("delete post: %v", err)
		}
		if res.CommentsRemoved != 2 || res.LikesRemoved != 5 {
			t.Fatalf("unexpected result %+v", res)
		}
		if karmaOf(t, st, "alice") != 0 || karmaOf(t, st, "bob") != 0 {
			t.Fatalf("expected karma debited to 0, got alice=%d bob=%d", karmaOf(t, st, "alice"), karmaOf(t, st, "bob"))
		}
		if _, err := st.GetComment(ctx, "c2"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected reply removed, got %v", err)
		}
		if likes, _ := st.LikesBy(ctx, "carol"); len(likes) != 0 {
			t.Fatalf("expected carol's likes removed, got %d", len(likes))
		}
		if _, err := e.Toggle(ctx, "carol", domain.KindPost, "p1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound toggling a deleted post, got %v", err)
		}

		report, err := e.ReconcileAll(ctx)
		if err != nil || len(report.Corrected) != 0 {
			t.Fatalf("expected no drift after delete, got %+v, %v", report, err)
		}
	})
}

func TestDeleteComment_RemovesSubtree(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seed(t, st)
		e := NewEngine(st, Options{})
		ctx := context.Background()
		toggle(t, e, "carol", domain.KindPost, "p1")
		toggle(t, e, "carol", domain.KindComment, "c1")
		toggle(t, e, "carol", domain.KindComment, "c2")

		if _, err := e.DeleteComment(ctx, "alice", "c1", false); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		res, err := e.DeleteComment(ctx, "bob", "c1", false)
		if err != nil {
			t.Fatalf("delete comment: %v", err)
		}
		if res.CommentsRemoved != 2 || res.LikesRemoved != 2 {
			t.Fatalf("unexpected result %+v", res)
		}
		if karmaOf(t, st, "alice") != 5 || karmaOf(t, st, "bob") != 0 {
			t.Fatalf("unexpected karma alice=%d bob=%d", karmaOf(t, st, "alice"), karmaOf(t, st, "bob"))
		}
		if _, err := st.GetPost(ctx, "p1"); err != nil {
			t.Fatalf("post must survive: %v", err)
		}
	})
}

func TestDeletePost_AdminOverride(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	e := NewEngine(st, Options{})
	if _, err := e.DeletePost(context.Background(), "moderator", "p1", true); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestDeletePost_ConcurrentWithToggles(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	e := NewEngine(st, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Toggle(ctx, fmt.Sprintf("user-%d", i), domain.KindComment, "c1")
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("toggle: %v", err)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := e.DeletePost(ctx, "alice", "p1", false); err != nil {
			t.Errorf("delete: %v", err)
		}
	}()
	wg.Wait()

	if got := karmaOf(t, st, "bob"); got != 0 {
		t.Fatalf("expected bob karma 0 after cascade, got %d", got)
	}
	report, err := e.ReconcileAll(ctx)
	if err != nil || len(report.Corrected) != 0 {
		t.Fatalf("expected no drift, got %+v, %v", report, err)
	}
}

// ─── Purge ───────────────────────────────────────────────────

func TestPurgeAuthor(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seed(t, st)
		ctx := context.Background()
		if _, err := st.CreateAuthor(ctx, domain.Author{ID: "carol", Username: "carol"}); err != nil {
			t.Fatalf("create author: %v", err)
		}
		post, err := st.CreatePost(ctx, domain.Post{AuthorID: "carol", Content: "spam"})
		if err != nil {
			t.Fatalf("create post: %v", err)
		}
		e := NewEngine(st, Options{})
		toggle(t, e, "carol", domain.KindPost, "p1")
		toggle(t, e, "carol", domain.KindComment, "c1")
		toggle(t, e, "alice", domain.KindPost, post.ID)

		res, err := e.PurgeAuthor(ctx, "carol")
		if err != nil {
			t.Fatalf("purge: %v", err)
		}
		if res.PostsRemoved != 1 || res.LikesWithdrawn != 2 {
			t.Fatalf("unexpected purge result %+v", res)
		}
		if karmaOf(t, st, "alice") != 0 || karmaOf(t, st, "bob") != 0 || karmaOf(t, st, "carol") != 0 {
			t.Fatalf("expected all karma withdrawn")
		}
		if _, err := e.PurgeAuthor(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
