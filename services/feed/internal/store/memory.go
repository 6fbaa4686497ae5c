package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/feed-platform/services/feed/internal/domain"
)

type target struct {
	kind domain.TargetKind
	id   string
}

// MemoryStore is a development-only in-memory implementation.
//
// mu guards the maps and is only held for the duration of a single call.
// Karma rows are serialised by one lock per author, held for the whole
// transaction, so transactions on different authors never wait on each other.
// Transaction writes become visible all at once when the transaction commits.
type MemoryStore struct {
	mu       sync.RWMutex
	authors  map[string]domain.Author
	posts    map[string]domain.Post
	comments map[string]domain.Comment
	likes    map[target]map[string]domain.LikeEvent // target -> user -> like
	doomed   map[string]struct{}                    // post/comment ids claimed by an open removal
	pending  map[likeKey]struct{}                   // likes staged by an open transaction

	locksMu     sync.Mutex
	authorLocks map[string]chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		authors:     make(map[string]domain.Author),
		posts:       make(map[string]domain.Post),
		comments:    make(map[string]domain.Comment),
		likes:       make(map[target]map[string]domain.LikeEvent),
		doomed:      make(map[string]struct{}),
		pending:     make(map[likeKey]struct{}),
		authorLocks: make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

func (s *MemoryStore) CreateAuthor(_ context.Context, a domain.Author) (domain.Author, error) {
	a, err := prepareAuthor(a)
	if err != nil {
		return domain.Author{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[a.ID]; ok {
		return domain.Author{}, fmt.Errorf("%w: author %s already exists", domain.ErrConflict, a.ID)
	}
	for _, other := range s.authors {
		if other.Username == a.Username {
			return domain.Author{}, fmt.Errorf("%w: username %q is taken", domain.ErrConflict, a.Username)
		}
	}
	s.authors[a.ID] = a
	return a, nil
}

func (s *MemoryStore) CreatePost(_ context.Context, p domain.Post) (domain.Post, error) {
	p, err := preparePost(p)
	if err != nil {
		return domain.Post{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[p.AuthorID]; !ok {
		return domain.Post{}, fmt.Errorf("%w: author %s", domain.ErrNotFound, p.AuthorID)
	}
	s.posts[p.ID] = p
	return p, nil
}

func (s *MemoryStore) CreateComment(_ context.Context, c domain.Comment) (domain.Comment, error) {
	c, err := prepareComment(c)
	if err != nil {
		return domain.Comment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[c.AuthorID]; !ok {
		return domain.Comment{}, fmt.Errorf("%w: author %s", domain.ErrNotFound, c.AuthorID)
	}
	if _, ok := s.posts[c.PostID]; !ok || s.isDoomed(c.PostID) {
		return domain.Comment{}, fmt.Errorf("%w: post %s", domain.ErrNotFound, c.PostID)
	}
	if c.ParentID != nil {
		parent, ok := s.comments[*c.ParentID]
		if !ok || s.isDoomed(parent.ID) {
			return domain.Comment{}, missingParent(*c.ParentID)
		}
		if parent.PostID != c.PostID {
			return domain.Comment{}, crossPostParent(parent.ID, c.PostID)
		}
	}
	s.comments[c.ID] = c
	return c, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, fn func(r Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memView{s})
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newMemTx(s)
	defer tx.release()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

// Reader methods take the read lock and delegate to memView.

func (s *MemoryStore) GetAuthor(ctx context.Context, id string) (domain.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.GetAuthor(ctx, id)
}

func (s *MemoryStore) AuthorsByID(ctx context.Context, ids []string) (map[string]domain.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.AuthorsByID(ctx, ids)
}

func (s *MemoryStore) ListAuthorIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.ListAuthorIDs(ctx)
}

func (s *MemoryStore) GetPost(ctx context.Context, id string) (domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.GetPost(ctx, id)
}

func (s *MemoryStore) ListPosts(ctx context.Context) ([]domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.ListPosts(ctx)
}

func (s *MemoryStore) PostsByAuthor(ctx context.Context, authorID string) ([]domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.PostsByAuthor(ctx, authorID)
}

func (s *MemoryStore) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.GetComment(ctx, id)
}

func (s *MemoryStore) CommentsByPosts(ctx context.Context, postIDs []string) ([]domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.CommentsByPosts(ctx, postIDs)
}

func (s *MemoryStore) CommentsByAuthor(ctx context.Context, authorID string) ([]domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.CommentsByAuthor(ctx, authorID)
}

func (s *MemoryStore) LikeCount(ctx context.Context, kind domain.TargetKind, targetID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.LikeCount(ctx, kind, targetID)
}

func (s *MemoryStore) LikeCounts(ctx context.Context, kind domain.TargetKind, targetIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.LikeCounts(ctx, kind, targetIDs)
}

func (s *MemoryStore) LikedBy(ctx context.Context, userID string, kind domain.TargetKind, targetIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.LikedBy(ctx, userID, kind, targetIDs)
}

func (s *MemoryStore) LikesBy(ctx context.Context, userID string) ([]domain.LikeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.LikesBy(ctx, userID)
}

func (s *MemoryStore) LikesSince(ctx context.Context, since time.Time) ([]domain.AuthorLikes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s}.LikesSince(ctx, since)
}

// helpers below expect s.mu to be held.

func (s *MemoryStore) isDoomed(id string) bool {
	_, ok := s.doomed[id]
	return ok
}

func (s *MemoryStore) targetAuthor(kind domain.TargetKind, id string) (string, bool) {
	switch kind {
	case domain.KindPost:
		p, ok := s.posts[id]
		return p.AuthorID, ok
	case domain.KindComment:
		c, ok := s.comments[id]
		return c.AuthorID, ok
	}
	return "", false
}

func (s *MemoryStore) authorLock(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.authorLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.authorLocks[id] = ch
	}
	return ch
}

// memView reads the maps without locking; callers hold s.mu.
type memView struct{ s *MemoryStore }

func (v memView) GetAuthor(_ context.Context, id string) (domain.Author, error) {
	a, ok := v.s.authors[id]
	if !ok {
		return domain.Author{}, fmt.Errorf("%w: author %s", domain.ErrNotFound, id)
	}
	return a, nil
}

func (v memView) AuthorsByID(_ context.Context, ids []string) (map[string]domain.Author, error) {
	out := make(map[string]domain.Author, len(ids))
	for _, id := range ids {
		if a, ok := v.s.authors[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (v memView) ListAuthorIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(v.s.authors))
	for id := range v.s.authors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (v memView) GetPost(_ context.Context, id string) (domain.Post, error) {
	p, ok := v.s.posts[id]
	if !ok {
		return domain.Post{}, fmt.Errorf("%w: post %s", domain.ErrNotFound, id)
	}
	return p, nil
}

func (v memView) ListPosts(context.Context) ([]domain.Post, error) {
	out := make([]domain.Post, 0, len(v.s.posts))
	for _, p := range v.s.posts {
		out = append(out, p)
	}
	sortPostsNewestFirst(out)
	return out, nil
}

func (v memView) PostsByAuthor(_ context.Context, authorID string) ([]domain.Post, error) {
	var out []domain.Post
	for _, p := range v.s.posts {
		if p.AuthorID == authorID {
			out = append(out, p)
		}
	}
	sortPostsNewestFirst(out)
	return out, nil
}

func (v memView) GetComment(_ context.Context, id string) (domain.Comment, error) {
	c, ok := v.s.comments[id]
	if !ok {
		return domain.Comment{}, fmt.Errorf("%w: comment %s", domain.ErrNotFound, id)
	}
	return c, nil
}

func (v memView) CommentsByPosts(_ context.Context, postIDs []string) ([]domain.Comment, error) {
	want := make(map[string]struct{}, len(postIDs))
	for _, id := range postIDs {
		want[id] = struct{}{}
	}
	var out []domain.Comment
	for _, c := range v.s.comments {
		if _, ok := want[c.PostID]; ok {
			out = append(out, c)
		}
	}
	sortCommentsOldestFirst(out)
	return out, nil
}

func (v memView) CommentsByAuthor(_ context.Context, authorID string) ([]domain.Comment, error) {
	var out []domain.Comment
	for _, c := range v.s.comments {
		if c.AuthorID == authorID {
			out = append(out, c)
		}
	}
	sortCommentsOldestFirst(out)
	return out, nil
}

func (v memView) LikeCount(_ context.Context, kind domain.TargetKind, targetID string) (int, error) {
	return len(v.s.likes[target{kind, targetID}]), nil
}

func (v memView) LikeCounts(_ context.Context, kind domain.TargetKind, targetIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(targetIDs))
	for _, id := range targetIDs {
		if n := len(v.s.likes[target{kind, id}]); n > 0 {
			out[id] = n
		}
	}
	return out, nil
}

func (v memView) LikedBy(_ context.Context, userID string, kind domain.TargetKind, targetIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if userID == "" {
		return out, nil
	}
	for _, id := range targetIDs {
		if _, ok := v.s.likes[target{kind, id}][userID]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (v memView) LikesBy(_ context.Context, userID string) ([]domain.LikeEvent, error) {
	var out []domain.LikeEvent
	for _, users := range v.s.likes {
		if l, ok := users[userID]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v memView) LikesSince(_ context.Context, since time.Time) ([]domain.AuthorLikes, error) {
	byAuthor := make(map[string]*domain.AuthorLikes)
	for t, users := range v.s.likes {
		authorID, ok := v.s.targetAuthor(t.kind, t.id)
		if !ok {
			continue
		}
		for _, l := range users {
			if l.CreatedAt.Before(since) {
				continue
			}
			a := tallyFor(byAuthor, authorID)
			a.Username = v.s.authors[authorID].Username
			if t.kind == domain.KindPost {
				a.PostLikes++
			} else {
				a.CommentLikes++
			}
		}
	}
	return mergeTally(byAuthor), nil
}

func sortPostsNewestFirst(ps []domain.Post) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID > ps[j].ID
	})
}

func sortCommentsOldestFirst(cs []domain.Comment) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

type likeKey struct {
	t    target
	user string
}

// memTx stages its writes and publishes them under s.mu in one step on
// commit, so readers never observe a half-applied transaction. Pending
// reservations keep a (target, user) pair owned by at most one open
// transaction. Author locks and removal claims are released when the
// transaction ends.
type memTx struct {
	s    *MemoryStore
	held map[string]chan struct{}

	karma    map[string]int
	added    map[target]map[string]domain.LikeEvent
	removed  map[target]map[string]struct{}
	reserved map[likeKey]struct{}
	claimed  []string
	removals []Removal
	gone     map[string]struct{} // targets removed by a staged ApplyRemoval
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:        s,
		held:     make(map[string]chan struct{}),
		karma:    make(map[string]int),
		added:    make(map[target]map[string]domain.LikeEvent),
		removed:  make(map[target]map[string]struct{}),
		reserved: make(map[likeKey]struct{}),
		gone:     make(map[string]struct{}),
	}
}

func (tx *memTx) release() {
	for _, ch := range tx.held {
		<-ch
	}
	tx.held = nil
}

func (tx *memTx) commit() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for t, users := range tx.removed {
		for u := range users {
			delete(s.likes[t], u)
		}
	}
	for t, users := range tx.added {
		if s.likes[t] == nil {
			s.likes[t] = make(map[string]domain.LikeEvent, len(users))
		}
		for u, l := range users {
			s.likes[t][u] = l
		}
	}
	for id, total := range tx.karma {
		if a, ok := s.authors[id]; ok {
			a.TotalKarma = total
			s.authors[id] = a
		}
	}
	for _, r := range tx.removals {
		for _, id := range r.CommentIDs {
			delete(s.likes, target{domain.KindComment, id})
			delete(s.comments, id)
		}
		if r.PostID != "" {
			delete(s.likes, target{domain.KindPost, r.PostID})
			delete(s.posts, r.PostID)
		}
	}
	tx.unclaim()
}

func (tx *memTx) rollback() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.unclaim()
}

// unclaim drops reservations and removal claims; expects s.mu held for writing.
func (tx *memTx) unclaim() {
	for k := range tx.reserved {
		delete(tx.s.pending, k)
	}
	for _, id := range tx.claimed {
		delete(tx.s.doomed, id)
	}
	tx.reserved = nil
	tx.claimed = nil
}

// hasLike and likesOn read through the staged writes; expect s.mu held.
func (tx *memTx) hasLike(t target, userID string) bool {
	if _, ok := tx.gone[t.id]; ok {
		return false
	}
	if _, ok := tx.added[t][userID]; ok {
		return true
	}
	if _, ok := tx.removed[t][userID]; ok {
		return false
	}
	_, ok := tx.s.likes[t][userID]
	return ok
}

func (tx *memTx) likesOn(t target) int {
	if _, ok := tx.gone[t.id]; ok {
		return 0
	}
	n := len(tx.added[t])
	for u := range tx.s.likes[t] {
		_, dropped := tx.removed[t][u]
		_, replaced := tx.added[t][u]
		if !dropped && !replaced {
			n++
		}
	}
	return n
}

func (tx *memTx) TargetAuthor(_ context.Context, kind domain.TargetKind, targetID string) (string, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	authorID, ok := tx.s.targetAuthor(kind, targetID)
	if !ok || tx.s.isDoomed(targetID) {
		return "", fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, targetID)
	}
	return authorID, nil
}

func (tx *memTx) LockAuthor(ctx context.Context, authorID string) (int, error) {
	if _, ok := tx.held[authorID]; !ok {
		tx.s.mu.RLock()
		_, exists := tx.s.authors[authorID]
		tx.s.mu.RUnlock()
		if !exists {
			return 0, fmt.Errorf("%w: author %s", domain.ErrNotFound, authorID)
		}

		ch := tx.s.authorLock(authorID)
		select {
		case ch <- struct{}{}:
			tx.held[authorID] = ch
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: lock author %s: %v", domain.ErrTransient, authorID, ctx.Err())
		}
	}

	if total, ok := tx.karma[authorID]; ok {
		return total, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.authors[authorID].TotalKarma, nil
}

func (tx *memTx) SetKarma(_ context.Context, authorID string, total int) error {
	if _, ok := tx.held[authorID]; !ok {
		return fmt.Errorf("set karma for %s without holding its lock", authorID)
	}
	tx.s.mu.RLock()
	_, ok := tx.s.authors[authorID]
	tx.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: author %s", domain.ErrNotFound, authorID)
	}
	tx.karma[authorID] = total
	return nil
}

func (tx *memTx) HasLike(_ context.Context, userID string, kind domain.TargetKind, targetID string) (bool, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.hasLike(target{kind, targetID}, userID), nil
}

func (tx *memTx) InsertLike(_ context.Context, like domain.LikeEvent) error {
	like, err := prepareLike(like)
	if err != nil {
		return err
	}
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	if _, ok := tx.s.targetAuthor(like.Kind, like.TargetID); !ok || tx.s.isDoomed(like.TargetID) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, like.Kind, like.TargetID)
	}
	t := target{like.Kind, like.TargetID}
	k := likeKey{t, like.UserID}
	_, mine := tx.reserved[k]
	_, busy := tx.s.pending[k]
	if tx.hasLike(t, like.UserID) || (busy && !mine) {
		return fmt.Errorf("%w: %s already liked %s %s", domain.ErrConflict, like.UserID, like.Kind, like.TargetID)
	}

	tx.s.pending[k] = struct{}{}
	tx.reserved[k] = struct{}{}
	delete(tx.removed[t], like.UserID)
	if tx.added[t] == nil {
		tx.added[t] = make(map[string]domain.LikeEvent)
	}
	tx.added[t][like.UserID] = like
	return nil
}

func (tx *memTx) DeleteLike(_ context.Context, userID string, kind domain.TargetKind, targetID string) (bool, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	t := target{kind, targetID}
	k := likeKey{t, userID}
	if !tx.hasLike(t, userID) {
		return false, nil
	}
	if _, mine := tx.reserved[k]; !mine {
		if _, busy := tx.s.pending[k]; busy {
			return false, fmt.Errorf("%w: like by %s on %s %s is being changed", domain.ErrTransient, userID, kind, targetID)
		}
		tx.s.pending[k] = struct{}{}
		tx.reserved[k] = struct{}{}
	}

	delete(tx.added[t], userID)
	if _, ok := tx.s.likes[t][userID]; ok {
		if tx.removed[t] == nil {
			tx.removed[t] = make(map[string]struct{})
		}
		tx.removed[t][userID] = struct{}{}
	}
	return true, nil
}

func (tx *memTx) CountLikes(_ context.Context, kind domain.TargetKind, targetID string) (int, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.likesOn(target{kind, targetID}), nil
}

func (tx *memTx) ReceivedLikes(_ context.Context, authorID string) (domain.AuthorLikes, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	a, ok := tx.s.authors[authorID]
	if !ok {
		return domain.AuthorLikes{}, fmt.Errorf("%w: author %s", domain.ErrNotFound, authorID)
	}
	targets := make(map[target]struct{}, len(tx.s.likes))
	for t := range tx.s.likes {
		targets[t] = struct{}{}
	}
	for t := range tx.added {
		targets[t] = struct{}{}
	}

	out := domain.AuthorLikes{AuthorID: authorID, Username: a.Username}
	for t := range targets {
		if owner, ok := tx.s.targetAuthor(t.kind, t.id); !ok || owner != authorID {
			continue
		}
		if t.kind == domain.KindPost {
			out.PostLikes += tx.likesOn(t)
		} else {
			out.CommentLikes += tx.likesOn(t)
		}
	}
	return out, nil
}

func (tx *memTx) CollectPost(_ context.Context, postID string) (Removal, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	p, ok := tx.s.posts[postID]
	if !ok || tx.s.isDoomed(postID) {
		return Removal{}, fmt.Errorf("%w: post %s", domain.ErrNotFound, postID)
	}
	r := Removal{OwnerID: p.AuthorID, PostID: postID}
	authors := []string{p.AuthorID}
	for _, c := range tx.s.comments {
		if c.PostID == postID {
			r.CommentIDs = append(r.CommentIDs, c.ID)
			authors = append(authors, c.AuthorID)
		}
	}
	sort.Strings(r.CommentIDs)
	r.AuthorIDs = sortedUnique(authors...)
	tx.claim(append([]string{postID}, r.CommentIDs...))
	return r, nil
}

func (tx *memTx) CollectComment(_ context.Context, commentID string) (Removal, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	root, ok := tx.s.comments[commentID]
	if !ok || tx.s.isDoomed(commentID) {
		return Removal{}, fmt.Errorf("%w: comment %s", domain.ErrNotFound, commentID)
	}
	children := make(map[string][]domain.Comment)
	for _, c := range tx.s.comments {
		if c.PostID == root.PostID && !c.IsRoot() {
			children[*c.ParentID] = append(children[*c.ParentID], c)
		}
	}

	r := Removal{OwnerID: root.AuthorID}
	authors := []string{}
	queue := []domain.Comment{root}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		r.CommentIDs = append(r.CommentIDs, c.ID)
		authors = append(authors, c.AuthorID)
		queue = append(queue, children[c.ID]...)
	}
	sort.Strings(r.CommentIDs)
	r.AuthorIDs = sortedUnique(authors...)
	tx.claim(r.CommentIDs)
	return r, nil
}

// claim marks ids as being removed; expects s.mu held for writing.
func (tx *memTx) claim(ids []string) {
	for _, id := range ids {
		tx.s.doomed[id] = struct{}{}
	}
	tx.claimed = append(tx.claimed, ids...)
}

func (tx *memTx) TallyRemoval(_ context.Context, r Removal) ([]domain.AuthorLikes, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	byAuthor := make(map[string]*domain.AuthorLikes)
	if r.PostID != "" {
		if n := tx.likesOn(target{domain.KindPost, r.PostID}); n > 0 {
			tallyFor(byAuthor, tx.s.posts[r.PostID].AuthorID).PostLikes += n
		}
	}
	for _, id := range r.CommentIDs {
		if n := tx.likesOn(target{domain.KindComment, id}); n > 0 {
			tallyFor(byAuthor, tx.s.comments[id].AuthorID).CommentLikes += n
		}
	}
	return mergeTally(byAuthor), nil
}

func (tx *memTx) ApplyRemoval(_ context.Context, r Removal) error {
	for _, id := range r.CommentIDs {
		tx.gone[id] = struct{}{}
	}
	if r.PostID != "" {
		tx.gone[r.PostID] = struct{}{}
	}
	tx.removals = append(tx.removals, r)
	return nil
}
