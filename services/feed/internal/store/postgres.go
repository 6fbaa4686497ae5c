package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/feed-platform/services/feed/internal/domain"
)

// PostgresMigrations is the feed schema, one entry per version.
//
// likes.target_id is polymorphic and carries no foreign key; rows are removed
// explicitly together with their target by ApplyRemoval.
var PostgresMigrations = []string{
	`CREATE TABLE authors (
		id          TEXT PRIMARY KEY,
		username    TEXT NOT NULL UNIQUE,
		total_karma INTEGER NOT NULL DEFAULT 0 CHECK (total_karma >= 0),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE posts (
		id         TEXT PRIMARY KEY,
		author_id  TEXT NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
		content    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX posts_created_idx ON posts (created_at DESC, id DESC);
	CREATE INDEX posts_author_idx ON posts (author_id);
	CREATE TABLE comments (
		id         TEXT PRIMARY KEY,
		post_id    TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		author_id  TEXT NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
		parent_id  TEXT,
		content    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (id, post_id),
		FOREIGN KEY (parent_id, post_id) REFERENCES comments(id, post_id) ON DELETE CASCADE
	);
	CREATE INDEX comments_post_idx ON comments (post_id, created_at, id);
	CREATE INDEX comments_parent_idx ON comments (parent_id);
	CREATE INDEX comments_author_idx ON comments (author_id);`,

	`CREATE TABLE likes (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		target_kind TEXT NOT NULL CHECK (target_kind IN ('post', 'comment')),
		target_id   TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, target_kind, target_id)
	);
	CREATE INDEX likes_target_idx ON likes (target_kind, target_id);
	CREATE INDEX likes_created_idx ON likes (created_at);`,
}

const pgLockTimeout = 2 * time.Second

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists the feed in Postgres. It owns the pool.
type PostgresStore struct {
	pgReader
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: pool}, pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateAuthor(ctx context.Context, a domain.Author) (domain.Author, error) {
	a, err := prepareAuthor(a)
	if err != nil {
		return domain.Author{}, err
	}
	const q = `INSERT INTO authors (id, username, total_karma, created_at) VALUES ($1, $2, 0, $3)`
	if _, err := s.pool.Exec(ctx, q, a.ID, a.Username, a.CreatedAt); err != nil {
		return domain.Author{}, mapPgError(err)
	}
	return a, nil
}

func (s *PostgresStore) CreatePost(ctx context.Context, p domain.Post) (domain.Post, error) {
	p, err := preparePost(p)
	if err != nil {
		return domain.Post{}, err
	}
	const q = `INSERT INTO posts (id, author_id, content, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, p.ID, p.AuthorID, p.Content, p.CreatedAt); err != nil {
		return domain.Post{}, mapPgError(err)
	}
	return p, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	c, err := prepareComment(c)
	if err != nil {
		return domain.Comment{}, err
	}
	if c.ParentID != nil {
		var parentPost string
		err := s.pool.QueryRow(ctx, `SELECT post_id FROM comments WHERE id = $1`, *c.ParentID).Scan(&parentPost)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return domain.Comment{}, missingParent(*c.ParentID)
		case err != nil:
			return domain.Comment{}, mapPgError(err)
		case parentPost != c.PostID:
			return domain.Comment{}, crossPostParent(*c.ParentID, c.PostID)
		}
	}
	const q = `INSERT INTO comments (id, post_id, author_id, parent_id, content, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, q, c.ID, c.PostID, c.AuthorID, c.ParentID, c.Content, c.CreatedAt); err != nil {
		return domain.Comment{}, mapPgError(err)
	}
	return c, nil
}

// Snapshot reads inside one REPEATABLE READ, READ ONLY transaction.
func (s *PostgresStore) Snapshot(ctx context.Context, fn func(r Reader) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(pgReader{q: tx})
	})
	return mapPgError(err)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", pgLockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, timeout); err != nil {
			return err
		}
		return fn(&pgTx{pgReader: pgReader{q: tx}, tx: tx})
	})
	return mapPgError(err)
}

// mapPgError translates driver errors into the domain taxonomy. Domain errors
// pass through unchanged.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.Message)
	case "22P02": // invalid_text_representation
		return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.Message)
	case "23514": // check_violation
		return fmt.Errorf("%w: %s", domain.ErrValidation, pgErr.Message)
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		return fmt.Errorf("%w: %s", domain.ErrTransient, pgErr.Message)
	}
	return err
}

// pgReader runs the read queries on either the pool or a transaction.
type pgReader struct {
	q querier
}

func (r pgReader) GetAuthor(ctx context.Context, id string) (domain.Author, error) {
	var a domain.Author
	err := r.q.QueryRow(ctx,
		`SELECT id, username, total_karma, created_at FROM authors WHERE id = $1`, id).
		Scan(&a.ID, &a.Username, &a.TotalKarma, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Author{}, fmt.Errorf("%w: author %s", domain.ErrNotFound, id)
	}
	return a, mapPgError(err)
}

func (r pgReader) AuthorsByID(ctx context.Context, ids []string) (map[string]domain.Author, error) {
	out := make(map[string]domain.Author, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, username, total_karma, created_at FROM authors WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.Author
		if err := rows.Scan(&a.ID, &a.Username, &a.TotalKarma, &a.CreatedAt); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, mapPgError(rows.Err())
}

func (r pgReader) ListAuthorIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM authors ORDER BY id`)
	if err != nil {
		return nil, mapPgError(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, mapPgError(err)
}

const postColumns = `id, author_id, content, created_at`

func (r pgReader) GetPost(ctx context.Context, id string) (domain.Post, error) {
	var p domain.Post
	err := r.q.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id).
		Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, fmt.Errorf("%w: post %s", domain.ErrNotFound, id)
	}
	return p, mapPgError(err)
}

func (r pgReader) ListPosts(ctx context.Context) ([]domain.Post, error) {
	return r.scanPosts(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, id DESC`)
}

func (r pgReader) PostsByAuthor(ctx context.Context, authorID string) ([]domain.Post, error) {
	return r.scanPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE author_id = $1
	                         ORDER BY created_at DESC, id DESC`, authorID)
}

func (r pgReader) scanPosts(ctx context.Context, q string, args ...any) ([]domain.Post, error) {
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []domain.Post
	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapPgError(rows.Err())
}

const commentColumns = `id, post_id, author_id, parent_id, content, created_at`

func (r pgReader) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	var c domain.Comment
	err := r.q.QueryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id).
		Scan(&c.ID, &c.PostID, &c.AuthorID, &c.ParentID, &c.Content, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Comment{}, fmt.Errorf("%w: comment %s", domain.ErrNotFound, id)
	}
	return c, mapPgError(err)
}

func (r pgReader) CommentsByPosts(ctx context.Context, postIDs []string) ([]domain.Comment, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	return r.scanComments(ctx, `SELECT `+commentColumns+` FROM comments WHERE post_id = ANY($1)
	                            ORDER BY created_at ASC, id ASC`, postIDs)
}

func (r pgReader) CommentsByAuthor(ctx context.Context, authorID string) ([]domain.Comment, error) {
	return r.scanComments(ctx, `SELECT `+commentColumns+` FROM comments WHERE author_id = $1
	                            ORDER BY created_at ASC, id ASC`, authorID)
}

func (r pgReader) scanComments(ctx context.Context, q string, args ...any) ([]domain.Comment, error) {
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.ParentID, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, mapPgError(rows.Err())
}

func (r pgReader) LikeCount(ctx context.Context, kind domain.TargetKind, targetID string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM likes WHERE target_kind = $1 AND target_id = $2`, string(kind), targetID).Scan(&n)
	return n, mapPgError(err)
}

func (r pgReader) LikeCounts(ctx context.Context, kind domain.TargetKind, targetIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(targetIDs))
	if len(targetIDs) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, `SELECT target_id, COUNT(*) FROM likes
	                             WHERE target_kind = $1 AND target_id = ANY($2)
	                             GROUP BY target_id`, string(kind), targetIDs)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, mapPgError(rows.Err())
}

func (r pgReader) LikedBy(ctx context.Context, userID string, kind domain.TargetKind, targetIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if userID == "" || len(targetIDs) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, `SELECT target_id FROM likes
	                             WHERE user_id = $1 AND target_kind = $2 AND target_id = ANY($3)`,
		userID, string(kind), targetIDs)
	if err != nil {
		return nil, mapPgError(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapPgError(err)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r pgReader) LikesBy(ctx context.Context, userID string) ([]domain.LikeEvent, error) {
	rows, err := r.q.Query(ctx, `SELECT id, user_id, target_kind, target_id, created_at FROM likes
	                             WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []domain.LikeEvent
	for rows.Next() {
		var l domain.LikeEvent
		var kind string
		if err := rows.Scan(&l.ID, &l.UserID, &kind, &l.TargetID, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Kind = domain.TargetKind(kind)
		out = append(out, l)
	}
	return out, mapPgError(rows.Err())
}

func (r pgReader) LikesSince(ctx context.Context, since time.Time) ([]domain.AuthorLikes, error) {
	const q = `SELECT a.id, a.username,
	                  COUNT(*) FILTER (WHERE l.target_kind = 'post'),
	                  COUNT(*) FILTER (WHERE l.target_kind = 'comment')
	           FROM likes l
	           LEFT JOIN posts p ON l.target_kind = 'post' AND p.id = l.target_id
	           LEFT JOIN comments c ON l.target_kind = 'comment' AND c.id = l.target_id
	           JOIN authors a ON a.id = COALESCE(p.author_id, c.author_id)
	           WHERE l.created_at >= $1
	           GROUP BY a.id, a.username
	           ORDER BY a.id`
	rows, err := r.q.Query(ctx, q, since)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []domain.AuthorLikes
	for rows.Next() {
		var a domain.AuthorLikes
		if err := rows.Scan(&a.AuthorID, &a.Username, &a.PostLikes, &a.CommentLikes); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapPgError(rows.Err())
}

// pgTx implements Tx with row locks. Targets are pinned with FOR SHARE so a
// concurrent cascade delete (FOR UPDATE) waits for in-flight toggles.
type pgTx struct {
	pgReader
	tx pgx.Tx
}

func (t *pgTx) TargetAuthor(ctx context.Context, kind domain.TargetKind, targetID string) (string, error) {
	var q string
	switch kind {
	case domain.KindPost:
		q = `SELECT author_id FROM posts WHERE id = $1 FOR SHARE`
	case domain.KindComment:
		q = `SELECT author_id FROM comments WHERE id = $1 FOR SHARE`
	default:
		return "", fmt.Errorf("%w: unknown target kind %q", domain.ErrValidation, kind)
	}
	var authorID string
	err := t.tx.QueryRow(ctx, q, targetID).Scan(&authorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, targetID)
	}
	return authorID, mapPgError(err)
}

func (t *pgTx) LockAuthor(ctx context.Context, authorID string) (int, error) {
	var karma int
	err := t.tx.QueryRow(ctx, `SELECT total_karma FROM authors WHERE id = $1 FOR UPDATE`, authorID).Scan(&karma)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: author %s", domain.ErrNotFound, authorID)
	}
	return karma, mapPgError(err)
}

func (t *pgTx) SetKarma(ctx context.Context, authorID string, total int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE authors SET total_karma = $2 WHERE id = $1`, authorID, total)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: author %s", domain.ErrNotFound, authorID)
	}
	return nil
}

func (t *pgTx) HasLike(ctx context.Context, userID string, kind domain.TargetKind, targetID string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM likes
	                           WHERE user_id = $1 AND target_kind = $2 AND target_id = $3)`,
		userID, string(kind), targetID).Scan(&ok)
	return ok, mapPgError(err)
}

func (t *pgTx) InsertLike(ctx context.Context, like domain.LikeEvent) error {
	like, err := prepareLike(like)
	if err != nil {
		return err
	}
	const q = `INSERT INTO likes (id, user_id, target_kind, target_id, created_at)
	           VALUES ($1, $2, $3, $4, $5)
	           ON CONFLICT (user_id, target_kind, target_id) DO NOTHING`
	tag, err := t.tx.Exec(ctx, q, like.ID, like.UserID, string(like.Kind), like.TargetID, like.CreatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s already liked %s %s", domain.ErrConflict, like.UserID, like.Kind, like.TargetID)
	}
	return nil
}

func (t *pgTx) DeleteLike(ctx context.Context, userID string, kind domain.TargetKind, targetID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM likes WHERE user_id = $1 AND target_kind = $2 AND target_id = $3`,
		userID, string(kind), targetID)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) CountLikes(ctx context.Context, kind domain.TargetKind, targetID string) (int, error) {
	return t.LikeCount(ctx, kind, targetID)
}

func (t *pgTx) ReceivedLikes(ctx context.Context, authorID string) (domain.AuthorLikes, error) {
	const q = `SELECT a.username,
	                  (SELECT COUNT(*) FROM likes l JOIN posts p ON p.id = l.target_id
	                   WHERE l.target_kind = 'post' AND p.author_id = a.id),
	                  (SELECT COUNT(*) FROM likes l JOIN comments c ON c.id = l.target_id
	                   WHERE l.target_kind = 'comment' AND c.author_id = a.id)
	           FROM authors a WHERE a.id = $1`
	out := domain.AuthorLikes{AuthorID: authorID}
	err := t.tx.QueryRow(ctx, q, authorID).Scan(&out.Username, &out.PostLikes, &out.CommentLikes)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AuthorLikes{}, fmt.Errorf("%w: author %s", domain.ErrNotFound, authorID)
	}
	return out, mapPgError(err)
}

func (t *pgTx) CollectPost(ctx context.Context, postID string) (Removal, error) {
	var ownerID string
	err := t.tx.QueryRow(ctx, `SELECT author_id FROM posts WHERE id = $1 FOR UPDATE`, postID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Removal{}, fmt.Errorf("%w: post %s", domain.ErrNotFound, postID)
	}
	if err != nil {
		return Removal{}, mapPgError(err)
	}

	ids, authors, err := t.lockComments(ctx, `SELECT id, author_id FROM comments WHERE post_id = $1
	                                          ORDER BY id FOR UPDATE`, postID)
	if err != nil {
		return Removal{}, err
	}
	return Removal{
		OwnerID:    ownerID,
		PostID:     postID,
		CommentIDs: sortedUnique(ids...),
		AuthorIDs:  sortedUnique(append(authors, ownerID)...),
	}, nil
}

// CollectComment walks the reply tree one level at a time, locking each level
// before reading the next so no reply can be attached to a locked comment.
func (t *pgTx) CollectComment(ctx context.Context, commentID string) (Removal, error) {
	var ownerID string
	err := t.tx.QueryRow(ctx, `SELECT author_id FROM comments WHERE id = $1 FOR UPDATE`, commentID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Removal{}, fmt.Errorf("%w: comment %s", domain.ErrNotFound, commentID)
	}
	if err != nil {
		return Removal{}, mapPgError(err)
	}

	all := []string{commentID}
	authors := []string{ownerID}
	level := []string{commentID}
	for len(level) > 0 {
		ids, levelAuthors, err := t.lockComments(ctx, `SELECT id, author_id FROM comments WHERE parent_id = ANY($1)
		                                               ORDER BY id FOR UPDATE`, level)
		if err != nil {
			return Removal{}, err
		}
		all = append(all, ids...)
		authors = append(authors, levelAuthors...)
		level = ids
	}
	return Removal{
		OwnerID:    ownerID,
		CommentIDs: sortedUnique(all...),
		AuthorIDs:  sortedUnique(authors...),
	}, nil
}

func (t *pgTx) lockComments(ctx context.Context, q string, arg any) (ids, authors []string, err error) {
	rows, err := t.tx.Query(ctx, q, arg)
	if err != nil {
		return nil, nil, mapPgError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, authorID string
		if err := rows.Scan(&id, &authorID); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		authors = append(authors, authorID)
	}
	return ids, authors, mapPgError(rows.Err())
}

func (t *pgTx) TallyRemoval(ctx context.Context, r Removal) ([]domain.AuthorLikes, error) {
	byAuthor := make(map[string]*domain.AuthorLikes)
	if r.PostID != "" {
		const q = `SELECT p.author_id, COUNT(*) FROM likes l JOIN posts p ON p.id = l.target_id
		           WHERE l.target_kind = 'post' AND l.target_id = $1
		           GROUP BY p.author_id`
		if err := t.tally(ctx, q, r.PostID, func(authorID string, n int) {
			tallyFor(byAuthor, authorID).PostLikes += n
		}); err != nil {
			return nil, err
		}
	}
	if len(r.CommentIDs) > 0 {
		const q = `SELECT c.author_id, COUNT(*) FROM likes l JOIN comments c ON c.id = l.target_id
		           WHERE l.target_kind = 'comment' AND l.target_id = ANY($1)
		           GROUP BY c.author_id`
		if err := t.tally(ctx, q, r.CommentIDs, func(authorID string, n int) {
			tallyFor(byAuthor, authorID).CommentLikes += n
		}); err != nil {
			return nil, err
		}
	}
	return mergeTally(byAuthor), nil
}

func (t *pgTx) tally(ctx context.Context, q string, arg any, add func(authorID string, n int)) error {
	rows, err := t.tx.Query(ctx, q, arg)
	if err != nil {
		return mapPgError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var authorID string
		var n int
		if err := rows.Scan(&authorID, &n); err != nil {
			return err
		}
		add(authorID, n)
	}
	return mapPgError(rows.Err())
}

func (t *pgTx) ApplyRemoval(ctx context.Context, r Removal) error {
	if len(r.CommentIDs) > 0 {
		if _, err := t.tx.Exec(ctx, `DELETE FROM likes WHERE target_kind = 'comment' AND target_id = ANY($1)`,
			r.CommentIDs); err != nil {
			return mapPgError(err)
		}
	}
	if r.PostID != "" {
		if _, err := t.tx.Exec(ctx, `DELETE FROM likes WHERE target_kind = 'post' AND target_id = $1`, r.PostID); err != nil {
			return mapPgError(err)
		}
		// comments follow through ON DELETE CASCADE
		_, err := t.tx.Exec(ctx, `DELETE FROM posts WHERE id = $1`, r.PostID)
		return mapPgError(err)
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM comments WHERE id = ANY($1)`, r.CommentIDs)
	return mapPgError(err)
}
