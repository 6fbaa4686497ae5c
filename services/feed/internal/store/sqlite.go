package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/feed-platform/services/feed/internal/domain"
)

// sqliteMigrations mirrors PostgresMigrations. Times are unix nanoseconds.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS authors (
		id          TEXT PRIMARY KEY,
		username    TEXT NOT NULL UNIQUE,
		total_karma INTEGER NOT NULL DEFAULT 0 CHECK (total_karma >= 0),
		created_at  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS posts (
		id         TEXT PRIMARY KEY,
		author_id  TEXT NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at DESC, id DESC);
	CREATE TABLE IF NOT EXISTS comments (
		id         TEXT PRIMARY KEY,
		post_id    TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		author_id  TEXT NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
		parent_id  TEXT,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (id, post_id),
		FOREIGN KEY (parent_id, post_id) REFERENCES comments(id, post_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_comments_parent ON comments(parent_id);`,

	`CREATE TABLE IF NOT EXISTS likes (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		target_kind TEXT NOT NULL CHECK (target_kind IN ('post', 'comment')),
		target_id   TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_likes_unique ON likes(user_id, target_kind, target_id);
	CREATE INDEX IF NOT EXISTS idx_likes_target ON likes(target_kind, target_id);
	CREATE INDEX IF NOT EXISTS idx_likes_created ON likes(created_at);`,
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore keeps the feed in one SQLite file. The pool is limited to a
// single connection, so transactions run one at a time and the author row
// locks of the Tx contract hold trivially.
type SQLiteStore struct {
	sqliteReader
	db *sql.DB
}

// OpenSQLite opens path (":memory:" for a throwaway database) and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 2000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := applySQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqliteReader: sqliteReader{q: db}, db: db}, nil
}

func applySQLiteSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}
	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return err
	}
	for i := current; i < len(sqliteMigrations); i++ {
		if _, err := db.Exec(sqliteMigrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }

func (s *SQLiteStore) CreateAuthor(ctx context.Context, a domain.Author) (domain.Author, error) {
	a, err := prepareAuthor(a)
	if err != nil {
		return domain.Author{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO authors (id, username, total_karma, created_at) VALUES (?, ?, 0, ?)`,
		a.ID, a.Username, a.CreatedAt.UnixNano())
	if err != nil {
		return domain.Author{}, mapSQLiteError(err)
	}
	return a, nil
}

func (s *SQLiteStore) CreatePost(ctx context.Context, p domain.Post) (domain.Post, error) {
	p, err := preparePost(p)
	if err != nil {
		return domain.Post{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO posts (id, author_id, content, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.AuthorID, p.Content, p.CreatedAt.UnixNano())
	if err != nil {
		return domain.Post{}, mapSQLiteError(err)
	}
	return p, nil
}

func (s *SQLiteStore) CreateComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	c, err := prepareComment(c)
	if err != nil {
		return domain.Comment{}, err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if c.ParentID != nil {
			var parentPost string
			err := tx.QueryRowContext(ctx, `SELECT post_id FROM comments WHERE id = ?`, *c.ParentID).Scan(&parentPost)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				return missingParent(*c.ParentID)
			case err != nil:
				return err
			case parentPost != c.PostID:
				return crossPostParent(*c.ParentID, c.PostID)
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO comments (id, post_id, author_id, parent_id, content, created_at)
		                               VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.PostID, c.AuthorID, c.ParentID, c.Content, c.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func (s *SQLiteStore) Snapshot(ctx context.Context, fn func(r Reader) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(sqliteReader{q: tx})
	})
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqliteTx{sqliteReader: sqliteReader{q: tx}})
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return mapSQLiteError(err)
	}
	if err = tx.Commit(); err != nil {
		return mapSQLiteError(err)
	}
	return nil
}

// mapSQLiteError classifies driver errors by message; the driver's result
// codes are not part of a stable API.
func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{domain.ErrNotFound, domain.ErrConflict, domain.ErrValidation, domain.ErrTransient, domain.ErrForbidden} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), strings.Contains(msg, "PRIMARY KEY"):
		return fmt.Errorf("%w: %s", domain.ErrConflict, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %s", domain.ErrTransient, msg)
	}
	return err
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(prefix []any, ids []string) []any {
	args := make([]any, 0, len(prefix)+len(ids))
	args = append(args, prefix...)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type sqliteReader struct {
	q sqlQuerier
}

func (r sqliteReader) GetAuthor(ctx context.Context, id string) (domain.Author, error) {
	var a domain.Author
	var created int64
	err := r.q.QueryRowContext(ctx, `SELECT id, username, total_karma, created_at FROM authors WHERE id = ?`, id).
		Scan(&a.ID, &a.Username, &a.TotalKarma, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Author{}, fmt.Errorf("%w: author %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Author{}, mapSQLiteError(err)
	}
	a.CreatedAt = fromNanos(created)
	return a, nil
}

func (r sqliteReader) AuthorsByID(ctx context.Context, ids []string) (map[string]domain.Author, error) {
	out := make(map[string]domain.Author, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, username, total_karma, created_at FROM authors WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(nil, ids)...)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.Author
		var created int64
		if err := rows.Scan(&a.ID, &a.Username, &a.TotalKarma, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = fromNanos(created)
		out[a.ID] = a
	}
	return out, mapSQLiteError(rows.Err())
}

func (r sqliteReader) ListAuthorIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM authors ORDER BY id`)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, mapSQLiteError(rows.Err())
}

func (r sqliteReader) GetPost(ctx context.Context, id string) (domain.Post, error) {
	posts, err := r.scanPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	if err != nil {
		return domain.Post{}, err
	}
	if len(posts) == 0 {
		return domain.Post{}, fmt.Errorf("%w: post %s", domain.ErrNotFound, id)
	}
	return posts[0], nil
}

func (r sqliteReader) ListPosts(ctx context.Context) ([]domain.Post, error) {
	return r.scanPosts(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, id DESC`)
}

func (r sqliteReader) PostsByAuthor(ctx context.Context, authorID string) ([]domain.Post, error) {
	return r.scanPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE author_id = ? ORDER BY created_at DESC, id DESC`, authorID)
}

func (r sqliteReader) scanPosts(ctx context.Context, q string, args ...any) ([]domain.Post, error) {
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var out []domain.Post
	for rows.Next() {
		var p domain.Post
		var created int64
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = fromNanos(created)
		out = append(out, p)
	}
	return out, mapSQLiteError(rows.Err())
}

func (r sqliteReader) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	comments, err := r.scanComments(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)
	if err != nil {
		return domain.Comment{}, err
	}
	if len(comments) == 0 {
		return domain.Comment{}, fmt.Errorf("%w: comment %s", domain.ErrNotFound, id)
	}
	return comments[0], nil
}

func (r sqliteReader) CommentsByPosts(ctx context.Context, postIDs []string) ([]domain.Comment, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	return r.scanComments(ctx, `SELECT `+commentColumns+` FROM comments WHERE post_id IN (`+placeholders(len(postIDs))+`)
	                            ORDER BY created_at ASC, id ASC`, stringArgs(nil, postIDs)...)
}

func (r sqliteReader) CommentsByAuthor(ctx context.Context, authorID string) ([]domain.Comment, error) {
	return r.scanComments(ctx, `SELECT `+commentColumns+` FROM comments WHERE author_id = ?
	                            ORDER BY created_at ASC, id ASC`, authorID)
}

func (r sqliteReader) scanComments(ctx context.Context, q string, args ...any) ([]domain.Comment, error) {
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var parent sql.NullString
		var created int64
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &parent, &c.Content, &created); err != nil {
			return nil, err
		}
		if parent.Valid {
			c.ParentID = &parent.String
		}
		c.CreatedAt = fromNanos(created)
		out = append(out, c)
	}
	return out, mapSQLiteError(rows.Err())
}

func (r sqliteReader) LikeCount(ctx context.Context, kind domain.TargetKind, targetID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM likes WHERE target_kind = ? AND target_id = ?`,
		string(kind), targetID).Scan(&n)
	return n, mapSQLiteError(err)
}

func (r sqliteReader) LikeCounts(ctx context.Context, kind domain.TargetKind, targetIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(targetIDs))
	if len(targetIDs) == 0 {
		return out, nil
	}
	rows, err := r.q.QueryContext(ctx, `SELECT target_id, COUNT(*) FROM likes
	                                    WHERE target_kind = ? AND target_id IN (`+placeholders(len(targetIDs))+`)
	                                    GROUP BY target_id`, stringArgs([]any{string(kind)}, targetIDs)...)
	if err != nil {
		return nil, mapSQLiteError(err)
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
	return out, mapSQLiteError(rows.Err())
}

func (r sqliteReader) LikedBy(ctx context.Context, userID string, kind domain.TargetKind, targetIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if userID == "" || len(targetIDs) == 0 {
		return out, nil
	}
	rows, err := r.q.QueryContext(ctx, `SELECT target_id FROM likes
	                                    WHERE user_id = ? AND target_kind = ? AND target_id IN (`+placeholders(len(targetIDs))+`)`,
		stringArgs([]any{userID, string(kind)}, targetIDs)...)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, mapSQLiteError(rows.Err())
}

func (r sqliteReader) LikesBy(ctx context.Context, userID string) ([]domain.LikeEvent, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, user_id, target_kind, target_id, created_at FROM likes
	                                    WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var out []domain.LikeEvent
	for rows.Next() {
		var l domain.LikeEvent
		var kind string
		var created int64
		if err := rows.Scan(&l.ID, &l.UserID, &kind, &l.TargetID, &created); err != nil {
			return nil, err
		}
		l.Kind = domain.TargetKind(kind)
		l.CreatedAt = fromNanos(created)
		out = append(out, l)
	}
	return out, mapSQLiteError(rows.Err())
}

func (r sqliteReader) LikesSince(ctx context.Context, since time.Time) ([]domain.AuthorLikes, error) {
	const q = `SELECT a.id, a.username,
	                  SUM(CASE WHEN l.target_kind = 'post' THEN 1 ELSE 0 END),
	                  SUM(CASE WHEN l.target_kind = 'comment' THEN 1 ELSE 0 END)
	           FROM likes l
	           LEFT JOIN posts p ON l.target_kind = 'post' AND p.id = l.target_id
	           LEFT JOIN comments c ON l.target_kind = 'comment' AND c.id = l.target_id
	           JOIN authors a ON a.id = COALESCE(p.author_id, c.author_id)
	           WHERE l.created_at >= ?
	           GROUP BY a.id, a.username
	           ORDER BY a.id`
	rows, err := r.q.QueryContext(ctx, q, since.UnixNano())
	if err != nil {
		return nil, mapSQLiteError(err)
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
	return out, mapSQLiteError(rows.Err())
}

// sqliteTx runs on the single connection, so no other transaction can
// interleave and locking reads are plain reads.
type sqliteTx struct {
	sqliteReader
}

func (t *sqliteTx) TargetAuthor(ctx context.Context, kind domain.TargetKind, targetID string) (string, error) {
	var q string
	switch kind {
	case domain.KindPost:
		q = `SELECT author_id FROM posts WHERE id = ?`
	case domain.KindComment:
		q = `SELECT author_id FROM comments WHERE id = ?`
	default:
		return "", fmt.Errorf("%w: unknown target kind %q", domain.ErrValidation, kind)
	}
	var authorID string
	err := t.q.QueryRowContext(ctx, q, targetID).Scan(&authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, targetID)
	}
	return authorID, mapSQLiteError(err)
}

func (t *sqliteTx) LockAuthor(ctx context.Context, authorID string) (int, error) {
	var karma int
	err := t.q.QueryRowContext(ctx, `SELECT total_karma FROM authors WHERE id = ?`, authorID).Scan(&karma)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: author %s", domain.ErrNotFound, authorID)
	}
	return karma, mapSQLiteError(err)
}

func (t *sqliteTx) SetKarma(ctx context.Context, authorID string, total int) error {
	res, err := t.q.ExecContext(ctx, `UPDATE authors SET total_karma = ? WHERE id = ?`, total, authorID)
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: author %s", domain.ErrNotFound, authorID)
	}
	return nil
}

func (t *sqliteTx) HasLike(ctx context.Context, userID string, kind domain.TargetKind, targetID string) (bool, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM likes WHERE user_id = ? AND target_kind = ? AND target_id = ?`,
		userID, string(kind), targetID).Scan(&n)
	return n > 0, mapSQLiteError(err)
}

func (t *sqliteTx) InsertLike(ctx context.Context, like domain.LikeEvent) error {
	like, err := prepareLike(like)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, `INSERT INTO likes (id, user_id, target_kind, target_id, created_at)
	                                  VALUES (?, ?, ?, ?, ?)
	                                  ON CONFLICT (user_id, target_kind, target_id) DO NOTHING`,
		like.ID, like.UserID, string(like.Kind), like.TargetID, like.CreatedAt.UnixNano())
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s already liked %s %s", domain.ErrConflict, like.UserID, like.Kind, like.TargetID)
	}
	return nil
}

func (t *sqliteTx) DeleteLike(ctx context.Context, userID string, kind domain.TargetKind, targetID string) (bool, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM likes WHERE user_id = ? AND target_kind = ? AND target_id = ?`,
		userID, string(kind), targetID)
	if err != nil {
		return false, mapSQLiteError(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *sqliteTx) CountLikes(ctx context.Context, kind domain.TargetKind, targetID string) (int, error) {
	return t.LikeCount(ctx, kind, targetID)
}

func (t *sqliteTx) ReceivedLikes(ctx context.Context, authorID string) (domain.AuthorLikes, error) {
	const q = `SELECT a.username,
	                  (SELECT COUNT(*) FROM likes l JOIN posts p ON p.id = l.target_id
	                   WHERE l.target_kind = 'post' AND p.author_id = a.id),
	                  (SELECT COUNT(*) FROM likes l JOIN comments c ON c.id = l.target_id
	                   WHERE l.target_kind = 'comment' AND c.author_id = a.id)
	           FROM authors a WHERE a.id = ?`
	out := domain.AuthorLikes{AuthorID: authorID}
	err := t.q.QueryRowContext(ctx, q, authorID).Scan(&out.Username, &out.PostLikes, &out.CommentLikes)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AuthorLikes{}, fmt.Errorf("%w: author %s", domain.ErrNotFound, authorID)
	}
	return out, mapSQLiteError(err)
}

func (t *sqliteTx) CollectPost(ctx context.Context, postID string) (Removal, error) {
	var ownerID string
	err := t.q.QueryRowContext(ctx, `SELECT author_id FROM posts WHERE id = ?`, postID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Removal{}, fmt.Errorf("%w: post %s", domain.ErrNotFound, postID)
	}
	if err != nil {
		return Removal{}, mapSQLiteError(err)
	}
	ids, authors, err := t.commentRows(ctx, `SELECT id, author_id FROM comments WHERE post_id = ?`, postID)
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

func (t *sqliteTx) CollectComment(ctx context.Context, commentID string) (Removal, error) {
	var ownerID string
	err := t.q.QueryRowContext(ctx, `SELECT author_id FROM comments WHERE id = ?`, commentID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Removal{}, fmt.Errorf("%w: comment %s", domain.ErrNotFound, commentID)
	}
	if err != nil {
		return Removal{}, mapSQLiteError(err)
	}
	ids, authors, err := t.commentRows(ctx, `WITH RECURSIVE subtree(id, author_id) AS (
	                                             SELECT id, author_id FROM comments WHERE id = ?
	                                             UNION ALL
	                                             SELECT c.id, c.author_id FROM comments c JOIN subtree s ON c.parent_id = s.id
	                                         )
	                                         SELECT id, author_id FROM subtree`, commentID)
	if err != nil {
		return Removal{}, err
	}
	return Removal{
		OwnerID:    ownerID,
		CommentIDs: sortedUnique(ids...),
		AuthorIDs:  sortedUnique(authors...),
	}, nil
}

func (t *sqliteTx) commentRows(ctx context.Context, q string, arg any) (ids, authors []string, err error) {
	rows, err := t.q.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, nil, mapSQLiteError(err)
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
	return ids, authors, mapSQLiteError(rows.Err())
}

func (t *sqliteTx) TallyRemoval(ctx context.Context, r Removal) ([]domain.AuthorLikes, error) {
	byAuthor := make(map[string]*domain.AuthorLikes)
	if r.PostID != "" {
		const q = `SELECT p.author_id, COUNT(*) FROM likes l JOIN posts p ON p.id = l.target_id
		           WHERE l.target_kind = 'post' AND l.target_id = ? GROUP BY p.author_id`
		if err := t.tally(ctx, q, []any{r.PostID}, func(authorID string, n int) {
			tallyFor(byAuthor, authorID).PostLikes += n
		}); err != nil {
			return nil, err
		}
	}
	if len(r.CommentIDs) > 0 {
		q := `SELECT c.author_id, COUNT(*) FROM likes l JOIN comments c ON c.id = l.target_id
		      WHERE l.target_kind = 'comment' AND l.target_id IN (` + placeholders(len(r.CommentIDs)) + `)
		      GROUP BY c.author_id`
		if err := t.tally(ctx, q, stringArgs(nil, r.CommentIDs), func(authorID string, n int) {
			tallyFor(byAuthor, authorID).CommentLikes += n
		}); err != nil {
			return nil, err
		}
	}
	return mergeTally(byAuthor), nil
}

func (t *sqliteTx) tally(ctx context.Context, q string, args []any, add func(authorID string, n int)) error {
	rows, err := t.q.QueryContext(ctx, q, args...)
	if err != nil {
		return mapSQLiteError(err)
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
	return mapSQLiteError(rows.Err())
}

func (t *sqliteTx) ApplyRemoval(ctx context.Context, r Removal) error {
	if len(r.CommentIDs) > 0 {
		if _, err := t.q.ExecContext(ctx,
			`DELETE FROM likes WHERE target_kind = 'comment' AND target_id IN (`+placeholders(len(r.CommentIDs))+`)`,
			stringArgs(nil, r.CommentIDs)...); err != nil {
			return mapSQLiteError(err)
		}
	}
	if r.PostID != "" {
		if _, err := t.q.ExecContext(ctx, `DELETE FROM likes WHERE target_kind = 'post' AND target_id = ?`, r.PostID); err != nil {
			return mapSQLiteError(err)
		}
		_, err := t.q.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, r.PostID)
		return mapSQLiteError(err)
	}
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM comments WHERE id IN (`+placeholders(len(r.CommentIDs))+`)`,
		stringArgs(nil, r.CommentIDs)...)
	return mapSQLiteError(err)
}
