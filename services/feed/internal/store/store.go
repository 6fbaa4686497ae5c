// Package store persists authors, posts, comments and the like log.
//
// Three backends implement Store:
//   - PostgresStore: production, row locks via SELECT ... FOR UPDATE.
//   - SQLiteStore: single node / local development, one writer at a time.
//   - MemoryStore: tests and development only, state is lost on restart.
package store

import (
	"context"
	"time"

	"github.com/example/feed-platform/services/feed/internal/domain"
)

// Reader is the read side shared by the store itself and by snapshots.
type Reader interface {
	GetAuthor(ctx context.Context, id string) (domain.Author, error)
	AuthorsByID(ctx context.Context, ids []string) (map[string]domain.Author, error)
	ListAuthorIDs(ctx context.Context) ([]string, error)

	GetPost(ctx context.Context, id string) (domain.Post, error)
	// ListPosts returns every post, newest first (id desc on ties).
	ListPosts(ctx context.Context) ([]domain.Post, error)
	PostsByAuthor(ctx context.Context, authorID string) ([]domain.Post, error)

	GetComment(ctx context.Context, id string) (domain.Comment, error)
	// CommentsByPosts returns the comments of the given posts, oldest first (id asc on ties).
	CommentsByPosts(ctx context.Context, postIDs []string) ([]domain.Comment, error)
	CommentsByAuthor(ctx context.Context, authorID string) ([]domain.Comment, error)

	LikeCount(ctx context.Context, kind domain.TargetKind, targetID string) (int, error)
	LikeCounts(ctx context.Context, kind domain.TargetKind, targetIDs []string) (map[string]int, error)
	LikedBy(ctx context.Context, userID string, kind domain.TargetKind, targetIDs []string) (map[string]bool, error)
	LikesBy(ctx context.Context, userID string) ([]domain.LikeEvent, error)
	// LikesSince groups likes created at or after since by the author of the
	// liked target. Authors without qualifying likes are absent.
	LikesSince(ctx context.Context, since time.Time) ([]domain.AuthorLikes, error)
}

// Store defines the contract for feed persistence.
type Store interface {
	Reader

	CreateAuthor(ctx context.Context, a domain.Author) (domain.Author, error)
	CreatePost(ctx context.Context, p domain.Post) (domain.Post, error)
	// CreateComment rejects a parent that lives on another post with ErrValidation.
	CreateComment(ctx context.Context, c domain.Comment) (domain.Comment, error)

	// Snapshot runs fn against a consistent read-only view.
	Snapshot(ctx context.Context, fn func(r Reader) error) error
	// InTx runs fn in one transaction. Any error from fn rolls back every
	// write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write side used by the karma engine. Locks taken through a Tx
// are held until the transaction ends.
type Tx interface {
	// TargetAuthor resolves the author of a post or comment and pins the
	// target against concurrent removal.
	TargetAuthor(ctx context.Context, kind domain.TargetKind, targetID string) (string, error)
	// LockAuthor takes the exclusive lock on an author's karma row and
	// returns the current total. Locking the same author twice is a no-op.
	LockAuthor(ctx context.Context, authorID string) (int, error)
	SetKarma(ctx context.Context, authorID string, total int) error

	HasLike(ctx context.Context, userID string, kind domain.TargetKind, targetID string) (bool, error)
	// InsertLike returns ErrConflict when the (user, kind, target) triple exists.
	InsertLike(ctx context.Context, like domain.LikeEvent) error
	DeleteLike(ctx context.Context, userID string, kind domain.TargetKind, targetID string) (bool, error)
	CountLikes(ctx context.Context, kind domain.TargetKind, targetID string) (int, error)
	// ReceivedLikes counts every like on the author's posts and comments.
	ReceivedLikes(ctx context.Context, authorID string) (domain.AuthorLikes, error)

	// CollectPost locks a post with all its comments and describes what
	// deleting it removes.
	CollectPost(ctx context.Context, postID string) (Removal, error)
	// CollectComment locks a comment with all its descendants.
	CollectComment(ctx context.Context, commentID string) (Removal, error)
	// TallyRemoval counts the likes that ApplyRemoval will delete, per
	// receiving author, sorted by author id.
	TallyRemoval(ctx context.Context, r Removal) ([]domain.AuthorLikes, error)
	ApplyRemoval(ctx context.Context, r Removal) error
}

// Removal describes a cascade delete rooted at a post or a comment.
type Removal struct {
	OwnerID    string   // author of the root target
	PostID     string   // set when a whole post is removed
	CommentIDs []string // every removed comment, descendants included
	AuthorIDs  []string // authors owning any removed target, ascending
}

// RootKind reports whether the removal is rooted at a post or a comment.
func (r Removal) RootKind() domain.TargetKind {
	if r.PostID != "" {
		return domain.KindPost
	}
	return domain.KindComment
}
