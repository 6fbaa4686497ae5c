package karma

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/store"
)

// Drift is a karma total that disagreed with the like log.
type Drift struct {
	AuthorID string `json:"author_id"`
	Stored   int    `json:"stored"`
	Computed int    `json:"computed"`
}

// ReconcileReport summarises a reconciliation pass over many authors.
type ReconcileReport struct {
	Checked   int     `json:"checked"`
	Corrected []Drift `json:"corrected"`
}

// Reconcile recomputes one author's karma from the likes they received and
// overwrites the stored total when it differs. It is an offline operation
// and never runs on the toggle path.
func (e *Engine) Reconcile(ctx context.Context, authorID string) (*Drift, error) {
	var drift *Drift
	err := e.retry(ctx, "reconcile", func() error {
		drift = nil
		return e.store.InTx(ctx, func(tx store.Tx) error {
			stored, err := tx.LockAuthor(ctx, authorID)
			if err != nil {
				return err
			}
			received, err := tx.ReceivedLikes(ctx, authorID)
			if err != nil {
				return err
			}
			computed := received.Karma()
			if computed == stored {
				return nil
			}
			if err := tx.SetKarma(ctx, authorID, computed); err != nil {
				return err
			}
			drift = &Drift{AuthorID: authorID, Stored: stored, Computed: computed}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if drift != nil {
		e.log.Warn("karma drift corrected",
			zap.String("author_id", authorID), zap.Int("stored", drift.Stored), zap.Int("computed", drift.Computed))
	}
	return drift, nil
}

// ReconcileAll reconciles every author, one transaction each.
func (e *Engine) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	ids, err := e.store.ListAuthorIDs(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Corrected: []Drift{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		drift, err := e.Reconcile(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return report, err
		}
		report.Checked++
		if drift != nil {
			report.Corrected = append(report.Corrected, *drift)
		}
	}
	e.log.Info("karma reconciled", zap.Int("checked", report.Checked), zap.Int("corrected", len(report.Corrected)))
	return report, nil
}

// PurgeResult counts what PurgeAuthor removed.
type PurgeResult struct {
	AuthorID        string `json:"author_id"`
	PostsRemoved    int    `json:"posts_removed"`
	CommentsRemoved int    `json:"comments_removed"`
	LikesWithdrawn  int    `json:"likes_withdrawn"`
}

// PurgeAuthor deletes an author's posts and comments and withdraws every like
// they gave, adjusting the karma of everyone affected. The author row stays.
func (e *Engine) PurgeAuthor(ctx context.Context, authorID string) (PurgeResult, error) {
	out := PurgeResult{AuthorID: authorID}
	if _, err := e.store.GetAuthor(ctx, authorID); err != nil {
		return out, err
	}

	posts, err := e.store.PostsByAuthor(ctx, authorID)
	if err != nil {
		return out, err
	}
	for _, p := range posts {
		res, err := e.DeletePost(ctx, authorID, p.ID, true)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		out.PostsRemoved++
		out.CommentsRemoved += res.CommentsRemoved
	}

	comments, err := e.store.CommentsByAuthor(ctx, authorID)
	if err != nil {
		return out, err
	}
	for _, c := range comments {
		res, err := e.DeleteComment(ctx, authorID, c.ID, true)
		if errors.Is(err, domain.ErrNotFound) {
			// already removed with an ancestor
			continue
		}
		if err != nil {
			return out, err
		}
		out.CommentsRemoved += res.CommentsRemoved
	}

	likes, err := e.store.LikesBy(ctx, authorID)
	if err != nil {
		return out, err
	}
	for _, l := range likes {
		withdrawn, err := e.withdraw(ctx, l)
		if err != nil {
			return out, err
		}
		if withdrawn {
			out.LikesWithdrawn++
		}
	}

	e.log.Info("author purged",
		zap.String("author_id", authorID), zap.Int("posts", out.PostsRemoved),
		zap.Int("comments", out.CommentsRemoved), zap.Int("likes", out.LikesWithdrawn))
	return out, nil
}

// withdraw removes one like and debits its weight, skipping targets that are
// already gone.
func (e *Engine) withdraw(ctx context.Context, l domain.LikeEvent) (bool, error) {
	var removed bool
	err := e.retry(ctx, "withdraw", func() error {
		removed = false
		return e.store.InTx(ctx, func(tx store.Tx) error {
			authorID, err := tx.TargetAuthor(ctx, l.Kind, l.TargetID)
			if err != nil {
				return err
			}
			if _, err := tx.LockAuthor(ctx, authorID); err != nil {
				return err
			}
			ok, err := tx.DeleteLike(ctx, l.UserID, l.Kind, l.TargetID)
			if err != nil || !ok {
				return err
			}
			if _, err := e.AdjustKarma(ctx, tx, authorID, -l.Kind.Weight()); err != nil {
				return err
			}
			removed = true
			return nil
		})
	})
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return removed, err
}
