package karma

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/store"
)

// DeleteResult summarises a cascade delete.
type DeleteResult struct {
	Kind            domain.TargetKind `json:"kind"`
	ID              string            `json:"id"`
	CommentsRemoved int               `json:"comments_removed"`
	LikesRemoved    int               `json:"likes_removed"`
}

// DeletePost removes a post, its comments and every like on them. The karma
// those likes earned is debited from each receiving author in the same
// transaction. Only the owner may delete unless admin is set.
func (e *Engine) DeletePost(ctx context.Context, actorID, postID string, admin bool) (DeleteResult, error) {
	return e.remove(ctx, actorID, admin, domain.KindPost, postID, func(tx store.Tx) (store.Removal, error) {
		return tx.CollectPost(ctx, postID)
	})
}

// DeleteComment removes a comment and its whole reply subtree.
func (e *Engine) DeleteComment(ctx context.Context, actorID, commentID string, admin bool) (DeleteResult, error) {
	return e.remove(ctx, actorID, admin, domain.KindComment, commentID, func(tx store.Tx) (store.Removal, error) {
		return tx.CollectComment(ctx, commentID)
	})
}

func (e *Engine) remove(ctx context.Context, actorID string, admin bool, kind domain.TargetKind, id string,
	collect func(tx store.Tx) (store.Removal, error)) (DeleteResult, error) {
	var out DeleteResult
	err := e.retry(ctx, "delete_"+string(kind), func() error {
		return e.store.InTx(ctx, func(tx store.Tx) error {
			r, err := collect(tx)
			if err != nil {
				return err
			}
			if !admin && r.OwnerID != actorID {
				return fmt.Errorf("%w: %s %s belongs to another author", domain.ErrForbidden, kind, id)
			}

			// AuthorIDs is ascending, so concurrent removals lock in the same order.
			for _, authorID := range r.AuthorIDs {
				if _, err := tx.LockAuthor(ctx, authorID); err != nil {
					return err
				}
			}
			tally, err := tx.TallyRemoval(ctx, r)
			if err != nil {
				return err
			}
			likes := 0
			for _, t := range tally {
				if _, err := e.AdjustKarma(ctx, tx, t.AuthorID, -t.Karma()); err != nil {
					return err
				}
				likes += t.PostLikes + t.CommentLikes
			}
			if err := tx.ApplyRemoval(ctx, r); err != nil {
				return err
			}
			out = DeleteResult{Kind: kind, ID: id, CommentsRemoved: len(r.CommentIDs), LikesRemoved: likes}
			return nil
		})
	})
	if err != nil {
		return DeleteResult{}, err
	}
	e.log.Info("cascade delete",
		zap.String("kind", string(kind)), zap.String("id", id), zap.String("actor_id", actorID),
		zap.Int("comments_removed", out.CommentsRemoved), zap.Int("likes_removed", out.LikesRemoved))
	return out, nil
}
