// Package karma owns the like index and the karma ledger. Every like
// mutation and its karma adjustment commit in one store transaction.
package karma

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/store"
)

// Notifier receives committed toggles. Implementations must not block for long.
type Notifier interface {
	LikeToggled(ctx context.Context, ev ToggleEvent)
}

// ToggleEvent describes one committed like or unlike.
type ToggleEvent struct {
	UserID      string            `json:"user_id"`
	Kind        domain.TargetKind `json:"target_kind"`
	TargetID    string            `json:"target_id"`
	AuthorID    string            `json:"author_id"`
	Liked       bool              `json:"liked"`
	LikeCount   int               `json:"like_count"`
	AuthorKarma int               `json:"author_karma"`
	At          time.Time         `json:"at"`
}

// ToggleResult is the state of a target and its author after a toggle.
type ToggleResult struct {
	Liked       bool   `json:"liked"`
	LikeCount   int    `json:"like_count"`
	AuthorID    string `json:"author_id"`
	AuthorKarma int    `json:"author_karma"`
	Message     string `json:"message"`

	applied bool
}

// Options configures an Engine; zero values pick the defaults.
type Options struct {
	Log      *zap.Logger
	Notifier Notifier
	// MaxAttempts bounds retries of transient data errors, clamped to 1..3.
	MaxAttempts     int
	ForbidSelfLikes bool
	Now             func() time.Time
}

// Engine applies likes and the karma they carry in one transaction.
type Engine struct {
	store       store.Store
	log         *zap.Logger
	notifier    Notifier
	maxAttempts int
	forbidSelf  bool
	now         func() time.Time
}

// NewEngine returns an Engine over st.
func NewEngine(st store.Store, opts Options) *Engine {
	e := &Engine{
		store:       st,
		log:         opts.Log,
		notifier:    opts.Notifier,
		maxAttempts: opts.MaxAttempts,
		forbidSelf:  opts.ForbidSelfLikes,
		now:         opts.Now,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.maxAttempts < 1 || e.maxAttempts > maxAttempts {
		e.maxAttempts = maxAttempts
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Toggle likes the target if userID has not liked it yet and unlikes it
// otherwise, adjusting the target author's karma by the kind's weight.
func (e *Engine) Toggle(ctx context.Context, userID string, kind domain.TargetKind, targetID string) (ToggleResult, error) {
	if strings.TrimSpace(userID) == "" {
		return ToggleResult{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if !kind.Valid() {
		return ToggleResult{}, fmt.Errorf("%w: unknown target kind %q", domain.ErrValidation, kind)
	}
	if strings.TrimSpace(targetID) == "" {
		return ToggleResult{}, fmt.Errorf("%w: target id is required", domain.ErrValidation)
	}

	var res ToggleResult
	err := e.retry(ctx, "toggle", func() error {
		var err error
		res, err = e.toggleOnce(ctx, userID, kind, targetID)
		return err
	})
	if err != nil {
		return ToggleResult{}, err
	}

	res.Message = kind.Label() + " liked"
	if !res.Liked {
		res.Message = kind.Label() + " unliked"
	}
	if res.applied && e.notifier != nil {
		e.notifier.LikeToggled(ctx, ToggleEvent{
			UserID:      userID,
			Kind:        kind,
			TargetID:    targetID,
			AuthorID:    res.AuthorID,
			Liked:       res.Liked,
			LikeCount:   res.LikeCount,
			AuthorKarma: res.AuthorKarma,
			At:          e.now(),
		})
	}
	return res, nil
}

func (e *Engine) toggleOnce(ctx context.Context, userID string, kind domain.TargetKind, targetID string) (ToggleResult, error) {
	var res ToggleResult
	var authorID string
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		authorID, err = tx.TargetAuthor(ctx, kind, targetID)
		if err != nil {
			return err
		}
		if e.forbidSelf && authorID == userID {
			return fmt.Errorf("%w: cannot like your own %s", domain.ErrValidation, kind)
		}
		if _, err := tx.LockAuthor(ctx, authorID); err != nil {
			return err
		}

		had, err := tx.HasLike(ctx, userID, kind, targetID)
		if err != nil {
			return err
		}
		delta := kind.Weight()
		if had {
			removed, err := tx.DeleteLike(ctx, userID, kind, targetID)
			if err != nil {
				return err
			}
			if !removed {
				delta = 0
			}
			delta = -delta
		} else {
			like := domain.LikeEvent{UserID: userID, Kind: kind, TargetID: targetID, CreatedAt: e.now()}
			if err := tx.InsertLike(ctx, like); err != nil {
				return err
			}
		}

		total, err := e.AdjustKarma(ctx, tx, authorID, delta)
		if err != nil {
			return err
		}
		count, err := tx.CountLikes(ctx, kind, targetID)
		if err != nil {
			return err
		}
		res = ToggleResult{Liked: !had, LikeCount: count, AuthorID: authorID, AuthorKarma: total, applied: true}
		return nil
	})
	if errors.Is(err, domain.ErrConflict) && authorID != "" {
		return e.absorbDuplicate(ctx, userID, kind, targetID, authorID)
	}
	return res, err
}

// absorbDuplicate reports the state left by the concurrent insert that won
// the unique constraint. Nothing is written.
func (e *Engine) absorbDuplicate(ctx context.Context, userID string, kind domain.TargetKind, targetID, authorID string) (ToggleResult, error) {
	e.log.Info("duplicate like absorbed",
		zap.String("user_id", userID), zap.String("kind", string(kind)), zap.String("target_id", targetID))

	count, err := e.store.LikeCount(ctx, kind, targetID)
	if err != nil {
		return ToggleResult{}, err
	}
	author, err := e.store.GetAuthor(ctx, authorID)
	if err != nil {
		return ToggleResult{}, err
	}
	return ToggleResult{Liked: true, LikeCount: count, AuthorID: authorID, AuthorKarma: author.TotalKarma}, nil
}

// LikeCount counts the likes currently stored for a target.
func (e *Engine) LikeCount(ctx context.Context, kind domain.TargetKind, targetID string) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown target kind %q", domain.ErrValidation, kind)
	}
	var err error
	switch kind {
	case domain.KindPost:
		_, err = e.store.GetPost(ctx, targetID)
	case domain.KindComment:
		_, err = e.store.GetComment(ctx, targetID)
	}
	if err != nil {
		return 0, err
	}
	return e.store.LikeCount(ctx, kind, targetID)
}
