package karma

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/store"
)

const maxAttempts = 3

// AdjustKarma applies delta to the author's total inside tx and returns the
// new total. The author row lock is taken if tx does not hold it yet. A total
// that would go negative is clamped at zero; reconciliation restores it.
func (e *Engine) AdjustKarma(ctx context.Context, tx store.Tx, authorID string, delta int) (int, error) {
	current, err := tx.LockAuthor(ctx, authorID)
	if err != nil {
		return 0, err
	}
	if delta == 0 {
		return current, nil
	}
	next := current + delta
	if next < 0 {
		e.log.Warn("karma would go negative, clamping",
			zap.String("author_id", authorID), zap.Int("current", current), zap.Int("delta", delta))
		next = 0
	}
	if err := tx.SetKarma(ctx, authorID, next); err != nil {
		return 0, err
	}
	return next, nil
}

// backoffDelay doubles from 10ms per attempt: 10ms, 20ms, 40ms.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > maxAttempts {
		attempt = maxAttempts
	}
	return time.Duration(10<<(attempt-1)) * time.Millisecond
}

// retry runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, domain.ErrTransient) {
			return err
		}
		if attempt == e.maxAttempts {
			break
		}
		delay := backoffDelay(attempt)
		e.log.Warn("transient data error, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", domain.ErrTransient, ctx.Err())
		}
	}
	e.log.Error("transient data error, giving up", zap.String("op", op), zap.Int("attempts", e.maxAttempts), zap.Error(err))
	return err
}
