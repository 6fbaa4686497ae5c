// Package idempotency replays responses for requests that carry an
// Idempotency-Key header, so a client retry never toggles a like twice.
//
// Primary backend: Redis SET NX with TTL behind a circuit breaker (REDIS_URL).
// Fallback: Postgres INSERT ... ON CONFLICT on the feed database.
// If neither is available, an in-memory LRU is used (development only).
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrInFlight means another request holding the same key has not finished.
var ErrInFlight = errors.New("request with this idempotency key is still in progress")

// Response is what gets replayed for a completed key.
type Response struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Store reserves keys and remembers the response of the request that held them.
type Store interface {
	// Reserve claims key. It returns the stored response if the key already
	// completed, ErrInFlight if it is reserved, and (nil, nil) when the caller
	// now owns the key.
	Reserve(ctx context.Context, key string) (*Response, error)
	// Complete stores resp for key.
	Complete(ctx context.Context, key string, resp Response) error
	// Release drops a reservation whose request failed so it can be retried.
	Release(ctx context.Context, key string) error
}

type Options struct {
	RedisURL string
	Pool     *pgxpool.Pool
	TTL      time.Duration
	Capacity int
	IsProd   bool
	Log      *zap.Logger
}

const (
	defaultTTL      = 24 * time.Hour
	defaultCapacity = 10000
)

// NewStore creates the best available store: Redis > Postgres > in-memory.
// In production the in-memory fallback is refused.
func NewStore(opts Options) (Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.RedisURL != "" {
		return newRedisStore(opts.RedisURL, opts.TTL, opts.Log), nil
	}
	if opts.Pool != nil {
		return newPostgresStore(opts.Pool, opts.TTL), nil
	}
	if opts.IsProd {
		return nil, errors.New("production requires REDIS_URL or a postgres store for idempotency; in-memory store is not allowed")
	}
	return newMemoryStore(opts.Capacity, opts.TTL), nil
}
