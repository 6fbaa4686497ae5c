package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMigration creates the table used by the Postgres backend.
const PostgresMigration = `CREATE TABLE idempotency_keys (
	key        TEXT PRIMARY KEY,
	completed  BOOLEAN NOT NULL DEFAULT false,
	status     INTEGER NOT NULL DEFAULT 0,
	body       BYTEA,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX idempotency_keys_created_idx ON idempotency_keys (created_at);`

type postgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func newPostgresStore(pool *pgxpool.Pool, ttl time.Duration) *postgresStore {
	return &postgresStore{pool: pool, ttl: ttl}
}

// Reserve uses INSERT ... ON CONFLICT to claim the key atomically. An expired
// row is deleted and the claim retried once.
func (s *postgresStore) Reserve(ctx context.Context, key string) (*Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO idempotency_keys (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 1 {
			return nil, nil
		}

		var completed bool
		var resp Response
		var created time.Time
		err = s.pool.QueryRow(ctx,
			`SELECT completed, status, body, created_at FROM idempotency_keys WHERE key = $1`, key).
			Scan(&completed, &resp.Status, &resp.Body, &created)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if time.Since(created) > s.ttl {
			if _, err := s.pool.Exec(ctx,
				`DELETE FROM idempotency_keys WHERE key = $1 AND created_at = $2`, key, created); err != nil {
				return nil, err
			}
			continue
		}
		if !completed {
			return nil, ErrInFlight
		}
		return &resp, nil
	}
	return nil, ErrInFlight
}

func (s *postgresStore) Complete(ctx context.Context, key string, resp Response) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET completed = true, status = $2, body = $3 WHERE key = $1`,
		key, resp.Status, resp.Body)
	return err
}

func (s *postgresStore) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND NOT completed`, key)
	return err
}
