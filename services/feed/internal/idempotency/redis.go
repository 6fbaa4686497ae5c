package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix = "feed:idempotent:"
	redisPending   = "pending"
)

// redisStore fails open: while Redis errors or the breaker is open, requests
// proceed without deduplication instead of failing.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker
	log    *zap.Logger
}

func newRedisStore(dsn string, ttl time.Duration, log *zap.Logger) *redisStore {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	return &redisStore{
		client: redis.NewClient(opts),
		ttl:    ttl,
		log:    log,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "idempotency-redis",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrInFlight)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
	}
}

func (s *redisStore) Reserve(ctx context.Context, key string) (*Response, error) {
	out, err := s.cb.Execute(func() (any, error) {
		k := redisKeyPrefix + key
		set, err := s.client.SetNX(ctx, k, redisPending, s.ttl).Result()
		if err != nil {
			return nil, err
		}
		if set {
			return (*Response)(nil), nil
		}
		raw, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET; treat as in flight, the client retries
			return nil, ErrInFlight
		}
		if err != nil {
			return nil, err
		}
		if raw == redisPending {
			return nil, ErrInFlight
		}
		var resp Response
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if errors.Is(err, ErrInFlight) {
		return nil, ErrInFlight
	}
	if err != nil {
		s.log.Warn("idempotency store unavailable, proceeding without replay", zap.Error(err))
		return nil, nil
	}
	resp, _ := out.(*Response)
	return resp, nil
}

func (s *redisStore) Complete(ctx context.Context, key string, resp Response) error {
	_, err := s.cb.Execute(func() (any, error) {
		raw, err := json.Marshal(resp)
		if err != nil {
			return nil, err
		}
		return nil, s.client.Set(ctx, redisKeyPrefix+key, raw, s.ttl).Err()
	})
	if err != nil {
		s.log.Warn("idempotency complete failed", zap.Error(err))
	}
	return nil
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Del(ctx, redisKeyPrefix+key).Err()
	})
	if err != nil {
		s.log.Warn("idempotency release failed", zap.Error(err))
	}
	return nil
}
