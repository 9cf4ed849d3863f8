package taskqueue

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// store is a thin adapter over the shared key-value store. Multi-key
// mutations go through the transaction helpers, which wrap the store's
// optimistic WATCH/MULTI/EXEC protocol; batched writes that need no
// watch go through pipelined.
type store struct {
	client redis.UniversalClient
}

// incr atomically increments an integer hash field and returns the
// new value.
func (s *store) incr(ctx context.Context, key, field string) (int64, error) {
	return s.client.HIncrBy(ctx, key, field, 1).Result()
}

func (s *store) hsetMany(ctx context.Context, key string, fields map[string]any) error {
	return s.client.HSet(ctx, key, fields).Err()
}

func (s *store) hgetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *store) get(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, key).Result()
}

func (s *store) zscore(ctx context.Context, key, member string) (float64, error) {
	return s.client.ZScore(ctx, key, member).Result()
}

func (s *store) zrangeWithScores(ctx context.Context, key string, lo, hi int64) ([]redis.Z, error) {
	return s.client.ZRangeWithScores(ctx, key, lo, hi).Result()
}

func (s *store) zcard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

// pipelined batches commands without optimistic watches.
func (s *store) pipelined(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	_, err := s.client.Pipelined(ctx, fn)
	return err
}

// transaction runs fn under optimistic watches on keys and retries
// until the commit succeeds. fn re-reads the watched state on every
// attempt, so retried invocations observe the interfering write.
func (s *store) transaction(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return err
	}
}

// tryTransaction runs fn under optimistic watches exactly once and
// surfaces a commit conflict to the caller as redis.TxFailedErr.
func (s *store) tryTransaction(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	return s.client.Watch(ctx, fn, keys...)
}
