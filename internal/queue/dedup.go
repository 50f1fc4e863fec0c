package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DedupStore remembers which event ids a service has already handled.
type DedupStore interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// RedisDedup keeps handled ids under dedup:{service}:{eventId}.
type RedisDedup struct {
	rdb     *redis.Client
	service string
	ttl     time.Duration
}

func NewRedisDedup(rdb *redis.Client, service string, ttl time.Duration) *RedisDedup {
	return &RedisDedup{rdb: rdb, service: service, ttl: ttl}
}

func (r *RedisDedup) key(id string) string { return "dedup:" + r.service + ":" + id }

func (r *RedisDedup) Seen(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(id)).Result()
	return n > 0, err
}

func (r *RedisDedup) Mark(ctx context.Context, id string) error {
	return r.rdb.Set(ctx, r.key(id), time.Now().UTC().Format(time.RFC3339), r.ttl).Err()
}

// Deduplicate skips envelopes already marked in store and marks the ones
// next handles successfully.  Store failures never block handling; the
// handlers behind it are idempotent, this only saves work.
func Deduplicate(store DedupStore, next Handler, log *zap.Logger) Handler {
	if store == nil {
		return next
	}
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, env Envelope) error {
		if env.ID == "" {
			return next(ctx, env)
		}
		seen, err := store.Seen(ctx, env.ID)
		if err != nil {
			log.Warn("dedup lookup failed", zap.Error(err), zap.String("event_id", env.ID))
		} else if seen {
			log.Info("duplicate event skipped", zap.String("event", string(env.Event)), zap.String("event_id", env.ID))
			return nil
		}
		if err := next(ctx, env); err != nil {
			return err
		}
		if err := store.Mark(ctx, env.ID); err != nil {
			log.Warn("dedup mark failed", zap.Error(err), zap.String("event_id", env.ID))
		}
		return nil
	}
}
