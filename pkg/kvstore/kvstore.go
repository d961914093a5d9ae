package kvstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Store is the shared keyed counter/timestamp store behind the rate limiter,
// the abuse detector and notification-level throttling. Components partition
// it by key namespace (see pkg/rediskey); no logical key is mutated by more
// than one component.
type Store interface {
	// Sliding-window timestamp sets.
	AddEntry(ctx context.Context, key string, ts time.Time, ttl time.Duration) error
	CountSince(ctx context.Context, key string, since time.Time) (int64, error)
	OldestSince(ctx context.Context, key string, since time.Time) (time.Time, bool, error)
	PruneBefore(ctx context.Context, key string, cutoff time.Time) error

	// TTL counters.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Float values, used for the tip-size moving average.
	GetFloat(ctx context.Context, key string) (float64, bool, error)
	SetFloat(ctx context.Context, key string, v float64, ttl time.Duration) error

	// Boolean flags with their own TTL, used for block keys.
	SetFlag(ctx context.Context, key string, ttl time.Duration) error
	HasFlag(ctx context.Context, key string) (bool, error)
}

var Module = fx.Module("kvstore",
	fx.Provide(func(rdb *redis.Client) Store {
		return NewRedisStore(rdb)
	}),
)
