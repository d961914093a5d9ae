package kvstore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps window entries in sorted sets scored by unix-milli
// timestamps, counters and floats in plain keys. All keys carry a TTL so
// abandoned subjects age out on their own.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) AddEntry(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CountSince(ctx context.Context, key string, since time.Time) (int64, error) {
	return s.rdb.ZCount(ctx, key,
		strconv.FormatInt(since.UnixMilli(), 10),
		"+inf",
	).Result()
}

func (s *RedisStore) OldestSince(ctx context.Context, key string, since time.Time) (time.Time, bool, error) {
	members, err := s.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:    strconv.FormatInt(since.UnixMilli(), 10),
		Max:    "+inf",
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return time.Time{}, false, err
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(members[0].Score)), true, nil
}

func (s *RedisStore) PruneBefore(ctx context.Context, key string, cutoff time.Time) error {
	return s.rdb.ZRemRangeByScore(ctx, key,
		"-inf",
		"("+strconv.FormatInt(cutoff.UnixMilli(), 10),
	).Err()
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	v, err := s.rdb.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *RedisStore) SetFloat(ctx context.Context, key string, v float64, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, strconv.FormatFloat(v, 'f', -1, 64), ttl).Err()
}

func (s *RedisStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, "1", ttl).Err()
}

func (s *RedisStore) HasFlag(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
