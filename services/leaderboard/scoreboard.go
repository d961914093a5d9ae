package leaderboard

import (
	"context"
	"strconv"
	"time"

	"tipcast/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// Stat hash fields.
const (
	fieldTipsSent       = "tips_sent"
	fieldTipsReceived   = "tips_received"
	fieldAmountSent     = "amount_sent"
	fieldAmountReceived = "amount_received"
)

// Scoreboard is the fast keyed store behind rank queries. The redis
// implementation keeps scores in sorted sets, O(log n) rank lookups.
type Scoreboard interface {
	// ApplyTip applies all increments for one settled tip as a single
	// atomic multi-key batch.
	ApplyTip(ctx context.Context, senderID, recipientID string, amount uint64, weekBucket string) error
	Top(ctx context.Context, board string, limit int64) ([]Entry, error)
	Rank(ctx context.Context, board, subjectID string) (rank int64, score int64, found bool, err error)
	Stats(ctx context.Context, subjectID string) (map[string]string, error)
}

type redisScoreboard struct {
	rdb *redis.Client
}

func NewRedisScoreboard(rdb *redis.Client) Scoreboard {
	return &redisScoreboard{rdb: rdb}
}

func boardAll() string { return rediskey.BuildBoardKey("tippers:all") }

func boardWeek(bucket string) string { return rediskey.BuildBoardKey("tippers:" + bucket) }

func weeklyField(bucket, field string) string { return "weekly:" + bucket + ":" + field }

func (s *redisScoreboard) ApplyTip(ctx context.Context, senderID, recipientID string, amount uint64, weekBucket string) error {
	amt := int64(amount)
	senderStats := rediskey.BuildStatsKey(senderID)
	recipientStats := rediskey.BuildStatsKey(recipientID)
	weekBoard := boardWeek(weekBucket)

	pipe := s.rdb.TxPipeline()
	pipe.ZIncrBy(ctx, boardAll(), float64(amt), senderID)
	pipe.ZIncrBy(ctx, weekBoard, float64(amt), senderID)
	// weekly boards age out two weeks after their last write
	pipe.Expire(ctx, weekBoard, 14*24*time.Hour)

	pipe.HIncrBy(ctx, senderStats, fieldTipsSent, 1)
	pipe.HIncrBy(ctx, senderStats, fieldAmountSent, amt)
	pipe.HIncrBy(ctx, senderStats, weeklyField(weekBucket, "tips"), 1)
	pipe.HIncrBy(ctx, senderStats, weeklyField(weekBucket, "amount"), amt)

	pipe.HIncrBy(ctx, recipientStats, fieldTipsReceived, 1)
	pipe.HIncrBy(ctx, recipientStats, fieldAmountReceived, amt)

	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisScoreboard) Top(ctx context.Context, board string, limit int64) ([]Entry, error) {
	members, err := s.rdb.ZRevRangeWithScores(ctx, board, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(members))
	for i, m := range members {
		entries = append(entries, Entry{
			Rank:      int64(i) + 1,
			SubjectID: m.Member.(string),
			Score:     int64(m.Score),
		})
	}
	return entries, nil
}

func (s *redisScoreboard) Rank(ctx context.Context, board, subjectID string) (int64, int64, bool, error) {
	rank, err := s.rdb.ZRevRank(ctx, board, subjectID).Result()
	if err == redis.Nil {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}

	score, err := s.rdb.ZScore(ctx, board, subjectID).Result()
	if err != nil && err != redis.Nil {
		return 0, 0, false, err
	}

	return rank + 1, int64(score), true, nil
}

func (s *redisScoreboard) Stats(ctx context.Context, subjectID string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, rediskey.BuildStatsKey(subjectID)).Result()
}

func statInt(stats map[string]string, field string) int64 {
	v, err := strconv.ParseInt(stats[field], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
