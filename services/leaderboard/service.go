package leaderboard

import (
	"context"
	"fmt"
	"time"

	"tipcast/pkg/background"
	"tipcast/pkg/breaker"
	"tipcast/pkg/errutil"
	"tipcast/pkg/rediskey"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Service keeps ranked aggregates in the fast store and mirrors every event
// into the relational store asynchronously. The two are eventually
// consistent; the fast store is authoritative for reads.
type Service struct {
	board Scoreboard
	db    *gorm.DB
	pool  *background.Pool
	store *breaker.Breaker
	node  *snowflake.Node

	group singleflight.Group
	now   func() time.Time
}

type ServiceParams struct {
	fx.In

	Board    Scoreboard
	DB       *gorm.DB
	Pool     *background.Pool
	Breakers *breaker.Registry
	Node     *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		board: p.Board,
		db:    p.DB,
		pool:  p.Pool,
		store: p.Breakers.Get(breaker.Store),
		node:  p.Node,
		now:   time.Now,
	}
}

// RecordTip applies one settled tip: sender score (global and weekly),
// sender sent-stats, recipient received-stats, then queues the relational
// mirror write. The mirror is best effort and never fails the call.
func (s *Service) RecordTip(ctx context.Context, senderID, recipientID string, amount uint64, flagged bool, txnHandle string) error {
	bucket := rediskey.WeekBucket(s.now())

	if err := s.board.ApplyTip(ctx, senderID, recipientID, amount, bucket); err != nil {
		return fmt.Errorf("apply tip to scoreboard: %w", err)
	}

	evt := &TipEvent{
		ID:          s.node.Generate().String(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      amount,
		WeekBucket:  bucket,
		Flagged:     flagged,
		TxnHandle:   txnHandle,
		CreatedAt:   s.now().UTC(),
	}
	s.pool.Submit("leaderboard.mirror", func(ctx context.Context) error {
		return s.store.Execute(ctx, func(ctx context.Context) error {
			return s.db.WithContext(ctx).Create(evt).Error
		})
	})

	return nil
}

// GetLeaderboard returns the top entries for "all" or "weekly". Concurrent
// identical queries are collapsed through singleflight; rank is derived from
// position, never stored.
func (s *Service) GetLeaderboard(ctx context.Context, period string, limit int64) ([]Entry, error) {
	board, err := s.resolveBoard(period)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	key := fmt.Sprintf("%s:%d", board, limit)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.board.Top(ctx, board, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

// GetUserStats returns the user's stat snapshot with computed global and
// weekly ranks.
func (s *Service) GetUserStats(ctx context.Context, subjectID string) (*UserStats, error) {
	stats, err := s.board.Stats(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	bucket := rediskey.WeekBucket(s.now())
	out := &UserStats{
		SubjectID:      subjectID,
		TipsSent:       statInt(stats, fieldTipsSent),
		TipsReceived:   statInt(stats, fieldTipsReceived),
		AmountSent:     statInt(stats, fieldAmountSent),
		AmountReceived: statInt(stats, fieldAmountReceived),
		WeeklyTips:     statInt(stats, weeklyField(bucket, "tips")),
		WeeklyAmount:   statInt(stats, weeklyField(bucket, "amount")),
	}

	if rank, _, found, err := s.board.Rank(ctx, boardAll(), subjectID); err == nil && found {
		out.GlobalRank = rank
	} else if err != nil {
		zap.L().Warn("global rank lookup failed", zap.String("subject_id", subjectID), zap.Error(err))
	}

	if rank, _, found, err := s.board.Rank(ctx, boardWeek(bucket), subjectID); err == nil && found {
		out.WeeklyRank = rank
	} else if err != nil {
		zap.L().Warn("weekly rank lookup failed", zap.String("subject_id", subjectID), zap.Error(err))
	}

	return out, nil
}

func (s *Service) resolveBoard(period string) (string, error) {
	switch period {
	case PeriodAll, "":
		return boardAll(), nil
	case PeriodWeekly:
		return boardWeek(rediskey.WeekBucket(s.now())), nil
	default:
		return "", errutil.BadRequest("unknown leaderboard period", errutil.WithDetails(errutil.Detail{
			Field:   "period",
			Message: "must be \"all\" or \"weekly\"",
		}))
	}
}
