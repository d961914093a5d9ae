package ratelimit

import (
	"context"
	"time"

	"tipcast/pkg/config"
	"tipcast/pkg/kvstore"
	"tipcast/pkg/rediskey"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_rejections_total",
	}, []string{"scope"})
	failOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_fail_open_total",
	})
)

// Scopes checked per tip, in evaluation order. The first scope that rejects
// determines the reported reason.
const (
	ScopeUser   = "user"
	ScopeIP     = "ip"
	ScopeWallet = "wallet"
	ScopeAmount = "amount"
)

type Result struct {
	Allowed    bool
	Scope      string
	Reason     string
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// TipCheck carries everything the four scopes key on. Tier is the sender's
// verification tier; higher tiers get scaled user and wallet limits.
type TipCheck struct {
	SenderID     string
	SenderAddr   string
	SenderWallet string
	Amount       uint64
	Tier         int
}

type Service struct {
	store kvstore.Store
	cfg   *config.Config
	now   func() time.Time
}

type ServiceParams struct {
	fx.In

	Store  kvstore.Store
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		store: p.Store,
		cfg:   p.Config,
		now:   time.Now,
	}
}

// CheckLimit runs a sliding-window check for one scope/subject pair: prune
// entries older than the window, reject when the surviving count has reached
// max, otherwise record the request and report the remaining budget.
//
// Store failures fail OPEN. The limiter allowing a few extra tips during a
// redis outage beats the limiter taking down every submission.
func (s *Service) CheckLimit(ctx context.Context, scope, subject string, window time.Duration, max int64) Result {
	key := rediskey.BuildRateKey(scope, subject)
	now := s.now()
	since := now.Add(-window)

	if err := s.store.PruneBefore(ctx, key, since); err != nil {
		return s.allowOnStoreError(scope, max, err)
	}

	count, err := s.store.CountSince(ctx, key, since)
	if err != nil {
		return s.allowOnStoreError(scope, max, err)
	}

	if count >= max {
		rejections.WithLabelValues(scope).Inc()
		s.noteViolation(ctx, scope, subject)

		resetAt := now.Add(window)
		if oldest, ok, err := s.store.OldestSince(ctx, key, since); err == nil && ok {
			resetAt = oldest.Add(window)
		}

		return Result{
			Allowed:    false,
			Scope:      scope,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	if err := s.store.AddEntry(ctx, key, now, window); err != nil {
		return s.allowOnStoreError(scope, max, err)
	}

	return Result{
		Allowed:   true,
		Scope:     scope,
		Remaining: max - count - 1,
		ResetAt:   now.Add(window),
	}
}

// CheckTip evaluates all four scopes; a tip is allowed only when every scope
// allows it.
func (s *Service) CheckTip(ctx context.Context, req TipCheck) Result {
	if res, blocked := s.checkBlocks(ctx, req); blocked {
		return res
	}

	limits := s.cfg.RateLimit
	mult := tierMultiplier(req.Tier)

	if res := s.CheckLimit(ctx, ScopeUser, req.SenderID, 24*time.Hour, limits.UserDailyLimit*mult); !res.Allowed {
		res.Reason = "daily tip limit reached"
		return res
	}

	if res := s.CheckLimit(ctx, ScopeIP, req.SenderAddr, limits.IPWindow, limits.IPLimit); !res.Allowed {
		res.Reason = "too many tips from this network address"
		return res
	}

	if res := s.CheckLimit(ctx, ScopeWallet, req.SenderWallet, time.Hour, limits.WalletHourlyLimit*mult); !res.Allowed {
		res.Reason = "hourly wallet limit reached"
		return res
	}

	// large transfers carry their own stricter daily budget
	if req.Amount >= limits.LargeAmountThreshold {
		if res := s.CheckLimit(ctx, ScopeAmount, req.SenderID, 24*time.Hour, limits.LargeAmountDailyLimit); !res.Allowed {
			res.Reason = "daily large-transfer limit reached"
			return res
		}
	}

	return Result{Allowed: true}
}

// checkBlocks shortcuts the window math for subjects under an active block
// flag.
func (s *Service) checkBlocks(ctx context.Context, req TipCheck) (Result, bool) {
	subjects := map[string]string{
		ScopeUser:   req.SenderID,
		ScopeIP:     req.SenderAddr,
		ScopeWallet: req.SenderWallet,
	}

	for scope, subject := range subjects {
		blocked, err := s.store.HasFlag(ctx, rediskey.BuildBlockKey(scope, subject))
		if err != nil {
			failOpen.Inc()
			zap.L().Warn("rate limit store unavailable, failing open", zap.String("scope", scope), zap.Error(err))
			continue
		}
		if blocked {
			rejections.WithLabelValues(scope).Inc()
			return Result{
				Allowed:    false,
				Scope:      scope,
				Reason:     "temporarily blocked after repeated violations",
				RetryAfter: s.cfg.RateLimit.BlockTTL,
				ResetAt:    s.now().Add(s.cfg.RateLimit.BlockTTL),
			}, true
		}
	}

	return Result{}, false
}

// noteViolation escalates repeated rejections into a block flag with its own
// TTL, independent of the sliding window.
func (s *Service) noteViolation(ctx context.Context, scope, subject string) {
	n, err := s.store.IncrBy(ctx, rediskey.BuildViolationKey(scope, subject), 1, s.cfg.RateLimit.BlockTTL)
	if err != nil {
		return
	}
	if n >= s.cfg.RateLimit.BlockAfterViolations {
		if err := s.store.SetFlag(ctx, rediskey.BuildBlockKey(scope, subject), s.cfg.RateLimit.BlockTTL); err == nil {
			zap.L().Warn("subject blocked after repeated rate violations",
				zap.String("scope", scope),
				zap.String("subject", subject),
			)
		}
	}
}

func (s *Service) allowOnStoreError(scope string, max int64, err error) Result {
	failOpen.Inc()
	zap.L().Warn("rate limit store unavailable, failing open", zap.String("scope", scope), zap.Error(err))
	return Result{Allowed: true, Scope: scope, Remaining: max}
}

func tierMultiplier(tier int) int64 {
	switch {
	case tier >= 2:
		return 5
	case tier == 1:
		return 2
	default:
		return 1
	}
}
