package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"tipcast/pkg/config"
	"tipcast/pkg/kvstore"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.RateLimit.UserDailyLimit = 100
	cfg.RateLimit.IPWindow = 15 * time.Minute
	cfg.RateLimit.IPLimit = 30
	cfg.RateLimit.WalletHourlyLimit = 20
	cfg.RateLimit.LargeAmountThreshold = 1_000_000
	cfg.RateLimit.LargeAmountDailyLimit = 2
	cfg.RateLimit.BlockTTL = time.Hour
	cfg.RateLimit.BlockAfterViolations = 3
	return cfg
}

func newTestService(t *testing.T) (*Service, *kvstore.Memory, *time.Time) {
	t.Helper()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mem := kvstore.NewMemory()
	mem.SetNow(func() time.Time { return now })

	svc := NewService(ServiceParams{Store: mem, Config: testConfig()})
	svc.now = func() time.Time { return now }

	return svc, mem, &now
}

func TestWindowCapacity(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	var lastRemaining int64 = 5
	for i := 0; i < 5; i++ {
		res := svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 5)
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
		require.LessOrEqual(t, res.Remaining, lastRemaining)
		lastRemaining = res.Remaining
		*now = now.Add(time.Second)
	}

	res := svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 5)
	require.False(t, res.Allowed)
	require.Equal(t, int64(0), res.Remaining)
	require.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestWindowSlides(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 3).Allowed)
	}
	require.False(t, svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 3).Allowed)

	*now = now.Add(61 * time.Second)
	require.True(t, svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 3).Allowed)
}

func TestRetryAfterFromOldestEntry(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 2).Allowed)
	*now = now.Add(20 * time.Second)
	require.True(t, svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 2).Allowed)

	*now = now.Add(10 * time.Second)
	res := svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 2)
	require.False(t, res.Allowed)
	// oldest entry expires 30s from now
	require.Equal(t, 30*time.Second, res.RetryAfter)
}

func TestScopesAreIndependent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 3).Allowed)
	}
	require.False(t, svc.CheckLimit(ctx, ScopeUser, "alice", time.Minute, 3).Allowed)

	require.True(t, svc.CheckLimit(ctx, ScopeWallet, "alice", time.Minute, 3).Allowed)
	require.True(t, svc.CheckLimit(ctx, ScopeUser, "bob", time.Minute, 3).Allowed)
}

func TestCheckTipDailyCap(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.RateLimit.UserDailyLimit = 100
	ctx := context.Background()

	req := TipCheck{SenderID: "alice", SenderAddr: "10.0.0.1", SenderWallet: "0xabc", Amount: 100}
	// the ip and wallet scopes are wide enough not to interfere
	svc.cfg.RateLimit.IPLimit = 1000
	svc.cfg.RateLimit.WalletHourlyLimit = 1000

	for i := 0; i < 100; i++ {
		res := svc.CheckTip(ctx, req)
		require.True(t, res.Allowed, "tip %d", i+1)
	}

	res := svc.CheckTip(ctx, req)
	require.False(t, res.Allowed)
	require.Equal(t, ScopeUser, res.Scope)
	require.Contains(t, res.Reason, "daily")
	require.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestCheckTipLargeAmountScope(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	small := TipCheck{SenderID: "alice", SenderAddr: "10.0.0.1", SenderWallet: "0xabc", Amount: 50}
	large := TipCheck{SenderID: "alice", SenderAddr: "10.0.0.1", SenderWallet: "0xabc", Amount: 2_000_000}

	// the large-transfer budget is 2/day; small tips never touch it
	require.True(t, svc.CheckTip(ctx, large).Allowed)
	require.True(t, svc.CheckTip(ctx, large).Allowed)

	res := svc.CheckTip(ctx, large)
	require.False(t, res.Allowed)
	require.Equal(t, ScopeAmount, res.Scope)

	require.True(t, svc.CheckTip(ctx, small).Allowed)
}

func TestTierScaling(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.RateLimit.UserDailyLimit = 2
	svc.cfg.RateLimit.IPLimit = 1000
	svc.cfg.RateLimit.WalletHourlyLimit = 1000
	ctx := context.Background()

	verified := TipCheck{SenderID: "alice", SenderAddr: "10.0.0.1", SenderWallet: "0xabc", Amount: 10, Tier: 1}
	for i := 0; i < 4; i++ {
		require.True(t, svc.CheckTip(ctx, verified).Allowed, "tip %d", i+1)
	}
	require.False(t, svc.CheckTip(ctx, verified).Allowed)
}

func TestRepeatedViolationsSetBlockFlag(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.RateLimit.UserDailyLimit = 1
	svc.cfg.RateLimit.IPLimit = 1000
	svc.cfg.RateLimit.WalletHourlyLimit = 1000
	ctx := context.Background()

	req := TipCheck{SenderID: "alice", SenderAddr: "10.0.0.1", SenderWallet: "0xabc", Amount: 10}
	require.True(t, svc.CheckTip(ctx, req).Allowed)

	// three rejections trip the block flag
	for i := 0; i < 3; i++ {
		require.False(t, svc.CheckTip(ctx, req).Allowed)
	}

	res := svc.CheckTip(ctx, req)
	require.False(t, res.Allowed)
	require.Contains(t, res.Reason, "blocked")
}

type erroringStore struct{}

var errStore = errors.New("store down")

func (erroringStore) AddEntry(context.Context, string, time.Time, time.Duration) error {
	return errStore
}
func (erroringStore) CountSince(context.Context, string, time.Time) (int64, error) {
	return 0, errStore
}
func (erroringStore) OldestSince(context.Context, string, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, errStore
}
func (erroringStore) PruneBefore(context.Context, string, time.Time) error { return errStore }
func (erroringStore) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errStore
}
func (erroringStore) GetFloat(context.Context, string) (float64, bool, error) {
	return 0, false, errStore
}
func (erroringStore) SetFloat(context.Context, string, float64, time.Duration) error {
	return errStore
}
func (erroringStore) SetFlag(context.Context, string, time.Duration) error { return errStore }
func (erroringStore) HasFlag(context.Context, string) (bool, error)        { return false, errStore }

// A dead store must never become a submission outage: the limiter fails open
// by policy.
func TestFailOpenOnStoreOutage(t *testing.T) {
	svc := NewService(ServiceParams{Store: erroringStore{}, Config: testConfig()})
	ctx := context.Background()

	res := svc.CheckTip(ctx, TipCheck{SenderID: "alice", SenderAddr: "10.0.0.1", SenderWallet: "0xabc", Amount: 10})
	require.True(t, res.Allowed)
}
