package tips

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"tipcast/pkg/background"
	"tipcast/pkg/breaker"
	"tipcast/pkg/client"
	"tipcast/services/leaderboard"
	"tipcast/services/testutil"
)

type fakeSettlement struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeSettlement) Settle(context.Context, string, string, uint64, string) (client.TxnHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return client.TxnHandle("txn-ok"), nil
}

func (f *fakeSettlement) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEnrichment struct {
	mu       sync.Mutex
	insights int
	badges   int
	notifies int
}

func (f *fakeEnrichment) GenerateInsight(context.Context, string, string, uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insights++
	return nil
}

func (f *fakeEnrichment) CheckBadges(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badges++
	return nil
}

func (f *fakeEnrichment) NotifyTip(context.Context, string, uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies++
	return nil
}

// stubBoard counts applied tips; rank queries are not exercised here.
type stubBoard struct {
	mu       sync.Mutex
	applied  int
	applyErr error
}

func (s *stubBoard) ApplyTip(context.Context, string, string, uint64, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied++
	return nil
}

func (s *stubBoard) Top(context.Context, string, int64) ([]leaderboard.Entry, error) {
	return nil, nil
}

func (s *stubBoard) Rank(context.Context, string, string) (int64, int64, bool, error) {
	return 0, 0, false, nil
}

func (s *stubBoard) Stats(context.Context, string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (s *stubBoard) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

type workerHarness struct {
	worker     *Worker
	settlement *fakeSettlement
	enrich     *fakeEnrichment
	board      *stubBoard
	pool       *background.Pool

	attempt int
}

func newWorkerHarness(t *testing.T) *workerHarness {
	t.Helper()

	cfg := pipelineConfig()
	db := testutil.NewTestDB(t, &TipFailure{}, &leaderboard.TipEvent{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	board := &stubBoard{}
	pool := background.NewPool(1, 16, time.Second)
	reg := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: 5,
		MonitoringPeriod: time.Minute,
		ResetTimeout:     time.Second,
		HalfOpenMaxCalls: 1,
	})
	boardSvc := leaderboard.NewService(leaderboard.ServiceParams{
		Board:    board,
		DB:       db,
		Pool:     pool,
		Breakers: reg,
		Node:     node,
	})

	settlement := &fakeSettlement{}
	enrich := &fakeEnrichment{}

	h := &workerHarness{
		worker:     NewWorker(cfg, settlement, boardSvc, enrich, pool, db, node),
		settlement: settlement,
		enrich:     enrich,
		board:      board,
		pool:       pool,
	}
	h.worker.retryCount = func(context.Context) (int, bool) { return h.attempt, true }
	h.worker.maxRetry = func(context.Context) (int, bool) { return cfg.Queue.MaxAttempts - 1, true }
	return h
}

func settleTask(t *testing.T, amount string) *asynq.Task {
	t.Helper()
	job := TipJob{
		JobID:              "tip:alice:bob:1",
		SenderID:           "alice",
		RecipientID:        "bob",
		AmountSmallestUnit: amount,
		ModerationAction:   string(client.ModerationAllow),
		EnqueuedAtMs:       time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(&job)
	require.NoError(t, err)
	return asynq.NewTask(TaskSettleTip, payload)
}

func (h *workerHarness) failures(t *testing.T) []TipFailure {
	t.Helper()
	var rows []TipFailure
	require.NoError(t, h.worker.db.Find(&rows).Error)
	return rows
}

func TestSettleTransientRetriesThenSucceeds(t *testing.T) {
	h := newWorkerHarness(t)
	h.settlement.errs = []error{
		errors.New("dial tcp: connection refused"),
		errors.New("request timed out"),
	}
	task := settleTask(t, "2500")
	ctx := context.Background()

	// first two attempts fail transiently and come back for retry
	for h.attempt = 0; h.attempt < 2; h.attempt++ {
		err := h.worker.HandleSettleTip(ctx, task)
		require.Error(t, err)
		require.False(t, errors.Is(err, asynq.SkipRetry))
	}

	require.NoError(t, h.worker.HandleSettleTip(ctx, task))
	require.Equal(t, 3, h.settlement.callCount())
	require.Equal(t, 1, h.board.appliedCount())
	require.Empty(t, h.failures(t))
}

func TestSettlePermanentErrorSkipsRetry(t *testing.T) {
	h := newWorkerHarness(t)
	h.settlement.errs = []error{errors.New("insufficient funds")}

	err := h.worker.HandleSettleTip(context.Background(), settleTask(t, "2500"))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
	require.Equal(t, 0, h.board.appliedCount())

	rows := h.failures(t)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Permanent)
	require.Equal(t, 1, rows[0].Attempts)
	require.Contains(t, rows[0].Reason, "insufficient funds")
}

func TestSettleUnclassifiedErrorNotRetried(t *testing.T) {
	h := newWorkerHarness(t)
	h.settlement.errs = []error{errors.New("ledger exploded in a novel way")}

	err := h.worker.HandleSettleTip(context.Background(), settleTask(t, "2500"))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
	require.Len(t, h.failures(t), 1)
}

func TestSettleRetriesExhausted(t *testing.T) {
	h := newWorkerHarness(t)
	h.settlement.errs = []error{errors.New("upstream unavailable")}
	h.attempt = 2 // final attempt of three

	err := h.worker.HandleSettleTip(context.Background(), settleTask(t, "2500"))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	rows := h.failures(t)
	require.Len(t, rows, 1)
	require.False(t, rows[0].Permanent)
	require.Equal(t, 3, rows[0].Attempts)
}

func TestLeaderboardFailureDoesNotFailJob(t *testing.T) {
	h := newWorkerHarness(t)
	h.board.applyErr = errors.New("scoreboard down")

	require.NoError(t, h.worker.HandleSettleTip(context.Background(), settleTask(t, "2500")))
	require.Equal(t, 1, h.settlement.callCount())
	require.Empty(t, h.failures(t))
}

func TestEnrichmentRunsAfterSettlement(t *testing.T) {
	h := newWorkerHarness(t)

	require.NoError(t, h.worker.HandleSettleTip(context.Background(), settleTask(t, "2500")))
	h.pool.Stop()

	require.Equal(t, 1, h.enrich.insights)
	require.Equal(t, 1, h.enrich.badges)
	require.Equal(t, 1, h.enrich.notifies)
}

func TestMalformedPayloadSkipped(t *testing.T) {
	h := newWorkerHarness(t)

	err := h.worker.HandleSettleTip(context.Background(), asynq.NewTask(TaskSettleTip, []byte("{not json")))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
	require.Equal(t, 0, h.settlement.callCount())
}

func TestInvalidAmountSkipped(t *testing.T) {
	h := newWorkerHarness(t)

	err := h.worker.HandleSettleTip(context.Background(), settleTask(t, "-5"))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
	require.Len(t, h.failures(t), 1)
	require.True(t, h.failures(t)[0].Permanent)
}

func TestPurgeFailures(t *testing.T) {
	h := newWorkerHarness(t)
	ctx := context.Background()

	old := TipFailure{
		ID:        "old",
		JobID:     "tip:a:b:1",
		Reason:    "stale",
		CreatedAt: time.Now().UTC().Add(-8 * 24 * time.Hour),
	}
	fresh := TipFailure{
		ID:        "fresh",
		JobID:     "tip:a:b:2",
		Reason:    "recent",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, h.worker.db.Create(&old).Error)
	require.NoError(t, h.worker.db.Create(&fresh).Error)

	deleted, err := h.worker.PurgeFailures(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	rows := h.failures(t)
	require.Len(t, rows, 1)
	require.Equal(t, "fresh", rows[0].ID)
}