package leaderboard

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"tipcast/pkg/background"
	"tipcast/pkg/breaker"
	"tipcast/pkg/rediskey"
	"tipcast/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memScoreboard mirrors the redis scoreboard semantics in memory.
type memScoreboard struct {
	mu     sync.Mutex
	boards map[string]map[string]int64
	stats  map[string]map[string]int64

	applyErr error
}

func newMemScoreboard() *memScoreboard {
	return &memScoreboard{
		boards: make(map[string]map[string]int64),
		stats:  make(map[string]map[string]int64),
	}
}

func (m *memScoreboard) incr(section map[string]map[string]int64, key, field string, delta int64) {
	if section[key] == nil {
		section[key] = make(map[string]int64)
	}
	section[key][field] += delta
}

func (m *memScoreboard) ApplyTip(_ context.Context, senderID, recipientID string, amount uint64, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}

	amt := int64(amount)
	m.incr(m.boards, boardAll(), senderID, amt)
	m.incr(m.boards, boardWeek(bucket), senderID, amt)
	m.incr(m.stats, senderID, fieldTipsSent, 1)
	m.incr(m.stats, senderID, fieldAmountSent, amt)
	m.incr(m.stats, senderID, weeklyField(bucket, "tips"), 1)
	m.incr(m.stats, senderID, weeklyField(bucket, "amount"), amt)
	m.incr(m.stats, recipientID, fieldTipsReceived, 1)
	m.incr(m.stats, recipientID, fieldAmountReceived, amt)
	return nil
}

func (m *memScoreboard) Top(_ context.Context, board string, limit int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []Entry
	for subject, score := range m.boards[board] {
		entries = append(entries, Entry{SubjectID: subject, Score: score})
	}
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].Score > entries[i].Score {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	if int64(len(entries)) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = int64(i) + 1
	}
	return entries, nil
}

func (m *memScoreboard) Rank(_ context.Context, board, subjectID string) (int64, int64, bool, error) {
	entries, _ := m.Top(context.Background(), board, int64(1<<30))
	for _, e := range entries {
		if e.SubjectID == subjectID {
			return e.Rank, e.Score, true, nil
		}
	}
	return 0, 0, false, nil
}

func (m *memScoreboard) Stats(_ context.Context, subjectID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.stats[subjectID] {
		out[k] = strconv.FormatInt(v, 10)
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *memScoreboard, *background.Pool) {
	t.Helper()

	db := testutil.NewTestDB(t, &TipEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	board := newMemScoreboard()
	pool := background.NewPool(1, 16, time.Second)
	reg := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: 5,
		MonitoringPeriod: time.Minute,
		ResetTimeout:     time.Second,
		HalfOpenMaxCalls: 1,
	})

	svc := NewService(ServiceParams{
		Board:    board,
		DB:       db,
		Pool:     pool,
		Breakers: reg,
		Node:     node,
	})

	return svc, board, pool
}

func TestRecordTipIncrements(t *testing.T) {
	svc, board, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTip(ctx, "alice", "bob", 500, false, "txn-1"))

	stats, err := svc.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TipsSent)
	require.Equal(t, int64(500), stats.AmountSent)
	require.Equal(t, int64(1), stats.WeeklyTips)
	require.Equal(t, int64(500), stats.WeeklyAmount)
	require.Equal(t, int64(1), stats.GlobalRank)

	recv, err := svc.GetUserStats(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(1), recv.TipsReceived)
	require.Equal(t, int64(500), recv.AmountReceived)

	// sanity: exactly one increment landed on the global board
	entries, err := board.Top(ctx, boardAll(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(500), entries[0].Score)
}

func TestLeaderboardOrderAndRank(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTip(ctx, "alice", "zoe", 100, false, ""))
	require.NoError(t, svc.RecordTip(ctx, "bob", "zoe", 300, false, ""))
	require.NoError(t, svc.RecordTip(ctx, "carol", "zoe", 200, false, ""))

	entries, err := svc.GetLeaderboard(ctx, PeriodAll, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, Entry{Rank: 1, SubjectID: "bob", Score: 300}, entries[0])
	require.Equal(t, Entry{Rank: 2, SubjectID: "carol", Score: 200}, entries[1])
}

func TestWeeklyBucketIsolation(t *testing.T) {
	svc, board, _ := newTestService(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.RecordTip(ctx, "alice", "bob", 100, false, ""))

	// next ISO week lands in a different bucket
	lastBucket := rediskey.WeekBucket(now)
	now = now.AddDate(0, 0, 7)
	require.NoError(t, svc.RecordTip(ctx, "alice", "bob", 50, false, ""))

	entries, err := board.Top(ctx, boardWeek(rediskey.WeekBucket(now)), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(50), entries[0].Score)

	old, err := board.Top(ctx, boardWeek(lastBucket), 10)
	require.NoError(t, err)
	require.Equal(t, int64(100), old[0].Score)

	// global keeps accumulating across buckets
	all, err := board.Top(ctx, boardAll(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(150), all[0].Score)
}

func TestMirrorRowWritten(t *testing.T) {
	svc, _, pool := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTip(ctx, "alice", "bob", 500, true, "txn-9"))
	pool.Stop() // drain the mirror write

	var events []TipEvent
	require.NoError(t, svc.db.Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, "alice", events[0].SenderID)
	require.Equal(t, uint64(500), events[0].Amount)
	require.True(t, events[0].Flagged)
	require.Equal(t, "txn-9", events[0].TxnHandle)
}

func TestScoreboardErrorPropagates(t *testing.T) {
	svc, board, _ := newTestService(t)
	board.applyErr = errors.New("redis down")

	err := svc.RecordTip(context.Background(), "alice", "bob", 500, false, "")
	require.Error(t, err)
}

func TestUnknownPeriodRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetLeaderboard(context.Background(), "monthly", 10)
	require.Error(t, err)
}
