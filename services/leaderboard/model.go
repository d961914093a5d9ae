package leaderboard

import (
	"time"
)

// TipEvent is the relational mirror row written for every recorded tip. The
// fast store stays authoritative for reads; this table is the replay log for
// reconciliation and historical queries.
type TipEvent struct {
	ID          string    `gorm:"column:id;primaryKey"`
	SenderID    string    `gorm:"column:sender_id;index"`
	RecipientID string    `gorm:"column:recipient_id;index"`
	Amount      uint64    `gorm:"column:amount"`
	WeekBucket  string    `gorm:"column:week_bucket;index"`
	Flagged     bool      `gorm:"column:flagged"`
	TxnHandle   string    `gorm:"column:txn_handle"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (TipEvent) TableName() string { return "tip_events" }

// Entry is one ranked row. Rank is computed on read, never stored.
type Entry struct {
	Rank      int64  `json:"rank"`
	SubjectID string `json:"subject_id"`
	Score     int64  `json:"score"`
}

// UserStats is the per-user snapshot plus computed ranks.
type UserStats struct {
	SubjectID      string `json:"subject_id"`
	TipsSent       int64  `json:"tips_sent"`
	TipsReceived   int64  `json:"tips_received"`
	AmountSent     int64  `json:"amount_sent"`
	AmountReceived int64  `json:"amount_received"`
	WeeklyTips     int64  `json:"weekly_tips"`
	WeeklyAmount   int64  `json:"weekly_amount"`
	GlobalRank     int64  `json:"global_rank"`
	WeeklyRank     int64  `json:"weekly_rank"`
}

// Leaderboard periods.
const (
	PeriodAll    = "all"
	PeriodWeekly = "weekly"
)
