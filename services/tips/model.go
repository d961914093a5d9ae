package tips

import (
	"time"

	"gorm.io/datatypes"
)

// TipFailure records a job that reached a terminal failure state, either by
// exhausting its retry budget or by hitting a permanent error. Rows older
// than the configured failure retention are swept by the worker.
type TipFailure struct {
	ID          string         `gorm:"primaryKey;column:id" json:"id"`
	JobID       string         `gorm:"column:job_id;index" json:"job_id"`
	SenderID    string         `gorm:"column:sender_id;index" json:"sender_id"`
	RecipientID string         `gorm:"column:recipient_id" json:"recipient_id"`
	Amount      string         `gorm:"column:amount" json:"amount"`
	Reason      string         `gorm:"column:reason" json:"reason"`
	Permanent   bool           `gorm:"column:permanent" json:"permanent"`
	Attempts    int            `gorm:"column:attempts" json:"attempts"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (TipFailure) TableName() string { return "tip_failures" }

// JobStatus is the submitter-facing view of a queued tip.
type JobStatus struct {
	JobID       string     `json:"job_id"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
