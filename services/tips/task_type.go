package tips

import (
	"fmt"
	"strconv"
	"time"
)

const (
	TaskSettleTip = "tips:settle"
)

// TipJob is the queued job record. It is owned by the queue from enqueue to
// terminal state; the amount travels as a string-encoded unsigned integer in
// smallest units.
type TipJob struct {
	JobID              string `json:"job_id"`
	SenderID           string `json:"sender_id"`
	RecipientID        string `json:"recipient_id"`
	AmountSmallestUnit string `json:"amount_smallest_unit"`
	ContentRef         string `json:"content_ref,omitempty"`
	ModerationAction   string `json:"moderation_action"`
	Flagged            bool   `json:"flagged,omitempty"`
	FlagReason         string `json:"flag_reason,omitempty"`
	EnqueuedAtMs       int64  `json:"enqueued_at_ms"`
	AttemptCount       int    `json:"attempt_count"`
	TraceID            string `json:"trace_id,omitempty"`
}

func (j *TipJob) Amount() (uint64, error) {
	return strconv.ParseUint(j.AmountSmallestUnit, 10, 64)
}

// NewJobID derives the job identity from sender, recipient and submission
// time. A duplicate enqueue of the same logical submission collides on the
// queue's task ID and is reported, not silently absorbed.
func NewJobID(senderID, recipientID string, at time.Time) string {
	return fmt.Sprintf("tip:%s:%s:%d", senderID, recipientID, at.UnixMilli())
}
