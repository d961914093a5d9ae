package tips

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tipcast/pkg/background"
	"tipcast/pkg/client"
	"tipcast/pkg/config"
	"tipcast/services/leaderboard"
)

// Worker drains the settle queue. Settlement is the only step that can fail
// the job; leaderboard and enrichment run best-effort after the transfer has
// cleared.
type Worker struct {
	cfg        *config.Config
	settlement client.Settlement
	board      *leaderboard.Service
	enrich     client.Enrichment
	pool       *background.Pool
	db         *gorm.DB
	node       *snowflake.Node

	// attempt metadata comes from the queue server's context; swapped out in
	// tests where no server is running.
	retryCount func(ctx context.Context) (int, bool)
	maxRetry   func(ctx context.Context) (int, bool)
}

func NewWorker(
	cfg *config.Config,
	settlement client.Settlement,
	board *leaderboard.Service,
	enrich client.Enrichment,
	pool *background.Pool,
	db *gorm.DB,
	node *snowflake.Node,
) *Worker {
	return &Worker{
		cfg:        cfg,
		settlement: settlement,
		board:      board,
		enrich:     enrich,
		pool:       pool,
		db:         db,
		node:       node,
		retryCount: asynq.GetRetryCount,
		maxRetry:   asynq.GetMaxRetry,
	}
}

// HandleSettleTip processes one queued tip. Transient settlement errors are
// returned plain so the queue retries with backoff; permanent or unclassified
// errors are recorded and wrapped with asynq.SkipRetry.
func (w *Worker) HandleSettleTip(ctx context.Context, t *asynq.Task) error {
	var job TipJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("decode tip job: %v: %w", err, asynq.SkipRetry)
	}

	retried, _ := w.retryCount(ctx)
	maxRetry, _ := w.maxRetry(ctx)
	job.AttemptCount = retried + 1
	log := zap.L().With(
		zap.String("job_id", job.JobID),
		zap.String("trace_id", job.TraceID),
		zap.Int("attempt", retried+1),
	)

	amount, err := job.Amount()
	if err != nil {
		w.recordFailure(ctx, &job, fmt.Errorf("invalid amount %q", job.AmountSmallestUnit), true, retried+1)
		return fmt.Errorf("invalid amount %q: %w", job.AmountSmallestUnit, asynq.SkipRetry)
	}

	txn, err := w.settlement.Settle(ctx, job.SenderID, job.RecipientID, amount, job.ContentRef)
	if err != nil {
		if isPermanent(err) || !isTransient(err) {
			log.Error("[Tips] settlement failed permanently", zap.Error(err))
			w.recordFailure(ctx, &job, err, true, retried+1)
			return fmt.Errorf("settle tip: %v: %w", err, asynq.SkipRetry)
		}
		if retried >= maxRetry {
			log.Error("[Tips] settlement retries exhausted", zap.Error(err))
			w.recordFailure(ctx, &job, err, false, retried+1)
			return fmt.Errorf("settle tip: %w", err)
		}
		log.Warn("[Tips] settlement failed, will retry", zap.Error(err))
		return fmt.Errorf("settle tip: %w", err)
	}

	if err := w.board.RecordTip(ctx, job.SenderID, job.RecipientID, amount, job.Flagged, string(txn)); err != nil {
		// The transfer already cleared; a scoreboard hiccup must not push
		// the job back onto the queue.
		log.Error("[Tips] leaderboard update failed", zap.Error(err))
	}

	w.submitEnrichment(&job, amount)

	log.Info("[Tips] settled", zap.String("txn", string(txn)), zap.Uint64("amount", amount))
	return nil
}

func (w *Worker) submitEnrichment(job *TipJob, amount uint64) {
	senderID, recipientID := job.SenderID, job.RecipientID
	w.pool.Submit("enrichment.insight", func(ctx context.Context) error {
		return w.enrich.GenerateInsight(ctx, senderID, recipientID, amount)
	})
	w.pool.Submit("enrichment.badges", func(ctx context.Context) error {
		return w.enrich.CheckBadges(ctx, recipientID)
	})
	w.pool.Submit("enrichment.notify", func(ctx context.Context) error {
		return w.enrich.NotifyTip(ctx, recipientID, amount)
	})
}

func (w *Worker) recordFailure(ctx context.Context, job *TipJob, cause error, permanent bool, attempts int) {
	meta, _ := json.Marshal(job)
	failure := TipFailure{
		ID:          w.node.Generate().String(),
		JobID:       job.JobID,
		SenderID:    job.SenderID,
		RecipientID: job.RecipientID,
		Amount:      job.AmountSmallestUnit,
		Reason:      cause.Error(),
		Permanent:   permanent,
		Attempts:    attempts,
		Metadata:    datatypes.JSON(meta),
		CreatedAt:   time.Now().UTC(),
	}
	if err := w.db.WithContext(ctx).Create(&failure).Error; err != nil {
		zap.L().Error("[Tips] failed to persist failure record",
			zap.String("job_id", job.JobID), zap.Error(err))
	}
}

// PurgeFailures removes failure records older than the retention window and
// returns the number of rows deleted.
func (w *Worker) PurgeFailures(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-w.cfg.Queue.FailureRetention)
	res := w.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&TipFailure{})
	return res.RowsAffected, res.Error
}
