package tips

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tipcast/pkg/client"
	"tipcast/pkg/config"
	"tipcast/pkg/errutil"
	"tipcast/pkg/task"
	"tipcast/services/abuse"
	"tipcast/services/ratelimit"
)

// SubmitRequest carries one tip submission through admission.
type SubmitRequest struct {
	SenderID        string
	RecipientID     string
	Amount          uint64
	Message         string
	SenderAddr      string
	SenderWallet    string
	RecipientWallet string
	Tier            int
}

// SubmitResult is the synchronous answer to a submission. A rejection is a
// normal outcome, not an error.
type SubmitResult struct {
	Accepted          bool   `json:"accepted"`
	JobID             string `json:"job_id,omitempty"`
	RejectionReason   string `json:"rejection_reason,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	Flagged           bool   `json:"flagged,omitempty"`
}

type Service struct {
	cfg        *config.Config
	limiter    *ratelimit.Service
	detector   *abuse.Detector
	moderation client.Moderation
	content    client.ContentStore
	enqueuer   task.Enqueuer
	inspector  *asynq.Inspector

	now func() time.Time
}

func NewService(
	cfg *config.Config,
	limiter *ratelimit.Service,
	detector *abuse.Detector,
	moderation client.Moderation,
	content client.ContentStore,
	enqueuer task.Enqueuer,
	inspector *asynq.Inspector,
) *Service {
	return &Service{
		cfg:        cfg,
		limiter:    limiter,
		detector:   detector,
		moderation: moderation,
		content:    content,
		enqueuer:   enqueuer,
		inspector:  inspector,
		now:        time.Now,
	}
}

// SubmitTip runs the admission pipeline: rate limits, abuse checks,
// moderation, content pinning, then a durable enqueue. Rejections return a
// populated SubmitResult with a nil error.
func (s *Service) SubmitTip(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.SenderID == "" || req.RecipientID == "" {
		return nil, errutil.ValidationFailed("sender_id and recipient_id are required")
	}
	if req.Amount == 0 {
		return nil, errutil.ValidationFailed("amount must be greater than zero")
	}

	limit := s.limiter.CheckTip(ctx, ratelimit.TipCheck{
		SenderID:     req.SenderID,
		SenderAddr:   req.SenderAddr,
		SenderWallet: req.SenderWallet,
		Amount:       req.Amount,
		Tier:         req.Tier,
	})
	if !limit.Allowed {
		return &SubmitResult{
			Accepted:          false,
			RejectionReason:   limit.Reason,
			RetryAfterSeconds: ceilSeconds(limit.RetryAfter),
		}, nil
	}

	verdict := s.detector.Assess(ctx, abuse.Check{
		SenderID:      req.SenderID,
		RecipientID:   req.RecipientID,
		Amount:        req.Amount,
		SenderAddr:    req.SenderWallet,
		RecipientAddr: req.RecipientWallet,
	})
	if !verdict.Allowed {
		return &SubmitResult{
			Accepted:          false,
			RejectionReason:   verdict.Reason,
			RetryAfterSeconds: ceilSeconds(verdict.Wait),
		}, nil
	}

	moderationAction := client.ModerationAllow
	if req.Message != "" {
		md, err := s.moderation.Screen(ctx, req.Message)
		if err != nil {
			return nil, errutil.ServiceUnavailable("moderation service unavailable", errutil.WithErr(err))
		}
		moderationAction = md.Action
		if md.Action == client.ModerationBlock {
			return &SubmitResult{
				Accepted:        false,
				RejectionReason: "message rejected by moderation",
			}, nil
		}
	}

	contentRef := ""
	if req.Message != "" {
		ref, err := s.content.Pin(ctx, []byte(req.Message))
		if err != nil {
			return nil, errutil.ServiceUnavailable("content store unavailable", errutil.WithErr(err))
		}
		contentRef = ref
	}

	now := s.now()
	job := TipJob{
		JobID:              NewJobID(req.SenderID, req.RecipientID, now),
		SenderID:           req.SenderID,
		RecipientID:        req.RecipientID,
		AmountSmallestUnit: formatAmount(req.Amount),
		ContentRef:         contentRef,
		ModerationAction:   string(moderationAction),
		Flagged:            verdict.Flagged,
		FlagReason:         verdict.FlagReason,
		EnqueuedAtMs:       now.UnixMilli(),
		TraceID:            traceID(ctx),
	}

	payload, err := json.Marshal(&job)
	if err != nil {
		return nil, errutil.Internal("encode tip job", errutil.WithErr(err))
	}

	_, err = s.enqueuer.Enqueue(ctx, asynq.NewTask(TaskSettleTip, payload),
		asynq.TaskID(job.JobID),
		asynq.Queue("default"),
		asynq.MaxRetry(s.cfg.Queue.MaxAttempts-1),
		asynq.Retention(s.cfg.Queue.SuccessRetention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil, errutil.Conflict("duplicate tip submission")
		}
		return nil, errutil.ServiceUnavailable("tip queue unavailable", errutil.WithErr(err))
	}

	zap.L().Info("[Tips] submission accepted",
		zap.String("job_id", job.JobID),
		zap.String("sender_id", req.SenderID),
		zap.String("recipient_id", req.RecipientID),
		zap.Uint64("amount", req.Amount),
		zap.Bool("flagged", job.Flagged),
	)

	return &SubmitResult{Accepted: true, JobID: job.JobID, Flagged: job.Flagged}, nil
}

// GetJobStatus reports the queue-side view of a previously submitted job.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if s.inspector == nil {
		return nil, errutil.ServiceUnavailable("queue inspector not configured")
	}
	info, err := s.inspector.GetTaskInfo("default", jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, errutil.NotFound("job not found")
		}
		return nil, errutil.ServiceUnavailable("queue inspection failed", errutil.WithErr(err))
	}

	status := &JobStatus{
		JobID:       info.ID,
		State:       info.State.String(),
		Attempts:    info.Retried,
		MaxAttempts: info.MaxRetry + 1,
		LastError:   info.LastErr,
	}

	var job TipJob
	if err := json.Unmarshal(info.Payload, &job); err == nil && job.EnqueuedAtMs > 0 {
		status.EnqueuedAt = time.UnixMilli(job.EnqueuedAtMs).UTC()
	}
	if !info.CompletedAt.IsZero() {
		done := info.CompletedAt
		status.CompletedAt = &done
	}
	return status, nil
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

func formatAmount(amount uint64) string {
	return strconv.FormatUint(amount, 10)
}

func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}
