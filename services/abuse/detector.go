package abuse

import (
	"context"
	"time"

	"tipcast/pkg/config"
	"tipcast/pkg/kvstore"
	"tipcast/pkg/rediskey"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	rejectionsBySignal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "abuse_rejections_total",
	}, []string{"signal"})
	flaggedTips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "abuse_flagged_total",
	})
)

type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	case SeverityLow:
		return "low"
	default:
		return "none"
	}
}

// Check is one tip under assessment.
type Check struct {
	SenderID      string
	RecipientID   string
	Amount        uint64
	SenderAddr    string
	RecipientAddr string
}

// Verdict is the joint outcome of all signals. Flagged tips are allowed but
// carried through the pipeline for review; this is a separate axis from the
// hard-reject signals.
type Verdict struct {
	Allowed    bool
	Reason     string
	Severity   Severity
	Wait       time.Duration
	Flagged    bool
	FlagReason string
}

type checkResult struct {
	signal     string
	rejected   bool
	reason     string
	severity   Severity
	wait       time.Duration
	flagged    bool
	flagReason string
}

type Detector struct {
	store kvstore.Store
	cfg   *config.Config
	now   func() time.Time
}

type DetectorParams struct {
	fx.In

	Store  kvstore.Store
	Config *config.Config
}

func NewDetector(p DetectorParams) *Detector {
	return &Detector{
		store: p.Store,
		cfg:   p.Config,
		now:   time.Now,
	}
}

// Assess runs every signal concurrently and returns the highest-severity
// rejection, or an allow. All signals run to completion even when one has
// already rejected: each records the attempt timestamps future checks depend
// on, and those writes must happen regardless of the outcome.
func (d *Detector) Assess(ctx context.Context, req Check) Verdict {
	checks := []func(context.Context, Check) checkResult{
		d.checkSelfDealing,
		d.checkCircular,
		d.checkFarming,
		d.checkVelocity,
		d.checkPattern,
		d.checkWalletVelocity,
		d.checkAnomaly,
	}

	results := make([]checkResult, len(checks))
	var g errgroup.Group
	for i, fn := range checks {
		g.Go(func() error {
			results[i] = fn(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	// the moving average tracks every tip, rejected or not
	d.updateAverage(ctx, req)

	verdict := Verdict{Allowed: true}
	for _, res := range results {
		if res.flagged && !verdict.Flagged {
			verdict.Flagged = true
			verdict.FlagReason = res.flagReason
			flaggedTips.Inc()
		}
		if res.rejected && res.severity > verdict.Severity {
			verdict.Allowed = false
			verdict.Reason = res.reason
			verdict.Severity = res.severity
			verdict.Wait = res.wait
			rejectionsBySignal.WithLabelValues(res.signal).Inc()
		}
	}

	if !verdict.Allowed {
		zap.L().Info("tip rejected by abuse signal",
			zap.String("sender_id", req.SenderID),
			zap.String("recipient_id", req.RecipientID),
			zap.String("severity", verdict.Severity.String()),
			zap.String("reason", verdict.Reason),
		)
	}

	return verdict
}

// updateAverage folds the amount into the sender's exponential moving
// average of tip size (0.9 history, 0.1 current).
func (d *Detector) updateAverage(ctx context.Context, req Check) {
	key := rediskey.BuildSignalKey("ema", req.SenderID)
	avg, ok, err := d.store.GetFloat(ctx, key)
	if err != nil {
		zap.L().Warn("abuse store unavailable, skipping average update", zap.Error(err))
		return
	}

	next := float64(req.Amount)
	if ok {
		next = avg*0.9 + float64(req.Amount)*0.1
	}

	if err := d.store.SetFloat(ctx, key, next, 30*24*time.Hour); err != nil {
		zap.L().Warn("abuse store unavailable, skipping average update", zap.Error(err))
	}
}
