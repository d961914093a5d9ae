package abuse

import (
	"context"
	"strconv"
	"strings"
	"time"

	"tipcast/pkg/rediskey"

	"go.uber.org/zap"
)

// Signal names double as store key namespaces.
const (
	signalSelfDealing = "self_dealing"
	signalCircular    = "circular"
	signalFarming     = "farming"
	signalVelocity    = "velocity"
	signalPattern     = "pattern"
	signalWalletVel   = "wallet_velocity"
	signalAnomaly     = "anomaly"
)

func (d *Detector) checkSelfDealing(_ context.Context, req Check) checkResult {
	if req.SenderAddr == "" || !strings.EqualFold(req.SenderAddr, req.RecipientAddr) {
		return checkResult{signal: signalSelfDealing}
	}
	return checkResult{
		signal:   signalSelfDealing,
		rejected: true,
		reason:   "sender and recipient address are the same",
		severity: SeverityCritical,
	}
}

// checkCircular rejects when a reverse-direction transfer between the same
// pair happened within the window. Either way the current direction records
// its own timestamp for future checks.
func (d *Detector) checkCircular(ctx context.Context, req Check) checkResult {
	res := checkResult{signal: signalCircular}
	now := d.now()
	window := d.cfg.Abuse.CircularWindow

	reverseKey := rediskey.BuildPairKey(signalCircular, req.RecipientID, req.SenderID)
	n, err := d.store.CountSince(ctx, reverseKey, now.Add(-window))
	if err != nil {
		return d.failOpen(signalCircular, err)
	}
	if n > 0 {
		res.rejected = true
		res.reason = "reverse transfer between this pair within the circular window"
		res.severity = SeverityHigh
	}

	forwardKey := rediskey.BuildPairKey(signalCircular, req.SenderID, req.RecipientID)
	if err := d.store.AddEntry(ctx, forwardKey, now, window); err != nil {
		zap.L().Warn("abuse store write failed", zap.String("signal", signalCircular), zap.Error(err))
	}

	return res
}

// checkFarming only engages below the small-amount threshold: farming is a
// many-tiny-transfers pattern, large tips are covered by the amount-tier rate
// limit instead.
func (d *Detector) checkFarming(ctx context.Context, req Check) checkResult {
	res := checkResult{signal: signalFarming}
	if req.Amount >= d.cfg.Abuse.FarmingSmallAmount {
		return res
	}

	now := d.now()
	window := 24 * time.Hour
	pair := req.SenderID + ":" + req.RecipientID

	countKey := rediskey.BuildSignalKey(signalFarming, pair)
	if err := d.store.AddEntry(ctx, countKey, now, window); err != nil {
		return d.failOpen(signalFarming, err)
	}
	count, err := d.store.CountSince(ctx, countKey, now.Add(-window))
	if err != nil {
		return d.failOpen(signalFarming, err)
	}

	total, err := d.store.IncrBy(ctx, rediskey.BuildSignalKey(signalFarming+":sum", pair), int64(req.Amount), window)
	if err != nil {
		return d.failOpen(signalFarming, err)
	}

	dailyCap := d.cfg.Abuse.FarmingDailyCap
	switch {
	case count > dailyCap:
		res.rejected = true
		res.reason = "too many transfers to the same recipient today"
		res.severity = SeverityMedium
	case count > dailyCap/2 && total/count < int64(d.cfg.Abuse.FarmingSmallAmount)/10:
		// many transfers moving almost no value
		res.rejected = true
		res.reason = "farming pattern: many tiny transfers to the same recipient"
		res.severity = SeverityMedium
	}

	return res
}

func (d *Detector) checkVelocity(ctx context.Context, req Check) checkResult {
	res := checkResult{signal: signalVelocity}
	now := d.now()
	window := d.cfg.Abuse.VelocityWindow
	key := rediskey.BuildSignalKey(signalVelocity, req.SenderID)

	if err := d.store.PruneBefore(ctx, key, now.Add(-window)); err != nil {
		return d.failOpen(signalVelocity, err)
	}
	count, err := d.store.CountSince(ctx, key, now.Add(-window))
	if err != nil {
		return d.failOpen(signalVelocity, err)
	}

	if count >= d.cfg.Abuse.VelocityCap {
		res.rejected = true
		res.reason = "too many tips in a short period"
		res.severity = SeverityHigh
		if oldest, ok, err := d.store.OldestSince(ctx, key, now.Add(-window)); err == nil && ok {
			res.wait = oldest.Add(window).Sub(now)
		}
		return res
	}

	if err := d.store.AddEntry(ctx, key, now, window); err != nil {
		zap.L().Warn("abuse store write failed", zap.String("signal", signalVelocity), zap.Error(err))
	}
	return res
}

func (d *Detector) checkPattern(ctx context.Context, req Check) checkResult {
	res := checkResult{signal: signalPattern}
	window := time.Hour

	sameKey := rediskey.BuildSignalKey(signalPattern+":amt", req.SenderID+":"+strconv.FormatUint(req.Amount, 10))
	same, err := d.store.IncrBy(ctx, sameKey, 1, window)
	if err != nil {
		return d.failOpen(signalPattern, err)
	}
	if same > d.cfg.Abuse.PatternRepeatCap {
		res.rejected = true
		res.reason = "repeating the same amount too often"
		res.severity = SeverityMedium
		return res
	}

	if isRoundAmount(req.Amount) {
		round, err := d.store.IncrBy(ctx, rediskey.BuildSignalKey(signalPattern+":round", req.SenderID), 1, window)
		if err != nil {
			return d.failOpen(signalPattern, err)
		}
		if round > d.cfg.Abuse.RoundAmountCap {
			res.rejected = true
			res.reason = "too many round-number amounts this hour"
			res.severity = SeverityLow
		}
	}

	return res
}

func (d *Detector) checkWalletVelocity(ctx context.Context, req Check) checkResult {
	res := checkResult{signal: signalWalletVel}
	now := d.now()
	window := time.Hour
	key := rediskey.BuildSignalKey(signalWalletVel, strings.ToLower(req.SenderAddr))

	if err := d.store.AddEntry(ctx, key, now, window); err != nil {
		return d.failOpen(signalWalletVel, err)
	}
	count, err := d.store.CountSince(ctx, key, now.Add(-window))
	if err != nil {
		return d.failOpen(signalWalletVel, err)
	}

	if count > d.cfg.Abuse.WalletHourlyCap {
		res.rejected = true
		res.reason = "too many transfers from this wallet this hour"
		res.severity = SeverityHigh
	}
	return res
}

// checkAnomaly never rejects. Amounts far above the sender's moving average
// and above an absolute floor pass with a review flag.
func (d *Detector) checkAnomaly(ctx context.Context, req Check) checkResult {
	res := checkResult{signal: signalAnomaly}

	avg, ok, err := d.store.GetFloat(ctx, rediskey.BuildSignalKey("ema", req.SenderID))
	if err != nil {
		return d.failOpen(signalAnomaly, err)
	}
	if !ok || avg <= 0 {
		return res
	}

	if float64(req.Amount) > avg*d.cfg.Abuse.AnomalyMultiplier && req.Amount > d.cfg.Abuse.AnomalyFloor {
		res.flagged = true
		res.flagReason = "amount far above sender's historical average"
	}
	return res
}

func (d *Detector) failOpen(signal string, err error) checkResult {
	zap.L().Warn("abuse store unavailable, signal skipped", zap.String("signal", signal), zap.Error(err))
	return checkResult{signal: signal}
}

// isRoundAmount reports suspiciously "even" amounts: whole multiples of
// 1000 smallest units or powers of ten.
func isRoundAmount(amount uint64) bool {
	if amount == 0 {
		return false
	}
	if amount%1000 == 0 {
		return true
	}
	for amount%10 == 0 {
		amount /= 10
	}
	return amount == 1
}
