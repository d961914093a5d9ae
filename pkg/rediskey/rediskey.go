package rediskey

import (
	"fmt"
	"time"
)

// Key namespaces. Each pipeline component owns its own namespace so the
// shared keyed store never crosses wires between the rate limiter, the abuse
// detector and the leaderboard.
const (
	RatePrefix  = "rate"
	BlockPrefix = "rate:block"
	AbusePrefix = "abuse"
	BoardPrefix = "board"
	StatsPrefix = "stats"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildRateKey returns "rate:{scope}:{subject}"
func BuildRateKey(scope, subject string) string {
	return fmt.Sprintf("%s:%s:%s", RatePrefix, scope, subject)
}

// BuildBlockKey returns "rate:block:{scope}:{subject}"
func BuildBlockKey(scope, subject string) string {
	return fmt.Sprintf("%s:%s:%s", BlockPrefix, scope, subject)
}

// BuildViolationKey returns "rate:viol:{scope}:{subject}"
func BuildViolationKey(scope, subject string) string {
	return fmt.Sprintf("%s:viol:%s:%s", RatePrefix, scope, subject)
}

// BuildSignalKey returns "abuse:{signal}:{subject}"
func BuildSignalKey(signal, subject string) string {
	return fmt.Sprintf("%s:%s:%s", AbusePrefix, signal, subject)
}

// BuildPairKey returns "abuse:{signal}:{from}:{to}" for directional pair
// signals such as circular-transfer timestamps.
func BuildPairKey(signal, from, to string) string {
	return fmt.Sprintf("%s:%s:%s:%s", AbusePrefix, signal, from, to)
}

// BuildBoardKey returns "board:{name}" for a leaderboard sorted set.
func BuildBoardKey(name string) string {
	return NamespaceKey(BoardPrefix, name)
}

// BuildStatsKey returns "stats:{userID}" for a user stat hash.
func BuildStatsKey(userID string) string {
	return NamespaceKey(StatsPrefix, userID)
}

// WeekBucket returns a deterministic ISO-week bucket suffix, e.g. "2026-W35".
// Period rollover needs no migration, only a new key.
func WeekBucket(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
