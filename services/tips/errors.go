package tips

import (
	"context"
	"errors"
	"strings"

	"tipcast/pkg/breaker"
)

// Error classification for settlement outcomes. A job is retried only when
// the error matches a known-transient class; permanent errors and anything
// unrecognized go straight to the failure record.

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"network",
	"temporarily",
	"unavailable",
	"too many requests",
	"rate limit",
	"unexpected EOF",
	"broken pipe",
}

var permanentMarkers = []string{
	"validation",
	"invalid",
	"malformed",
	"unauthorized",
	"forbidden",
	"not found",
	"insufficient funds",
	"already settled",
}

func isPermanent(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, breaker.ErrOpen) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
