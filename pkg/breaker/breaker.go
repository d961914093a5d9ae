package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrOpen is returned by Execute without invoking the operation while the
// breaker is open. Callers treat it as a transient dependency outage.
var ErrOpen = errors.New("circuit breaker open: service unavailable")

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "breaker_state_transitions_total",
}, []string{"breaker", "to"})

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type Settings struct {
	FailureThreshold int
	MonitoringPeriod time.Duration
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int
}

// Breaker guards a single external dependency. Failure bookkeeping is a
// time-ordered list pruned to the monitoring window on every state check, so
// the failure count always reflects the current window only.
type Breaker struct {
	name     string
	settings Settings

	mu            sync.Mutex
	state         State
	failures      []time.Time
	lastFailure   time.Time
	halfOpenCalls int

	now func() time.Time
}

func New(name string, settings Settings) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

func (b *Breaker) Name() string { return b.name }

// Execute runs op unless the breaker is open, observing the outcome.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	if err := op(ctx); err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

// State reports the current state, applying the OPEN -> HALF_OPEN timeout
// transition if due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.settings.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed with an empty failure window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.failures = nil
	b.halfOpenCalls = 0
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.settings.ResetTimeout {
			return ErrOpen
		}
		b.transitionLocked(StateHalfOpen)
		b.halfOpenCalls = 0
		fallthrough
	case StateHalfOpen:
		if b.halfOpenCalls >= b.settings.HalfOpenMaxCalls {
			return ErrOpen
		}
		b.halfOpenCalls++
	}

	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.transitionLocked(StateClosed)
		b.failures = nil
		b.halfOpenCalls = 0
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailure = now
	b.failures = append(b.failures, now)
	b.pruneLocked()

	switch {
	case b.state == StateHalfOpen:
		b.transitionLocked(StateOpen)
	case b.state == StateClosed && len(b.failures) >= b.settings.FailureThreshold:
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) pruneLocked() {
	cutoff := b.now().Add(-b.settings.MonitoringPeriod)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	zap.L().Info("breaker state change",
		zap.String("breaker", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
	)
	stateTransitions.WithLabelValues(b.name, to.String()).Inc()
	b.state = to
}
