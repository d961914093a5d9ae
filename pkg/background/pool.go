package background

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	taskFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "background_task_failures_total",
	}, []string{"task"})
	taskDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "background_task_dropped_total",
	}, []string{"task"})
)

type task struct {
	name string
	fn   func(context.Context) error
}

// Pool runs fire-and-forget side effects (enrichment calls, leaderboard
// mirror writes) on a bounded set of workers. Submit never blocks the
// caller: when the queue is saturated the task is dropped and counted.
// Failures are logged and counted, never propagated.
type Pool struct {
	queue   chan task
	timeout time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewPool(workers, depth int, timeout time.Duration) *Pool {
	p := &Pool{
		queue:   make(chan task, depth),
		timeout: timeout,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// Submit queues fn for execution. Returns false when the task was dropped
// because the queue is full.
func (p *Pool) Submit(name string, fn func(context.Context) error) bool {
	select {
	case p.queue <- task{name: name, fn: fn}:
		return true
	default:
		taskDropped.WithLabelValues(name).Inc()
		zap.L().Warn("background task dropped, queue saturated", zap.String("task", name))
		return false
	}
}

// Stop closes the queue and waits for in-flight tasks to drain.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.queue)
	})
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := t.fn(ctx); err != nil {
			taskFailures.WithLabelValues(t.name).Inc()
			zap.L().Error("background task failed", zap.String("task", t.name), zap.Error(err))
		}
		cancel()
	}
}

var Module = fx.Module("background",
	fx.Provide(func(lc fx.Lifecycle) *Pool {
		pool := NewPool(4, 256, 15*time.Second)
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				pool.Stop()
				return nil
			},
		})
		return pool
	}),
)
