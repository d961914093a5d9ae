package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestSubmitRunsTasks(t *testing.T) {
	p := NewPool(2, 8, time.Second)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, p.Submit("count", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	p.Stop()
	require.Equal(t, int32(5), ran.Load())
}

func TestFailureDoesNotStopWorkers(t *testing.T) {
	p := NewPool(1, 8, time.Second)

	var ran atomic.Int32
	p.Submit("fail", func(ctx context.Context) error { return errors.New("nope") })
	p.Submit("ok", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	p.Stop()
	require.Equal(t, int32(1), ran.Load())
}

func TestSubmitDropsWhenSaturated(t *testing.T) {
	p := NewPool(1, 1, time.Second)

	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit("block", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	// one slot in the queue, then drops
	require.True(t, p.Submit("queued", func(ctx context.Context) error { return nil }))
	require.False(t, p.Submit("dropped", func(ctx context.Context) error { return nil }))

	close(block)
	p.Stop()
}
