package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/pdctl/internal/metrics"
)

func TestSamplePublishesGauges(t *testing.T) {
	m := New(time.Second, WithCollector(func(context.Context) (Usage, error) {
		return Usage{RSS: 4096, CPUPercent: 12.5}, nil
	}))

	m.Sample(context.Background())

	assert.Equal(t, Usage{RSS: 4096, CPUPercent: 12.5}, m.Last())
	assert.InDelta(t, 4096, testutil.ToFloat64(metrics.ProcessRSS), 1e-9)
	assert.InDelta(t, 12.5, testutil.ToFloat64(metrics.ProcessCPU), 1e-9)
}

func TestSampleFailureKeepsLast(t *testing.T) {
	calls := 0
	m := New(time.Second, WithCollector(func(context.Context) (Usage, error) {
		calls++
		if calls > 1 {
			return Usage{}, errors.New("gone")
		}
		return Usage{RSS: 1}, nil
	}))

	m.Sample(context.Background())
	m.Sample(context.Background())

	assert.Equal(t, uint64(1), m.Last().RSS)
	assert.Equal(t, 2, calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	ticks := make(chan struct{}, 16)
	m := New(5*time.Millisecond, WithCollector(func(context.Context) (Usage, error) {
		select {
		case ticks <- struct{}{}:
		default:
		}
		return Usage{}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("monitor never sampled")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "monitor did not stop")
	}
}

func TestProcessCollector(t *testing.T) {
	u, err := New(0).collect(context.Background())
	require.NoError(t, err)
	assert.Positive(t, u.RSS)
}
