package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesium-cloud/pipeline/internal/metrics"
	"github.com/caesium-cloud/pipeline/internal/worker"
)

func TestPoolWaitsForSubmittedTasks(t *testing.T) {
	pool := worker.NewPool(2)
	var completed int32

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(context.Background(), func() {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
		}))
	}

	pool.Wait()
	assert.Equal(t, int32(6), atomic.LoadInt32(&completed))
}

func TestPoolSubmitHonorsContextCancelWhenFull(t *testing.T) {
	pool := worker.NewPool(1)
	started := make(chan struct{})
	block := make(chan struct{})

	require.NoError(t, pool.Submit(context.Background(), func() {
		close(started)
		<-block
	}))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.Submit(ctx, func() {})
	require.Error(t, err)

	close(block)
	pool.Wait()
}

func TestPoolReportsActiveJobsOnTheNodeGauge(t *testing.T) {
	pool := worker.NewPool(1, "node-gauge-test")
	gauge := metrics.JobsActive.WithLabelValues("node-gauge-test")

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func() {
		<-release
	}))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(gauge) == 1
	}, time.Second, time.Millisecond)

	close(release)
	pool.Wait()

	assert.Equal(t, float64(0), testutil.ToFloat64(gauge))
}
