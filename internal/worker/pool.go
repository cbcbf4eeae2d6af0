// Package worker implements the durable job-queue worker pool of
// spec.md §4.3: a semaphore-bounded goroutine pool polling the
// job_queue_entries table, claiming entries via a conditional UPDATE,
// and dispatching System tasks to the registered task.Catalog.
package worker

import (
	"context"
	"sync"

	"github.com/caesium-cloud/pipeline/internal/metrics"
)

// Pool bounds concurrent task executions using a semaphore so a single
// worker node never runs more than size jobs at once, and reports its
// live occupancy via the pipeline_jobs_active gauge so an operator can
// tell a saturated pool (every slot busy) from a starved queue (no
// jobs to claim) without reading logs.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	nodeID string
}

// NewPool returns a Pool that admits at most size concurrent jobs.
// nodeID labels the pipeline_jobs_active gauge; it is optional and
// defaults to "unknown-node" so existing callers that only care about
// concurrency bounding (tests, in particular) don't need to supply one.
func NewPool(size int, nodeID ...string) *Pool {
	if size < 1 {
		size = 1
	}
	id := "unknown-node"
	if len(nodeID) > 0 && nodeID[0] != "" {
		id = nodeID[0]
	}
	return &Pool{sem: make(chan struct{}, size), nodeID: id}
}

// Submit blocks until a slot is free (or ctx is done) and then runs fn
// in its own goroutine.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
		p.wg.Add(1)
		metrics.JobsActive.WithLabelValues(p.nodeID).Inc()
		go func() {
			defer func() {
				<-p.sem
				metrics.JobsActive.WithLabelValues(p.nodeID).Dec()
				p.wg.Done()
			}()
			fn()
		}()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted fn has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
