package worker

import (
	"context"
	"time"

	"github.com/caesium-cloud/pipeline/internal/models"
	"github.com/caesium-cloud/pipeline/pkg/log"
)

// JobClaimer claims the next available job_queue_entries row.
type JobClaimer interface {
	ClaimNext(ctx context.Context) (*models.JobQueueEntry, error)
}

// ExpiredReclaimer reclaims job_queue_entries rows whose lease expired
// without the holder completing them.
type ExpiredReclaimer interface {
	ReclaimExpired(ctx context.Context) error
}

// AbandonedReaper fails PipelineRunTask rows left task_running = true
// whose job_queue_entries lease has gone stale. Lease expiry alone
// can't distinguish a crashed worker from one whose renewal tick was
// merely delayed, so this is a separate, stronger check than
// ExpiredReclaimer's: it looks at whether the task itself is still
// claimed, not just whether the job queue row is.
type AbandonedReaper interface {
	ReapAbandoned(ctx context.Context) error
}

// defaultReapInterval bounds how often Run re-checks for abandoned
// in-flight tasks; ReapAbandoned scans every task_running row, so it
// runs far less often than the claim poll itself.
const defaultReapInterval = 30 * time.Second

// JobExecutor runs one claimed job_queue_entries row to completion.
type JobExecutor func(ctx context.Context, entry *models.JobQueueEntry)

// Worker polls a JobClaimer and dispatches claimed entries into a
// bounded Pool.
type Worker struct {
	claimer      JobClaimer
	pool         *Pool
	pollInterval time.Duration
	reapInterval time.Duration
	executor     JobExecutor
}

// NewWorker builds a Worker. A nil pool defaults to concurrency 1; a
// non-positive pollInterval defaults to 2s; a nil executor is a no-op
// (useful in tests that only exercise claiming).
func NewWorker(claimer JobClaimer, pool *Pool, pollInterval time.Duration, executor JobExecutor) *Worker {
	if claimer == nil {
		panic("worker requires a job claimer")
	}
	if pool == nil {
		pool = NewPool(1)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if executor == nil {
		executor = func(context.Context, *models.JobQueueEntry) {}
	}

	return &Worker{
		claimer:      claimer,
		pool:         pool,
		pollInterval: pollInterval,
		reapInterval: defaultReapInterval,
		executor:     executor,
	}
}

// Run polls for claimable job_queue_entries rows until ctx is
// canceled, dispatching each claimed entry into the pool. It returns
// once every in-flight job has drained.
func (w *Worker) Run(ctx context.Context) error {
	nextReap := time.Now()

	for {
		select {
		case <-ctx.Done():
			w.pool.Wait()
			return nil
		default:
		}

		if reclaimer, ok := w.claimer.(ExpiredReclaimer); ok {
			if err := reclaimer.ReclaimExpired(ctx); err != nil && ctx.Err() == nil {
				log.Error("failed to reclaim expired job leases", "error", err)
			}
		}

		if reaper, ok := w.claimer.(AbandonedReaper); ok && !time.Now().Before(nextReap) {
			if err := reaper.ReapAbandoned(ctx); err != nil && ctx.Err() == nil {
				log.Error("failed to reap abandoned tasks", "error", err)
			}
			nextReap = time.Now().Add(w.reapInterval)
		}

		entry, err := w.claimer.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.pool.Wait()
				return nil
			}
			log.Error("failed to claim next job", "error", err)
		}

		if err != nil || entry == nil {
			if sleepErr := sleepWithContext(ctx, w.pollInterval); sleepErr != nil {
				w.pool.Wait()
				return nil
			}
			continue
		}

		if err := w.pool.Submit(ctx, func() {
			w.executor(ctx, entry)
		}); err != nil {
			if ctx.Err() != nil {
				w.pool.Wait()
				return nil
			}
			return err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
