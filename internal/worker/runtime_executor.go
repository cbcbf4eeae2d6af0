package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/metrics"
	"github.com/caesium-cloud/pipeline/internal/models"
	"github.com/caesium-cloud/pipeline/internal/notify"
	"github.com/caesium-cloud/pipeline/internal/task"
	"github.com/caesium-cloud/pipeline/pkg/log"
)

const (
	defaultLeaseRenewInterval = 1 * time.Second
	minLeaseRenewInterval     = 1 * time.Second
)

// LeaseRenewer extends a claimed job_queue_entries row's lease.
type LeaseRenewer interface {
	RenewLease(entry *models.JobQueueEntry) error
}

// errAbandonedClaim signals that this node lost the race to transition
// a PipelineRunTask row from Scheduled to Running — another worker's
// executeEntry got there first. The caller abandons the job back to
// the queue instead of running its System task a second time.
var errAbandonedClaim = errors.New("pipeline run task is no longer scheduled; abandoning claim")

type runtimeExecutor struct {
	db             *gorm.DB
	catalog        task.Catalog
	renewer        LeaseRenewer
	publisher      notify.Publisher
	taskTimeout    time.Duration
	workerLeaseTTL time.Duration
}

// NewRuntimeExecutor builds a JobExecutor that runs a claimed
// job_queue_entries row's System task via catalog, renewing its lease
// with renewer while the task runs, and publishing the terminal status
// over publisher so subscribers of the run learn about it.
func NewRuntimeExecutor(gdb *gorm.DB, catalog task.Catalog, renewer LeaseRenewer, publisher notify.Publisher, taskTimeout, workerLeaseTTL time.Duration) JobExecutor {
	if gdb == nil {
		panic("runtime executor requires a database handle")
	}
	if catalog == nil {
		catalog = task.Default()
	}

	return (&runtimeExecutor{
		db:             gdb,
		catalog:        catalog,
		renewer:        renewer,
		publisher:      publisher,
		taskTimeout:    taskTimeout,
		workerLeaseTTL: workerLeaseTTL,
	}).Execute
}

func (e *runtimeExecutor) Execute(ctx context.Context, entry *models.JobQueueEntry) {
	if entry == nil {
		return
	}

	start := time.Now()
	err := e.executeEntry(ctx, entry)

	if errors.Is(err, errAbandonedClaim) {
		log.Info("worker job abandoned to another claimant", "job_id", entry.ID, "run_id", entry.RunID)
		return
	}

	var prTask models.PipelineRunTask
	status := string(models.TaskStatusComplete)
	if err != nil {
		status = string(models.TaskStatusFailed)
	}
	if lookupErr := e.db.First(&prTask, "id = ?", entry.PRTaskID).Error; lookupErr == nil {
		metrics.TaskRunsTotal.WithLabelValues(prTask.TaskID, status).Inc()
		metrics.TaskRunDurationSeconds.WithLabelValues(prTask.TaskID, status).Observe(time.Since(start).Seconds())
	}

	if err == nil {
		e.deleteEntry(entry)
		return
	}

	if errors.Is(err, context.Canceled) {
		log.Info("worker job canceled", "job_id", entry.ID, "run_id", entry.RunID)
		return
	}

	log.Error("worker job failed", "job_id", entry.ID, "run_id", entry.RunID, "task_class", entry.TaskClass, "error", err)
	e.deleteEntry(entry)
}

func (e *runtimeExecutor) executeEntry(ctx context.Context, entry *models.JobQueueEntry) error {
	taskCtx := ctx
	cancel := func() {}
	if e.taskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, e.taskTimeout)
	}
	defer cancel()

	entryImpl, ok := e.catalog[entry.TaskClass]
	if !ok || entryImpl.System == nil {
		return fmt.Errorf("no system task registered for %q", entry.TaskClass)
	}

	var prTask models.PipelineRunTask
	if err := e.db.First(&prTask, "id = ?", entry.PRTaskID).Error; err != nil {
		return err
	}

	// A lease-renewal tick delayed by a GC pause or a brief DB hiccup
	// can let ReclaimExpired hand this same job_queue_entries row to a
	// second worker while the first is still genuinely executing. The
	// Scheduled -> Running transition is the actual claim: it only
	// succeeds for whichever worker gets here while the row is still
	// Scheduled, so a losing worker never launches a second concurrent
	// System task against the same row.
	claim := e.db.Model(&models.PipelineRunTask{}).
		Where("id = ? AND task_status = ?", entry.PRTaskID, models.TaskStatusScheduled).
		Updates(map[string]interface{}{
			"task_status":  models.TaskStatusRunning,
			"task_running": true,
			"task_start":   time.Now().UTC(),
		})
	if claim.Error != nil {
		return claim.Error
	}
	if claim.RowsAffected == 0 {
		e.releaseLease(entry)
		return errAbandonedClaim
	}

	if e.publisher != nil {
		e.publisher.Publish(ctx, notify.RunChannel(entry.RunID), notify.Event{
			RunID:    entry.RunID,
			PRTaskID: entry.PRTaskID,
			Status:   string(models.TaskStatusRunning),
		})
	}

	done := make(chan error, 1)
	go func() { done <- entryImpl.System(taskCtx, e.db, &prTask) }()

	renewTicker := time.NewTicker(leaseRenewInterval(e.workerLeaseTTL))
	defer renewTicker.Stop()

	var execErr error
loop:
	for {
		select {
		case execErr = <-done:
			break loop
		case <-taskCtx.Done():
			execErr = taskCtx.Err()
			break loop
		case <-renewTicker.C:
			if e.renewer != nil {
				if err := e.renewer.RenewLease(entry); err != nil {
					log.Error("failed to renew worker job lease", "job_id", entry.ID, "error", err)
				}
			}
		}
	}

	completed := time.Now().UTC()
	updates := map[string]interface{}{
		"task_running":   false,
		"task_complete":  true,
		"task_completed": completed,
	}
	if execErr != nil {
		updates["task_status"] = models.TaskStatusFailed
		updates["task_message"] = execErr.Error()
	} else {
		updates["task_status"] = models.TaskStatusComplete
	}
	if err := e.db.Model(&models.PipelineRunTask{}).Where("id = ?", entry.PRTaskID).Updates(updates).Error; err != nil {
		return err
	}

	if e.publisher != nil {
		status := string(models.TaskStatusComplete)
		if execErr != nil {
			status = string(models.TaskStatusFailed)
		}
		e.publisher.Publish(ctx, notify.RunChannel(entry.RunID), notify.Event{
			RunID:    entry.RunID,
			PRTaskID: entry.PRTaskID,
			Status:   status,
		})
	}

	if execErr != nil {
		return execErr
	}

	if entry.RunNext {
		if err := e.enqueueNext(entry.RunID); err != nil {
			log.Error("failed to chain next task", "run_id", entry.RunID, "error", err)
		}
	}

	return nil
}

func (e *runtimeExecutor) enqueueNext(runID uuid.UUID) error {
	var next models.PipelineRunTask
	err := e.db.
		Where("run_id = ? AND task_status = ?", runID, models.TaskStatusWaiting).
		Order("order_index ASC").
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	entryImpl, ok := e.catalog[next.TaskID]
	if !ok || entryImpl.Kind != task.KindSystem {
		// Next task is a User task (or unregistered); chaining stops
		// here per spec.md §8 scenario 2.
		return nil
	}

	return e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&next).Update("task_status", models.TaskStatusScheduled).Error; err != nil {
			return err
		}
		return tx.Create(&models.JobQueueEntry{
			ID:          uuid.New(),
			JobType:     models.JobTypeSystemTask,
			RunID:       runID,
			PRTaskID:    next.ID,
			TaskClass:   next.TaskID,
			RunNext:     true,
			ScheduledAt: time.Now().UTC(),
		}).Error
	})
}

func (e *runtimeExecutor) deleteEntry(entry *models.JobQueueEntry) {
	if err := e.db.Delete(&models.JobQueueEntry{}, "id = ?", entry.ID).Error; err != nil {
		log.Error("failed to delete completed job queue entry", "job_id", entry.ID, "error", err)
	}
}

// releaseLease clears this node's lease on an abandoned job_queue_entries
// row, putting it back in the queue rather than deleting it: the
// winning worker's executeEntry still owns the row and will delete it
// on completion.
func (e *runtimeExecutor) releaseLease(entry *models.JobQueueEntry) {
	err := e.db.Model(&models.JobQueueEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"lease_holder":     "",
			"lease_expires_at": nil,
		}).Error
	if err != nil {
		log.Error("failed to release abandoned job lease", "job_id", entry.ID, "error", err)
	}
}

func leaseRenewInterval(leaseTTL time.Duration) time.Duration {
	if leaseTTL <= 0 {
		return defaultLeaseRenewInterval
	}

	interval := leaseTTL / 2
	if interval < minLeaseRenewInterval {
		return minLeaseRenewInterval
	}
	return interval
}
