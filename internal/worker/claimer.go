package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/metrics"
	"github.com/caesium-cloud/pipeline/internal/models"
)

const defaultLeaseTTL = 5 * time.Minute

// Claimer claims job_queue_entries rows for this node via a
// conditional UPDATE, per spec.md §4.3: at-most-one worker holds a
// given entry's lease at a time, and an expired lease is reclaimable
// by any node.
type Claimer struct {
	nodeID   string
	db       *gorm.DB
	leaseTTL time.Duration
}

// NewClaimer returns a Claimer bound to nodeID, claiming against db
// with the given lease TTL (defaulted if non-positive).
func NewClaimer(nodeID string, gdb *gorm.DB, leaseTTL time.Duration) *Claimer {
	if gdb == nil {
		panic("worker claimer requires a database handle")
	}
	if strings.TrimSpace(nodeID) == "" {
		nodeID = "unknown-node"
	}
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}

	return &Claimer{nodeID: nodeID, db: gdb, leaseTTL: leaseTTL}
}

// ClaimNext claims one ready job_queue_entries row, or returns nil
// when no entries are available.
func (c *Claimer) ClaimNext(ctx context.Context) (*models.JobQueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	leaseExpiry := now.Add(c.leaseTTL)
	var claimed *models.JobQueueEntry

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.JobQueueEntry
		err := tx.
			Where(
				"scheduled_at <= ? AND (lease_holder = '' OR lease_expires_at IS NULL OR lease_expires_at < ?)",
				now, now,
			).
			Order("scheduled_at ASC").
			Limit(64).
			Find(&candidates).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		for _, candidate := range candidates {
			result := tx.Model(&models.JobQueueEntry{}).
				Where(
					"id = ? AND (lease_holder = '' OR lease_expires_at IS NULL OR lease_expires_at < ?)",
					candidate.ID, now,
				).
				Updates(map[string]interface{}{
					"lease_holder":     c.nodeID,
					"lease_expires_at": leaseExpiry,
					"attempt_count":    candidate.AttemptCount + 1,
				})
			if result.Error != nil {
				if isClaimContentionErr(result.Error) {
					metrics.WorkerClaimContentionTotal.WithLabelValues(c.nodeID).Inc()
				}
				return result.Error
			}
			if result.RowsAffected == 0 {
				metrics.WorkerClaimContentionTotal.WithLabelValues(c.nodeID).Inc()
				continue
			}

			entry := &models.JobQueueEntry{}
			if err := tx.First(entry, "id = ?", candidate.ID).Error; err != nil {
				return err
			}
			claimed = entry
			break
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		metrics.WorkerClaimsTotal.WithLabelValues(c.nodeID).Inc()
	}

	return claimed, nil
}

// ReclaimExpired clears the lease on any job_queue_entries row whose
// lease has expired, making it eligible for ClaimNext again.
func (c *Claimer) ReclaimExpired(ctx context.Context) error {
	now := time.Now().UTC()
	result := c.db.WithContext(ctx).
		Model(&models.JobQueueEntry{}).
		Where("lease_holder != '' AND lease_expires_at IS NOT NULL AND lease_expires_at < ?", now).
		Updates(map[string]interface{}{
			"lease_holder":     "",
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		metrics.WorkerLeaseExpirationsTotal.WithLabelValues(c.nodeID).Add(float64(result.RowsAffected))
	}
	return nil
}

// ReapAbandoned fails any PipelineRunTask left task_running = true
// whose job_queue_entries lease has expired or disappeared entirely —
// the signature of a worker that crashed mid-execution. Per spec.md
// §4.1 ("reaped to Failed with a reason of 'abandoned'") and §4.3
// ("any task row left in task_running = true without a live lease is
// swept to Failed on next startup"), such a task is never silently
// reclaimed for re-execution: a System task's side effects (a COPY
// already in flight, a partially written table) aren't safe to repeat
// from scratch. cmd/start runs this once before the poll loop starts,
// and Worker.Run calls it again every defaultReapInterval.
func (c *Claimer) ReapAbandoned(ctx context.Context) error {
	now := time.Now().UTC()

	var running []models.PipelineRunTask
	if err := c.db.WithContext(ctx).
		Where("task_running = ?", true).
		Find(&running).Error; err != nil {
		return err
	}

	for _, prTask := range running {
		var entry models.JobQueueEntry
		err := c.db.WithContext(ctx).
			Where("pr_task_id = ?", prTask.ID).
			First(&entry).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		live := err == nil && entry.LeaseHolder != "" && entry.LeaseExpiresAt != nil && entry.LeaseExpiresAt.After(now)
		if live {
			continue
		}

		txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Model(&models.PipelineRunTask{}).
				Where("id = ? AND task_running = ?", prTask.ID, true).
				Updates(map[string]interface{}{
					"task_status":    models.TaskStatusFailed,
					"task_running":   false,
					"task_complete":  true,
					"task_completed": now,
					"task_message":   "abandoned: worker lease expired before completion",
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return nil
			}
			return tx.Delete(&models.JobQueueEntry{}, "pr_task_id = ?", prTask.ID).Error
		})
		if txErr != nil {
			return txErr
		}

		metrics.WorkerTasksAbandonedTotal.WithLabelValues(prTask.TaskID).Inc()
	}

	return nil
}

// RenewLease extends a held lease; called periodically while a job is
// executing so a slow task isn't reclaimed out from under its worker.
func (c *Claimer) RenewLease(entry *models.JobQueueEntry) error {
	if entry == nil || strings.TrimSpace(entry.LeaseHolder) == "" {
		return nil
	}

	nextExpiry := time.Now().UTC().Add(c.leaseTTL)
	return c.db.Model(&models.JobQueueEntry{}).
		Where("id = ? AND lease_holder = ?", entry.ID, entry.LeaseHolder).
		Update("lease_expires_at", nextExpiry).Error
}

func isClaimContentionErr(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
