// Package engine implements the task execution engine of spec.md §4.1:
// dispatching System tasks to the worker pool via the durable job
// queue, enforcing ordering, persisting state transitions, and
// supporting "run one" vs. "run all until a user task or failure"
// semantics.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/apierr"
	"github.com/caesium-cloud/pipeline/internal/auth"
	"github.com/caesium-cloud/pipeline/internal/models"
	"github.com/caesium-cloud/pipeline/internal/task"
)

// Engine is the task execution engine. It holds no connection-level
// state beyond the pool handle; every operation is request-scoped.
type Engine struct {
	db      *gorm.DB
	catalog task.Catalog
}

// New builds an Engine over the given connection pool and task
// catalog (defaulting to the package-level catalog in internal/task).
func New(gdb *gorm.DB, catalog task.Catalog) *Engine {
	if catalog == nil {
		catalog = task.Default()
	}
	return &Engine{db: gdb, catalog: catalog}
}

// Outcome tags the result of RunTask.
type Outcome string

const (
	OutcomeScheduled Outcome = "scheduled"
	OutcomeSuccess   Outcome = "success"
	OutcomeError     Outcome = "error"
)

// RunResult is the wire-shaped outcome of RunTask: {"success": message}
// or {"error": message} per spec.md §6, plus "scheduled" for async
// dispatch.
type RunResult struct {
	Outcome Outcome
	Message string
}

// GetOrderedTasks returns a run's tasks in execution order. Read-only.
func (e *Engine) GetOrderedTasks(ctx context.Context, runID uuid.UUID) ([]*models.PipelineRunTask, error) {
	var tasks []*models.PipelineRunTask
	err := e.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("order_index ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, apierr.Storage(err)
	}
	return tasks, nil
}

// GetRecordForRun authorizes principal against the run's current stage
// slot (or admin) and returns the task record.
func (e *Engine) GetRecordForRun(ctx context.Context, principal auth.Principal, runID, prTaskID uuid.UUID) (*models.PipelineRunTask, error) {
	run, err := e.loadRun(ctx, e.db, runID)
	if err != nil {
		return nil, err
	}

	if err := checkUserRun(run, principal); err != nil {
		return nil, err
	}

	prTask, err := e.loadTask(ctx, e.db, runID, prTaskID)
	if err != nil {
		return nil, err
	}

	return prTask, nil
}

// RunTask validates that no task in the run is currently
// Scheduled/Running and that the target task is Waiting. User tasks
// execute synchronously; System tasks transition to Scheduled and are
// enqueued for the worker pool.
func (e *Engine) RunTask(ctx context.Context, principal auth.Principal, runID, prTaskID uuid.UUID, runNext bool) (*RunResult, error) {
	var result *RunResult

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := e.loadRun(ctx, tx, runID)
		if err != nil {
			return err
		}

		if err := checkUserRun(run, principal); err != nil {
			return err
		}

		if inFlight, err := e.hasInFlightTask(tx, runID); err != nil {
			return err
		} else if inFlight {
			return apierr.Conflict("Task already running")
		}

		prTask, err := e.loadTask(ctx, tx, runID, prTaskID)
		if err != nil {
			return err
		}

		if !prTask.IsRunnable() {
			return apierr.Conflict(fmt.Sprintf("task %s is not waiting", prTaskID))
		}

		entry, ok := e.catalog[prTask.TaskID]
		if !ok {
			return apierr.BadRequest(fmt.Sprintf("unknown task_id %q", prTask.TaskID))
		}

		switch entry.Kind {
		case task.KindUser:
			outcome, runErr := e.runUserTask(ctx, tx, entry, run, prTask, principal)
			result = outcome
			return runErr
		default:
			if err := e.scheduleSystemTask(tx, run, prTask, entry, runNext); err != nil {
				return err
			}
			result = &RunResult{Outcome: OutcomeScheduled, Message: fmt.Sprintf("Scheduled %s", prTask.ID)}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (e *Engine) runUserTask(ctx context.Context, tx *gorm.DB, entry task.Entry, run *models.PipelineRun, prTask *models.PipelineRunTask, principal auth.Principal) (*RunResult, error) {
	now := time.Now().UTC()
	if err := tx.Model(prTask).Updates(map[string]interface{}{
		"task_status": models.TaskStatusRunning,
		"task_start":  now,
	}).Error; err != nil {
		return nil, apierr.Storage(err)
	}

	message, runErr := entry.User(ctx, tx, run, prTask, principal)

	completed := time.Now().UTC()
	updates := map[string]interface{}{
		"task_completed": completed,
		"task_complete":  true,
	}
	if runErr != nil {
		updates["task_status"] = models.TaskStatusFailed
		updates["task_message"] = runErr.Error()
	} else {
		updates["task_status"] = models.TaskStatusComplete
		updates["task_message"] = message
	}
	if err := tx.Model(prTask).Updates(updates).Error; err != nil {
		return nil, apierr.Storage(err)
	}

	if runErr != nil {
		return &RunResult{Outcome: OutcomeError, Message: runErr.Error()}, nil
	}
	return &RunResult{Outcome: OutcomeSuccess, Message: message}, nil
}

func (e *Engine) scheduleSystemTask(tx *gorm.DB, run *models.PipelineRun, prTask *models.PipelineRunTask, entry task.Entry, runNext bool) error {
	if err := tx.Model(prTask).Updates(map[string]interface{}{
		"task_status": models.TaskStatusScheduled,
	}).Error; err != nil {
		return apierr.Storage(err)
	}

	job := &models.JobQueueEntry{
		ID:          uuid.New(),
		JobType:     models.JobTypeSystemTask,
		RunID:       run.ID,
		PRTaskID:    prTask.ID,
		TaskClass:   entry.TaskID,
		RunNext:     runNext,
		ScheduledAt: time.Now().UTC(),
	}
	if err := tx.Create(job).Error; err != nil {
		return apierr.Storage(err)
	}
	return nil
}

// ResetTask authorizes, rejects a task that cannot move back to
// Waiting, deletes every descendant task reachable through parent_id,
// and then sets the target task alone back to Waiting, clearing its
// timestamps, message and claim fields (see DESIGN.md for the Open
// Question this decides).
func (e *Engine) ResetTask(ctx context.Context, principal auth.Principal, runID, prTaskID uuid.UUID) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := e.loadRun(ctx, tx, runID)
		if err != nil {
			return err
		}

		if err := checkUserRun(run, principal); err != nil {
			return err
		}

		prTask, err := e.loadTask(ctx, tx, runID, prTaskID)
		if err != nil {
			return err
		}

		if !models.CanTransition(prTask.TaskStatus, models.TaskStatusWaiting) {
			return apierr.Conflict(fmt.Sprintf("cannot reset task %s from %s", prTaskID, prTask.TaskStatus))
		}

		descendants, err := e.collectChildren(tx, runID, prTaskID)
		if err != nil {
			return apierr.Storage(err)
		}
		if len(descendants) > 0 {
			if err := tx.Delete(&models.PipelineRunTask{}, descendants).Error; err != nil {
				return apierr.Storage(err)
			}
		}

		return tx.Model(prTask).Updates(map[string]interface{}{
			"task_status":    models.TaskStatusWaiting,
			"task_running":   false,
			"task_complete":  false,
			"task_start":     nil,
			"task_completed": nil,
			"task_message":   "",
			"claimed_by":     "",
			"claim_expires_at": nil,
			"claim_attempt":  0,
		}).Error
	})
}

// GetStatus is a single-row status read.
func (e *Engine) GetStatus(ctx context.Context, prTaskID uuid.UUID) (models.TaskStatus, error) {
	var prTask models.PipelineRunTask
	if err := e.db.WithContext(ctx).First(&prTask, "id = ?", prTaskID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", apierr.NotFound("task not found")
		}
		return "", apierr.Storage(err)
	}
	return prTask.TaskStatus, nil
}

// SetStatus writes a status transition, validating it against the
// state machine in spec.md §4.1. Called only from inside the engine or
// the worker (internal/worker).
func (e *Engine) SetStatus(ctx context.Context, prTaskID uuid.UUID, status models.TaskStatus) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prTask models.PipelineRunTask
		if err := tx.First(&prTask, "id = ?", prTaskID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apierr.NotFound("task not found")
			}
			return apierr.Storage(err)
		}

		if !models.CanTransition(prTask.TaskStatus, status) {
			return apierr.Conflict(fmt.Sprintf("cannot transition %s -> %s", prTask.TaskStatus, status))
		}

		return tx.Model(&prTask).Update("task_status", status).Error
	})
}

func (e *Engine) loadRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*models.PipelineRun, error) {
	var run models.PipelineRun
	if err := tx.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierr.NotFound("run not found")
		}
		return nil, apierr.Storage(err)
	}
	return &run, nil
}

func (e *Engine) loadTask(ctx context.Context, tx *gorm.DB, runID, prTaskID uuid.UUID) (*models.PipelineRunTask, error) {
	var prTask models.PipelineRunTask
	err := tx.WithContext(ctx).First(&prTask, "id = ? AND run_id = ?", prTaskID, runID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierr.NotFound("task not found")
		}
		return nil, apierr.Storage(err)
	}
	return &prTask, nil
}

func (e *Engine) hasInFlightTask(tx *gorm.DB, runID uuid.UUID) (bool, error) {
	var count int64
	err := tx.Model(&models.PipelineRunTask{}).
		Where("run_id = ? AND task_status IN ?", runID, []models.TaskStatus{models.TaskStatusScheduled, models.TaskStatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, apierr.Storage(err)
	}
	return count > 0, nil
}

func (e *Engine) collectChildren(tx *gorm.DB, runID, rootID uuid.UUID) ([]uuid.UUID, error) {
	queue := []uuid.UUID{rootID}
	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		var children []models.PipelineRunTask
		if err := tx.Where("run_id = ? AND parent_id = ?", runID, current).Find(&children).Error; err != nil {
			return nil, err
		}

		for _, c := range children {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c.ID)
			queue = append(queue, c.ID)
		}
	}

	return out, nil
}

// checkUserRun authorizes a principal against the run's current stage
// slot; admins bypass the check (spec.md §4.5 step 2).
func checkUserRun(run *models.PipelineRun, principal auth.Principal) error {
	return CheckUserRun(run, principal)
}

// CheckUserRun authorizes a principal against a run's current stage
// slot: admins bypass the check, everyone else must own the slot.
// internal/sourcetable reuses this rather than duplicating the rule.
func CheckUserRun(run *models.PipelineRun, principal auth.Principal) error {
	if principal.Admin {
		return nil
	}

	slot := run.StageSlot()
	if slot == nil || *slot != principal.UserID {
		return apierr.Unauthorized("caller does not own this run's current stage")
	}
	return nil
}

// Pickup claims the run's current stage slot for principal, iff it is
// empty (spec.md §3).
func (e *Engine) Pickup(ctx context.Context, principal auth.Principal, runID uuid.UUID) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := e.loadRun(ctx, tx, runID)
		if err != nil {
			return err
		}

		if slot := run.StageSlot(); slot != nil {
			return apierr.Conflict("run's current stage is already picked up")
		}

		run.SetStageSlot(principal.UserID)

		var column string
		switch run.WorkflowOperation {
		case models.WorkflowCollection:
			column = "collection_user"
		case models.WorkflowLoad:
			column = "load_user"
		case models.WorkflowCheck:
			column = "check_user"
		case models.WorkflowQA:
			column = "qa_user"
		default:
			return apierr.BadRequest(fmt.Sprintf("unknown workflow operation %q", run.WorkflowOperation))
		}

		return tx.Model(run).Update(column, principal.UserID).Error
	})
}
