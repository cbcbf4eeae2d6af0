package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/apierr"
	"github.com/caesium-cloud/pipeline/internal/auth"
	"github.com/caesium-cloud/pipeline/internal/engine"
	"github.com/caesium-cloud/pipeline/internal/models"
	"github.com/caesium-cloud/pipeline/internal/task"
	"github.com/caesium-cloud/pipeline/internal/testutil"
)

func newRun(tb testing.TB, gdb *gorm.DB, owner uuid.UUID) *models.PipelineRun {
	tb.Helper()

	run := &models.PipelineRun{
		ID:                uuid.New(),
		DataSourceID:      "src-1",
		RecordDate:        time.Now().UTC(),
		WorkflowOperation: models.WorkflowLoad,
		OperationState:    models.OperationStateActive,
		LoadUser:          &owner,
	}
	require.NoError(tb, gdb.Create(run).Error)
	return run
}

func newTask(tb testing.TB, gdb *gorm.DB, runID uuid.UUID, taskID string, order int, status models.TaskStatus) *models.PipelineRunTask {
	tb.Helper()

	prTask := &models.PipelineRunTask{
		ID:         uuid.New(),
		RunID:      runID,
		TaskID:     taskID,
		OrderIndex: order,
		TaskStatus: status,
	}
	require.NoError(tb, gdb.Create(prTask).Error)
	return prTask
}

func TestRunTaskUserTaskCompletesSynchronously(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := newRun(t, gdb, owner)
	prTask := newTask(t, gdb, run.ID, "review.approve", 0, models.TaskStatusWaiting)

	catalog := task.Catalog{
		"review.approve": {
			TaskID: "review.approve",
			Kind:   task.KindUser,
			User: func(ctx context.Context, tx *gorm.DB, run *models.PipelineRun, prTask *models.PipelineRunTask, principal auth.Principal) (string, error) {
				return "approved", nil
			},
		},
	}

	e := engine.New(gdb, catalog)
	principal := auth.Principal{UserID: owner}

	result, err := e.RunTask(context.Background(), principal, run.ID, prTask.ID, false)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "approved", result.Message)

	status, err := e.GetStatus(context.Background(), prTask.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusComplete, status)
}

func TestRunTaskUserTaskFailureRecordsMessage(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := newRun(t, gdb, owner)
	prTask := newTask(t, gdb, run.ID, "review.approve", 0, models.TaskStatusWaiting)

	catalog := task.Catalog{
		"review.approve": {
			TaskID: "review.approve",
			Kind:   task.KindUser,
			User: func(ctx context.Context, tx *gorm.DB, run *models.PipelineRun, prTask *models.PipelineRunTask, principal auth.Principal) (string, error) {
				return "", errors.New("rejected")
			},
		},
	}

	e := engine.New(gdb, catalog)
	principal := auth.Principal{UserID: owner}

	result, err := e.RunTask(context.Background(), principal, run.ID, prTask.ID, false)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeError, result.Outcome)
	assert.Equal(t, "rejected", result.Message)

	status, err := e.GetStatus(context.Background(), prTask.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, status)
}

func TestRunTaskSystemTaskEnqueuesJob(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := newRun(t, gdb, owner)
	prTask := newTask(t, gdb, run.ID, "ingest.load", 0, models.TaskStatusWaiting)

	catalog := task.Catalog{
		"ingest.load": {
			TaskID: "ingest.load",
			Kind:   task.KindSystem,
			System: func(ctx context.Context, gdb *gorm.DB, prTask *models.PipelineRunTask) error { return nil },
		},
	}

	e := engine.New(gdb, catalog)
	principal := auth.Principal{UserID: owner}

	result, err := e.RunTask(context.Background(), principal, run.ID, prTask.ID, true)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeScheduled, result.Outcome)

	status, err := e.GetStatus(context.Background(), prTask.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusScheduled, status)

	var jobs []models.JobQueueEntry
	require.NoError(t, gdb.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.Equal(t, "ingest.load", jobs[0].TaskClass)
	assert.True(t, jobs[0].RunNext)
}

func TestRunTaskRejectsWhenAnotherTaskInFlight(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := newRun(t, gdb, owner)
	newTask(t, gdb, run.ID, "ingest.load", 0, models.TaskStatusRunning)
	second := newTask(t, gdb, run.ID, "ingest.load", 1, models.TaskStatusWaiting)

	catalog := task.Catalog{
		"ingest.load": {TaskID: "ingest.load", Kind: task.KindSystem, System: func(context.Context, *gorm.DB, *models.PipelineRunTask) error { return nil }},
	}

	e := engine.New(gdb, catalog)
	principal := auth.Principal{UserID: owner}

	_, err := e.RunTask(context.Background(), principal, run.ID, second.ID, false)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindConflict))
}

func TestRunTaskRejectsNonOwningPrincipal(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := newRun(t, gdb, owner)
	prTask := newTask(t, gdb, run.ID, "ingest.load", 0, models.TaskStatusWaiting)

	catalog := task.Catalog{
		"ingest.load": {TaskID: "ingest.load", Kind: task.KindSystem, System: func(context.Context, *gorm.DB, *models.PipelineRunTask) error { return nil }},
	}

	e := engine.New(gdb, catalog)
	stranger := auth.Principal{UserID: uuid.New()}

	_, err := e.RunTask(context.Background(), stranger, run.ID, prTask.ID, false)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))
}

func TestRunTaskAdminBypassesOwnership(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := newRun(t, gdb, owner)
	prTask := newTask(t, gdb, run.ID, "ingest.load", 0, models.TaskStatusWaiting)

	catalog := task.Catalog{
		"ingest.load": {TaskID: "ingest.load", Kind: task.KindSystem, System: func(context.Context, *gorm.DB, *models.PipelineRunTask) error { return nil }},
	}

	e := engine.New(gdb, catalog)
	admin := auth.Principal{UserID: uuid.New(), Admin: true}

	_, err := e.RunTask(context.Background(), admin, run.ID, prTask.ID, false)
	require.NoError(t, err)
}

func TestResetTaskDeletesDescendantsAndClearsTarget(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := newRun(t, gdb, owner)
	root := newTask(t, gdb, run.ID, "ingest.load", 0, models.TaskStatusFailed)
	root.TaskMessage = "boom"
	require.NoError(t, gdb.Save(root).Error)

	child := newTask(t, gdb, run.ID, "ingest.subtask", 1, models.TaskStatusComplete)
	child.ParentID = &root.ID
	require.NoError(t, gdb.Save(child).Error)

	grandchild := newTask(t, gdb, run.ID, "ingest.subtask", 2, models.TaskStatusComplete)
	grandchild.ParentID = &child.ID
	require.NoError(t, gdb.Save(grandchild).Error)

	e := engine.New(gdb, task.Default())
	principal := auth.Principal{UserID: owner}

	require.NoError(t, e.ResetTask(context.Background(), principal, run.ID, root.ID))

	var remaining []models.PipelineRunTask
	require.NoError(t, gdb.Where("run_id = ?", run.ID).Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, root.ID, remaining[0].ID)
	assert.Equal(t, models.TaskStatusWaiting, remaining[0].TaskStatus)
	assert.Empty(t, remaining[0].TaskMessage)
}

func TestResetTaskRejectsScheduledOrRunningTask(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := newRun(t, gdb, owner)
	e := engine.New(gdb, task.Default())
	principal := auth.Principal{UserID: owner}

	for _, status := range []models.TaskStatus{models.TaskStatusScheduled, models.TaskStatusRunning} {
		prTask := newTask(t, gdb, run.ID, "ingest.load", 0, status)

		err := e.ResetTask(context.Background(), principal, run.ID, prTask.ID)
		require.Error(t, err)
		assert.True(t, apierr.Is(err, apierr.KindConflict))

		var reloaded models.PipelineRunTask
		require.NoError(t, gdb.First(&reloaded, "id = ?", prTask.ID).Error)
		assert.Equal(t, status, reloaded.TaskStatus)
	}
}

func TestPickupClaimsEmptySlot(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	run := &models.PipelineRun{
		ID:                uuid.New(),
		DataSourceID:      "src-1",
		RecordDate:        time.Now().UTC(),
		WorkflowOperation: models.WorkflowCollection,
		OperationState:    models.OperationStateReady,
	}
	require.NoError(t, gdb.Create(run).Error)

	e := engine.New(gdb, task.Default())
	principal := auth.Principal{UserID: uuid.New()}

	require.NoError(t, e.Pickup(context.Background(), principal, run.ID))

	var reloaded models.PipelineRun
	require.NoError(t, gdb.First(&reloaded, "id = ?", run.ID).Error)
	require.NotNil(t, reloaded.CollectionUser)
	assert.Equal(t, principal.UserID, *reloaded.CollectionUser)
}

func TestPickupRejectsAlreadyOccupiedSlot(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := newRun(t, gdb, owner)

	e := engine.New(gdb, task.Default())
	principal := auth.Principal{UserID: uuid.New()}

	err := e.Pickup(context.Background(), principal, run.ID)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindConflict))
}
