package sourcetable_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesium-cloud/pipeline/internal/apierr"
	"github.com/caesium-cloud/pipeline/internal/auth"
	"github.com/caesium-cloud/pipeline/internal/models"
	"github.com/caesium-cloud/pipeline/internal/sourcetable"
	"github.com/caesium-cloud/pipeline/internal/testutil"
)

func TestCreateRejectsMissingRequiredFields(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := &models.PipelineRun{
		ID:                uuid.New(),
		DataSourceID:      "src-1",
		RecordDate:        time.Now().UTC(),
		WorkflowOperation: models.WorkflowCollection,
		OperationState:    models.OperationStateActive,
		CollectionUser:    &owner,
	}
	require.NoError(t, gdb.Create(run).Error)

	svc := sourcetable.New(gdb)
	principal := auth.Principal{UserID: owner}

	_, _, err := svc.Create(context.Background(), principal, map[string]string{
		"run_id": run.ID.String(),
	})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindBadRequest))
}

func TestCreateDerivesLoaderTypeAndRequiresSubTableForExcel(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := &models.PipelineRun{
		ID:                uuid.New(),
		DataSourceID:      "src-1",
		RecordDate:        time.Now().UTC(),
		WorkflowOperation: models.WorkflowCollection,
		OperationState:    models.OperationStateActive,
		CollectionUser:    &owner,
	}
	require.NoError(t, gdb.Create(run).Error)

	svc := sourcetable.New(gdb)
	principal := auth.Principal{UserID: owner}

	_, _, err := svc.Create(context.Background(), principal, map[string]string{
		"run_id":     run.ID.String(),
		"table_name": "T1",
		"file_id":    "F1",
		"file_name":  "data.xlsx",
	})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindBadRequest))

	stOID, affected, err := svc.Create(context.Background(), principal, map[string]string{
		"run_id":     run.ID.String(),
		"table_name": "T1",
		"file_id":    "F1",
		"file_name":  "data.xlsx",
		"sub_table":  "Sheet1",
		"qualified":  "on",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	var created models.SourceTable
	require.NoError(t, gdb.First(&created, "st_oid = ?", stOID).Error)
	assert.Equal(t, models.LoaderTypeExcel, created.LoaderType)
	assert.True(t, created.Qualified)
}

func TestCreateRejectsNonOwningPrincipal(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := &models.PipelineRun{
		ID:                uuid.New(),
		DataSourceID:      "src-1",
		RecordDate:        time.Now().UTC(),
		WorkflowOperation: models.WorkflowCollection,
		OperationState:    models.OperationStateActive,
		CollectionUser:    &owner,
	}
	require.NoError(t, gdb.Create(run).Error)

	svc := sourcetable.New(gdb)
	stranger := auth.Principal{UserID: uuid.New()}

	_, _, err := svc.Create(context.Background(), stranger, map[string]string{
		"run_id":     run.ID.String(),
		"table_name": "T1",
		"file_id":    "F1",
		"file_name":  "data.csv",
	})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindUnauthorized))
}

func TestUpdateClearsUncheckedAndBlankedFields(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := &models.PipelineRun{
		ID:                uuid.New(),
		DataSourceID:      "src-1",
		RecordDate:        time.Now().UTC(),
		WorkflowOperation: models.WorkflowCollection,
		OperationState:    models.OperationStateActive,
		CollectionUser:    &owner,
	}
	require.NoError(t, gdb.Create(run).Error)

	svc := sourcetable.New(gdb)
	principal := auth.Principal{UserID: owner}

	stOID, _, err := svc.Create(context.Background(), principal, map[string]string{
		"run_id":     run.ID.String(),
		"table_name": "T1",
		"file_id":    "F1",
		"file_name":  "data.csv",
		"qualified":  "on",
		"analyze":    "on",
		"load":       "on",
		"delimiter":  ",",
		"comments":   "first pass",
	})
	require.NoError(t, err)

	var created models.SourceTable
	require.NoError(t, gdb.First(&created, "st_oid = ?", stOID).Error)
	require.True(t, created.Qualified)
	require.NotNil(t, created.Delimiter)
	require.NotNil(t, created.Comments)

	_, _, err = svc.Update(context.Background(), principal, map[string]string{
		"run_id":     run.ID.String(),
		"st_oid":     strconv.FormatUint(created.ID, 10),
		"table_name": "T1",
		"file_id":    "F1",
		"file_name":  "data.csv",
		// qualified/analyze/load omitted: form values of "" -> unchecked.
		// delimiter/comments omitted: blank -> null.
	})
	require.NoError(t, err)

	var updated models.SourceTable
	require.NoError(t, gdb.First(&updated, "st_oid = ?", stOID).Error)
	assert.False(t, updated.Qualified)
	assert.False(t, updated.Analyze)
	assert.False(t, updated.Load)
	assert.Nil(t, updated.Delimiter)
	assert.Nil(t, updated.Comments)
}

func TestDeleteReturnsNotFoundForMissingRow(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	owner := uuid.New()
	run := &models.PipelineRun{
		ID:                uuid.New(),
		DataSourceID:      "src-1",
		RecordDate:        time.Now().UTC(),
		WorkflowOperation: models.WorkflowCollection,
		OperationState:    models.OperationStateActive,
		CollectionUser:    &owner,
	}
	require.NoError(t, gdb.Create(run).Error)

	svc := sourcetable.New(gdb)
	principal := auth.Principal{UserID: owner}

	_, _, err := svc.Delete(context.Background(), principal, map[string]string{
		"run_id": run.ID.String(),
		"st_oid": "999",
	})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}
