// Package pipelinerun lists the runs sitting at a given workflow
// stage that the caller owns (or, for an admin, every run at that
// stage), backing GET /api/pipeline-runs/{code}.
package pipelinerun

import (
	"context"

	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/auth"
	"github.com/caesium-cloud/pipeline/internal/models"
)

type PipelineRuns interface {
	ListByStage(code models.WorkflowCode, principal auth.Principal) ([]*models.PipelineRun, error)
}

type service struct {
	ctx context.Context
	db  *gorm.DB
}

// Service builds a PipelineRuns reader bound to db.
func Service(ctx context.Context, db *gorm.DB) PipelineRuns {
	return &service{ctx: ctx, db: db}
}

func (s *service) ListByStage(code models.WorkflowCode, principal auth.Principal) ([]*models.PipelineRun, error) {
	q := s.db.WithContext(s.ctx).Where("workflow_operation = ?", code)

	if !principal.Admin {
		q = q.Where(stageColumn(code)+" = ? OR "+stageColumn(code)+" IS NULL", principal.UserID)
	}

	var runs []*models.PipelineRun
	if err := q.Order("created_at").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// stageColumn returns the column name backing PipelineRun.StageSlot
// for the given workflow code, so the query can filter in SQL rather
// than loading every row at the stage and filtering in Go.
func stageColumn(code models.WorkflowCode) string {
	switch code {
	case models.WorkflowCollection:
		return "collection_user"
	case models.WorkflowLoad:
		return "load_user"
	case models.WorkflowCheck:
		return "check_user"
	case models.WorkflowQA:
		return "qa_user"
	default:
		return "collection_user"
	}
}
