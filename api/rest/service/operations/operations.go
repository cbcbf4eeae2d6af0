// Package operations lists the workflow operations visible to a
// caller's roles, mirroring the teacher's rest/service/<resource>
// package-level Service(ctx) factory shape.
package operations

import (
	"context"

	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/auth"
	"github.com/caesium-cloud/pipeline/internal/models"
)

type Operations interface {
	List(principal auth.Principal) ([]*models.WorkflowOperation, error)
}

type service struct {
	ctx context.Context
	db  *gorm.DB
}

// Service builds an Operations reader bound to db.
func Service(ctx context.Context, db *gorm.DB) Operations {
	return &service{ctx: ctx, db: db}
}

func (s *service) List(principal auth.Principal) ([]*models.WorkflowOperation, error) {
	var all []*models.WorkflowOperation
	if err := s.db.WithContext(s.ctx).Order("rank").Find(&all).Error; err != nil {
		return nil, err
	}

	if principal.Admin {
		return all, nil
	}

	visible := make([]*models.WorkflowOperation, 0, len(all))
	for _, op := range all {
		if principal.HasRole(op.Role) {
			visible = append(visible, op)
		}
	}
	return visible, nil
}
