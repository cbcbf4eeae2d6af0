// Package actions lists the static (role, state, href, label) action
// tuples visible to a caller's roles.
package actions

import (
	"context"

	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/auth"
	"github.com/caesium-cloud/pipeline/internal/models"
)

type Actions interface {
	List(principal auth.Principal) ([]*models.Action, error)
}

type service struct {
	ctx context.Context
	db  *gorm.DB
}

// Service builds an Actions reader bound to db.
func Service(ctx context.Context, db *gorm.DB) Actions {
	return &service{ctx: ctx, db: db}
}

func (s *service) List(principal auth.Principal) ([]*models.Action, error) {
	var all []*models.Action
	if err := s.db.WithContext(s.ctx).Find(&all).Error; err != nil {
		return nil, err
	}

	if principal.Admin {
		return all, nil
	}

	visible := make([]*models.Action, 0, len(all))
	for _, a := range all {
		if principal.HasRole(a.Role) {
			visible = append(visible, a)
		}
	}
	return visible, nil
}
