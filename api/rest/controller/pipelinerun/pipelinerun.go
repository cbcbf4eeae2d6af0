// Package pipelinerun implements the /pipeline-runs/{code} and
// /pipeline-run-tasks/{runId} read endpoints of spec.md §6.
package pipelinerun

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/api/middleware"
	"github.com/caesium-cloud/pipeline/api/rest/service/pipelinerun"
	"github.com/caesium-cloud/pipeline/internal/apierr"
	"github.com/caesium-cloud/pipeline/internal/engine"
	"github.com/caesium-cloud/pipeline/internal/models"
)

// Controller binds the pipeline-run read routes to a *gorm.DB and the
// task execution engine.
type Controller struct {
	db  *gorm.DB
	eng *engine.Engine
}

// New builds a Controller.
func New(db *gorm.DB, eng *engine.Engine) *Controller {
	return &Controller{db: db, eng: eng}
}

// ListByStage handles GET /pipeline-runs/:code.
func (ctrl *Controller) ListByStage(c echo.Context) error {
	code := models.WorkflowCode(c.Param("code"))

	runs, err := pipelinerun.Service(c.Request().Context(), ctrl.db).ListByStage(code, middleware.Principal(c))
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}
	return c.JSON(http.StatusOK, runs)
}

// Tasks handles GET /pipeline-run-tasks/:runId.
func (ctrl *Controller) Tasks(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid runId")
	}

	tasks, err := ctrl.eng.GetOrderedTasks(c.Request().Context(), runID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, tasks)
}

func respondErr(c echo.Context, err error) error {
	if apiErr, ok := apierr.As(err); ok {
		return c.JSON(apiErr.Status(), map[string]string{"error": apiErr.Error()})
	}
	return echo.ErrInternalServerError.SetInternal(err)
}
