// Package task implements the run-task, run-all, reset-task, and
// task-status endpoints of spec.md §6, all thin wrappers over
// internal/engine.Engine.
package task

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caesium-cloud/pipeline/api/middleware"
	"github.com/caesium-cloud/pipeline/internal/apierr"
	"github.com/caesium-cloud/pipeline/internal/engine"
)

// Controller binds the task-operation routes to the task execution engine.
type Controller struct {
	eng *engine.Engine
}

// New builds a Controller.
func New(eng *engine.Engine) *Controller {
	return &Controller{eng: eng}
}

// RunTask handles POST /run-task/:runId/:prTaskId.
func (ctrl *Controller) RunTask(c echo.Context) error {
	return ctrl.run(c, false)
}

// RunAll handles POST /run-all/:runId/:prTaskId.
func (ctrl *Controller) RunAll(c echo.Context) error {
	return ctrl.run(c, true)
}

func (ctrl *Controller) run(c echo.Context, runNext bool) error {
	runID, prTaskID, err := pathIDs(c)
	if err != nil {
		return err
	}

	result, err := ctrl.eng.RunTask(c.Request().Context(), middleware.Principal(c), runID, prTaskID, runNext)
	if err != nil {
		return respondErr(c, err)
	}

	switch result.Outcome {
	case engine.OutcomeError:
		return c.JSON(http.StatusOK, map[string]string{"error": result.Message})
	default:
		return c.JSON(http.StatusOK, map[string]string{"success": result.Message})
	}
}

// ResetTask handles POST /reset-task/:runId/:prTaskId.
func (ctrl *Controller) ResetTask(c echo.Context) error {
	runID, prTaskID, err := pathIDs(c)
	if err != nil {
		return err
	}

	if err := ctrl.eng.ResetTask(c.Request().Context(), middleware.Principal(c), runID, prTaskID); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Status handles GET /task-status?prTaskId=....
func (ctrl *Controller) Status(c echo.Context) error {
	prTaskID, err := uuid.Parse(c.QueryParam("prTaskId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prTaskId")
	}

	status, err := ctrl.eng.GetStatus(c.Request().Context(), prTaskID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(status)})
}

func pathIDs(c echo.Context) (runID, prTaskID uuid.UUID, err error) {
	if runID, err = uuid.Parse(c.Param("runId")); err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid runId")
	}
	if prTaskID, err = uuid.Parse(c.Param("prTaskId")); err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid prTaskId")
	}
	return runID, prTaskID, nil
}

func respondErr(c echo.Context, err error) error {
	if apiErr, ok := apierr.As(err); ok {
		return c.JSON(apiErr.Status(), map[string]string{"error": apiErr.Error()})
	}
	return echo.ErrInternalServerError.SetInternal(err)
}
