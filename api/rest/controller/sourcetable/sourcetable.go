// Package sourcetable implements the /source-tables endpoints of
// spec.md §6: a GET list plus a POST/PATCH/DELETE trio whose body
// carries the same form map internal/sourcetable.Service expects.
package sourcetable

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"

	"github.com/caesium-cloud/pipeline/api/middleware"
	"github.com/caesium-cloud/pipeline/internal/apierr"
	"github.com/caesium-cloud/pipeline/internal/sourcetable"
	"github.com/caesium-cloud/pipeline/pkg/jsonmap"
)

// Controller binds the source-table routes to the sourcetable.Service.
type Controller struct {
	svc *sourcetable.Service
}

// New builds a Controller.
func New(svc *sourcetable.Service) *Controller {
	return &Controller{svc: svc}
}

// List handles GET /source-tables/:runId.
func (ctrl *Controller) List(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid runId")
	}

	tables, err := ctrl.svc.List(c.Request().Context(), middleware.Principal(c), runID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, tables)
}

// Create handles POST /source-tables.
func (ctrl *Controller) Create(c echo.Context) error {
	form, err := bindForm(c)
	if err != nil {
		return err
	}

	stOID, affected, err := ctrl.svc.Create(c.Request().Context(), middleware.Principal(c), form)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"st_oid": stOID, "affected": affected})
}

// Update handles PATCH /source-tables.
func (ctrl *Controller) Update(c echo.Context) error {
	form, err := bindForm(c)
	if err != nil {
		return err
	}

	stOID, affected, err := ctrl.svc.Update(c.Request().Context(), middleware.Principal(c), form)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"st_oid": stOID, "affected": affected})
}

// Delete handles DELETE /source-tables.
func (ctrl *Controller) Delete(c echo.Context) error {
	form, err := bindForm(c)
	if err != nil {
		return err
	}

	stOID, affected, err := ctrl.svc.Delete(c.Request().Context(), middleware.Principal(c), form)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"st_oid": stOID, "affected": affected})
}

// bindForm decodes the request body as a loose JSON map (the form
// spec.md §4.5 describes has no fixed schema), flattens it to the
// map[string]string internal/sourcetable.Service consumes, and fills
// in any field carried on the query string instead (spec.md §6:
// "body/query carries form map").
func bindForm(c echo.Context) (map[string]string, error) {
	form := map[string]string{}

	if c.Request().ContentLength > 0 {
		body := datatypes.JSONMap{}
		if err := c.Bind(&body); err != nil {
			return nil, echo.ErrBadRequest.SetInternal(err)
		}
		form = jsonmap.ToStringMap(body)
	}

	for key, values := range c.QueryParams() {
		if _, exists := form[key]; !exists && len(values) > 0 {
			form[key] = values[0]
		}
	}

	return form, nil
}

func respondErr(c echo.Context, err error) error {
	if apiErr, ok := apierr.As(err); ok {
		return c.JSON(apiErr.Status(), map[string]string{"error": apiErr.Error()})
	}
	return echo.ErrInternalServerError.SetInternal(err)
}
