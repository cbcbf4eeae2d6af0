package operations

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/api/middleware"
	"github.com/caesium-cloud/pipeline/api/rest/service/operations"
)

// Controller binds the /operations route to a *gorm.DB.
type Controller struct {
	db *gorm.DB
}

// New builds a Controller bound to db.
func New(db *gorm.DB) *Controller {
	return &Controller{db: db}
}

// List handles GET /operations.
func (ctrl *Controller) List(c echo.Context) error {
	ops, err := operations.Service(c.Request().Context(), ctrl.db).List(middleware.Principal(c))
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}
	return c.JSON(http.StatusOK, ops)
}
