// Package rest mounts every REST route spec.md §6 lists under /api.
package rest

import (
	"github.com/labstack/echo/v4"

	"github.com/caesium-cloud/pipeline/api/rest/bind"
)

// Bind registers the REST surface on e.
func Bind(e *echo.Echo, deps bind.Deps) {
	bind.All(e.Group("/api"), deps)
	bind.Sockets(e, deps)
}
