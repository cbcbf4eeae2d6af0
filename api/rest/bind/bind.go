// Package bind wires the REST controllers onto an echo route group,
// mirroring the teacher's bind.All/Public/Private split.
package bind

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/api/middleware"
	actionsctrl "github.com/caesium-cloud/pipeline/api/rest/controller/actions"
	operationsctrl "github.com/caesium-cloud/pipeline/api/rest/controller/operations"
	"github.com/caesium-cloud/pipeline/api/rest/controller/pipelinerun"
	"github.com/caesium-cloud/pipeline/api/rest/controller/socket"
	sourcetablectrl "github.com/caesium-cloud/pipeline/api/rest/controller/sourcetable"
	taskctrl "github.com/caesium-cloud/pipeline/api/rest/controller/task"
	"github.com/caesium-cloud/pipeline/internal/engine"
	"github.com/caesium-cloud/pipeline/internal/notify"
	"github.com/caesium-cloud/pipeline/internal/sourcetable"
)

// Deps collects every collaborator the REST layer's controllers need.
type Deps struct {
	DB           *gorm.DB
	Engine       *engine.Engine
	SourceTables *sourcetable.Service
	Notifier     *notify.Notifier
}

// All binds every route of spec.md §6 onto g.
func All(g *echo.Group, deps Deps) {
	g.Use(middleware.FromHeaders())

	ops := operationsctrl.New(deps.DB)
	acts := actionsctrl.New(deps.DB)
	runs := pipelinerun.New(deps.DB, deps.Engine)
	tasks := taskctrl.New(deps.Engine)
	tables := sourcetablectrl.New(deps.SourceTables)

	g.GET("/operations", ops.List)
	g.GET("/actions", acts.List)

	g.GET("/pipeline-runs/:code", runs.ListByStage)
	g.GET("/pipeline-run-tasks/:runId", runs.Tasks)

	g.POST("/run-task/:runId/:prTaskId", tasks.RunTask)
	g.POST("/run-all/:runId/:prTaskId", tasks.RunAll)
	g.POST("/reset-task/:runId/:prTaskId", tasks.ResetTask)
	g.GET("/task-status", tasks.Status)

	g.GET("/source-tables/:runId", tables.List)
	g.POST("/source-tables", tables.Create)
	g.PATCH("/source-tables", tables.Update)
	g.DELETE("/source-tables", tables.Delete)
}

// Sockets binds the WS endpoint directly on e (not under the /api
// group) since spec.md §6 places it at /sockets/..., a sibling path
// rather than a versioned API route.
func Sockets(e *echo.Echo, deps Deps) {
	e.Use(middleware.FromHeaders())
	sock := socket.New(deps.Notifier)
	e.GET("/sockets/pipeline-run-tasks/:runId", sock.Stream)
}
