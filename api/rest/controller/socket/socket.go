// Package socket implements the WS endpoint of spec.md §6:
// /sockets/pipeline-run-tasks/{runId} streams task-status change
// notifications matching runId to the connected client.
package socket

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"

	"github.com/caesium-cloud/pipeline/internal/notify"
	"github.com/caesium-cloud/pipeline/pkg/log"
)

// Controller binds the pipeline-run-tasks WS route to a notify.Notifier.
type Controller struct {
	notifier *notify.Notifier
}

// New builds a Controller.
func New(notifier *notify.Notifier) *Controller {
	return &Controller{notifier: notifier}
}

// Stream handles WS /sockets/pipeline-run-tasks/:runId.
func (ctrl *Controller) Stream(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		return echo.NewHTTPError(400, "invalid runId")
	}
	if ctrl.notifier == nil {
		return echo.NewHTTPError(503, "notifications are unavailable on this backend")
	}

	websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()

		ctx := c.Request().Context()
		events, err := ctrl.notifier.Subscribe(ctx, notify.RunChannel(runID))
		if err != nil {
			log.Error("failed to subscribe to run channel", "run_id", runID, "error", err)
			return
		}

		for event := range events {
			payload, err := json.Marshal(event)
			if err != nil {
				log.Error("failed to marshal socket event", "run_id", runID, "error", err)
				continue
			}
			if err := websocket.Message.Send(ws, string(payload)); err != nil {
				return
			}
		}
	}).ServeHTTP(c.Response(), c.Request())

	return nil
}
