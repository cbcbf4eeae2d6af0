package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

var startedAt time.Time

func init() {
	startedAt = time.Now()
}

// HealthResponse defines the data the Health
// REST endpoint returns.
type HealthResponse struct {
	Status Status        `json:"status"`
	Uptime time.Duration `json:"uptime"`
}

// Health reports whether the service is up and how long it has been
// running.
func Health(c echo.Context) error {
	return c.JSON(
		http.StatusOK,
		HealthResponse{
			Status: Healthy,
			Uptime: time.Now().Sub(startedAt),
		},
	)
}

// Status enumerates the health states this endpoint can report.
type Status string

const (
	// Healthy means the service is accepting traffic normally.
	Healthy Status = "healthy"
)
