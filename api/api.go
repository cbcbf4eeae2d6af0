// Package api assembles the echo HTTP server: health, metrics, the
// REST surface of spec.md §6, and the WS notification endpoint.
package api

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/api/rest/bind"
	rest "github.com/caesium-cloud/pipeline/api/rest/v1"
	"github.com/caesium-cloud/pipeline/internal/engine"
	"github.com/caesium-cloud/pipeline/internal/metrics"
	"github.com/caesium-cloud/pipeline/internal/notify"
	"github.com/caesium-cloud/pipeline/internal/sourcetable"
	"github.com/caesium-cloud/pipeline/internal/task"
	"github.com/caesium-cloud/pipeline/pkg/env"
	"github.com/caesium-cloud/pipeline/pkg/log"
)

var server *echo.Echo

// Start launches the pipeline API on the configured port. notifyPool
// is nil on the sqlite backend, where LISTEN/NOTIFY is unavailable; the
// WS endpoint then responds 503 rather than panicking.
func Start(gdb *gorm.DB, notifyPool *pgxpool.Pool) error {
	server = echo.New()
	server.HideBanner = true
	server.HidePort = true

	server.GET("/health", Health)

	prometheus.NewPrometheus("pipeline", nil).Use(server)
	metrics.Register()

	var notifier *notify.Notifier
	if notifyPool != nil {
		notifier = notify.New(notifyPool)
	}

	deps := bind.Deps{
		DB:           gdb,
		Engine:       engine.New(gdb, task.Default()),
		SourceTables: sourcetable.New(gdb),
		Notifier:     notifier,
	}

	rest.Bind(server, deps)

	vars := env.Variables()
	log.Info("starting api server", "port", vars.Port)
	return server.Start(fmt.Sprintf(":%d", vars.Port))
}

// Shutdown gracefully stops the API server.
func Shutdown(ctx context.Context) error {
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
