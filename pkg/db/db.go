// Package db opens the GORM connection pool the rest of the engine is
// threaded through. There is no singleton database connection: callers
// obtain a *gorm.DB handle from Connection (or construct one directly
// for tests) and pass it to service/engine constructors, per spec.md
// §9 "Singleton database connection" -> explicit connection-pool
// handle.
package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/schema"
	"github.com/caesium-cloud/pipeline/pkg/env"
)

// Connection opens a GORM handle against the configured backend.
// "sqlite" is used for local development and CI, where LISTEN/NOTIFY
// and COPY are unavailable; production deployments use "postgres".
func Connection() (*gorm.DB, error) {
	vars := env.Variables()

	switch vars.DatabaseType {
	case "sqlite":
		return gorm.Open(sqlite.Open(vars.DatabaseDSN), &gorm.Config{})
	case "postgres":
		fallthrough
	default:
		return gorm.Open(postgres.Open(vars.DatabaseDSN), &gorm.Config{})
	}
}

// Migrate bootstraps the schema (tables, seed rows) on the
// given connection. See internal/schema for the explicit, topologically
// sorted descriptor registry that replaces the reflection-driven
// discovery spec.md §9 flags for re-architecture.
func Migrate(gdb *gorm.DB) error {
	return schema.Bootstrap(gdb)
}

// NotifyPool opens a pgx connection pool for internal/notify's
// dedicated LISTEN connection and NOTIFY publishes. It returns nil,
// nil on the sqlite backend, where LISTEN/NOTIFY doesn't exist, so
// callers can treat a nil pool as "notifications unavailable" rather
// than an error.
func NotifyPool(ctx context.Context) (*pgxpool.Pool, error) {
	vars := env.Variables()
	if vars.DatabaseType != "postgres" {
		return nil, nil
	}
	return pgxpool.New(ctx, vars.DatabaseDSN)
}
