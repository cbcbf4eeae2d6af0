// Package testutil provides the in-memory sqlite handle the rest of
// the engine's tests build on, grounded on the teacher's
// internal/jobdef/testutil.OpenTestDB.
package testutil

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/internal/models"
)

// OpenTestDB returns an in-memory sqlite DB with every model migrated.
func OpenTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	if err := gdb.AutoMigrate(models.All...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}

	return gdb
}

// CloseDB closes the underlying sql.DB if available.
func CloseDB(gdb *gorm.DB) {
	if gdb == nil {
		return
	}
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}
}

// AssertCount asserts a row count for the provided model.
func AssertCount(tb testing.TB, gdb *gorm.DB, model any, expected int64) {
	tb.Helper()

	var count int64
	if err := gdb.Model(model).Count(&count).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	if count != expected {
		tb.Fatalf("expected %d records, got %d", expected, count)
	}
}
