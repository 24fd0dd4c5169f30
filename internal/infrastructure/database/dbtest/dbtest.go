// Package dbtest opens throwaway SQLite databases with the production schema for tests.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/Conte777/tgvault/internal/domain/entities"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// New returns an in-memory database with every model migrated.
// A single connection serializes writers the way row locks would in PostgreSQL.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:tgvault_test_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(entities.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}
