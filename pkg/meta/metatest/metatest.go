// Package metatest builds throwaway metadata stores for tests.
package metatest

import (
	"errors"
	"fmt"
	"testing"

	"assetvault/pkg/meta"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrInjected is the error produced by FailInserts.
var ErrInjected = errors.New("injected insert failure")

// NewDB opens an isolated in-memory SQLite database with the items table
// migrated. The pool is pinned to one connection: SQLite's shared cache
// rejects concurrent writers, and one connection keeps the database alive.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, meta.NewWithConn(db).AutoMigrate(&meta.Item{}))
	return db
}

// FailInserts makes every subsequent INSERT on db fail, simulating a
// metadata store that rejects the row after content was already written.
func FailInserts(t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("metatest:fail_insert", func(tx *gorm.DB) {
		_ = tx.AddError(ErrInjected)
	})
	require.NoError(t, err)
}

// CountItems returns the number of rows in the items table.
func CountItems(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&meta.Item{}).Count(&n).Error)
	return n
}
