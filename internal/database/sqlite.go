package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/wartungswerk/fieldsync/internal/record"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes the client-side SQLite store and performs schema
// migrations. A single connection keeps the write path serialized.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("local database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates the schema and applies the named repair migrations. Exposed
// separately so tests can run against an in-memory database.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&record.Assignment{},
		&record.AssetLink{},
		&record.ReferenceCode{},
		&record.SyncQueueItem{},
		&record.OfflineState{},
		&record.Credentials{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
