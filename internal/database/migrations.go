package database

import (
	"errors"
	"time"

	"github.com/wartungswerk/fieldsync/internal/record"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizePatchColumns = "2026-04-18_normalize_pending_patch_columns"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizePatchColumns, apply: normalizePatchColumns},
	}

	for _, migration := range migrations {
		var applied migrationRecord
		err := db.Where("name = ?", migration.name).Take(&applied).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written by builds predating the patch codec carry empty JSON columns
// that fail decoding; normalize them to empty objects.
func normalizePatchColumns(db *gorm.DB) error {
	if err := db.Model(&record.AssetLink{}).
		Where("pending_json = ''").
		Update("pending_json", "{}").Error; err != nil {
		return err
	}
	return db.Model(&record.AssetLink{}).
		Where("attributes_json = ''").
		Update("attributes_json", "{}").Error
}
