package database

import (
	"gorm.io/gorm"

	"github.com/pathlight-hq/pathlight/internal/models"
)

// AutoMigrate creates or updates the schema for the core tables.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errNilDB
	}
	return db.AutoMigrate(
		&models.Principal{},
		&models.Relationship{},
		&models.AuditEntry{},
	)
}
