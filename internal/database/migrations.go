package database

import (
	"gorm.io/gorm"

	"github.com/blobworks/mediavault/internal/models"
)

// AutoMigrate creates or updates the database schema for all models. The
// unique index on media_blobs.sha256 backs the insert-or-fetch dedup path.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.MediaBlob{},
	)
}
