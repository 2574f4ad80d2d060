package db

import (
	"crmsync/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Campaign{},
		&models.Organization{},
		&models.Contact{},
		&models.Activity{},
		&models.Deal{},
		&models.SyncRun{},
		&models.UserSyncState{},
	)
}
