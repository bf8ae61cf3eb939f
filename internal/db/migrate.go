package db

import (
	"fmt"

	"github.com/mvreeden/gridsim/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Discretization{},
		&models.Chunk{},
		&models.SimModel{},
		&models.ModelConfiguration{},
		&models.Job{},
		&models.JobChunk{},
		&models.Map{},
		&models.WorkerNode{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
