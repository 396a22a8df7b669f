package db

import (
	"fmt"

	"github.com/zulandar/murmur/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Chat{},
		&models.ChatMessage{},
		&models.Picture{},
		&models.Document{},
		&models.GuestMessage{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedAdmin upserts the admin user identified by token. An empty token is a
// no-op so deployments without an admin console need no configuration.
func SeedAdmin(db *gorm.DB, name, token string) error {
	if token == "" {
		return nil
	}
	if name == "" {
		name = "admin"
	}
	admin := models.User{
		Name:     name,
		APIToken: token,
		IsAdmin:  true,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "api_token"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "is_admin"}),
	}).Create(&admin)
	if result.Error != nil {
		return fmt.Errorf("db: seed admin %q: %w", name, result.Error)
	}
	return nil
}
