package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/models"
)

// AutoMigrate creates or updates the credential store schema.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.OTPRecord{},
		&models.CacheEntry{},
	)
}
