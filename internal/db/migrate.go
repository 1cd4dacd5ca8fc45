package db

import (
	"fmt"

	"github.com/promptdeck/creditledger/internal/models"
	"gorm.io/gorm"
)

// Migrate runs schema migrations for all ledger tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errMigrate := conn.AutoMigrate(
		&models.Grant{},
		&models.BurnEvent{},
		&models.SettlementDeadLetter{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}

	return nil
}
