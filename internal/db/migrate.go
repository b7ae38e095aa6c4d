package db

import (
	"copyfund/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Fund{},
		&models.Investment{},
		&models.TradeReplication{},
		&models.WalletCursor{},
		&models.SystemSetting{},
	)
}
