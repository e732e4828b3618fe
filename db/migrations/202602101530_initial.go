package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

var _202602101530_initial = &gormigrate.Migration{
	ID: "202602101530_initial",
	Migrate: func(tx *gorm.DB) error {
		return autoMigrateModels(tx)
	},
	Rollback: func(tx *gorm.DB) error {
		return tx.Migrator().DropTable(
			"inventory_moves",
			"webhook_events",
			"payment_attempts",
			"orders",
		)
	},
}
