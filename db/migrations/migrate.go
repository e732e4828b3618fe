package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/zoryamarket/payrecon/db"
	"gorm.io/gorm"
)

func Migrate(gormDB *gorm.DB) error {
	m := gormigrate.New(gormDB, gormigrate.DefaultOptions, []*gormigrate.Migration{
		_202602101530_initial,
		_202602181120_webhook_event_claim_index,
	})

	m.InitSchema(func(tx *gorm.DB) error {
		return autoMigrateModels(tx)
	})

	return m.Migrate()
}

func autoMigrateModels(tx *gorm.DB) error {
	return tx.AutoMigrate(
		&db.Order{},
		&db.PaymentAttempt{},
		&db.WebhookEvent{},
		&db.InventoryMove{},
	)
}
