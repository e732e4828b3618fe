package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// The stored-event drainer scans for unapplied rows on every sweep; without
// this index the scan degrades linearly with the audit trail size.
var _202602181120_webhook_event_claim_index = &gormigrate.Migration{
	ID: "202602181120_webhook_event_claim_index",
	Migrate: func(tx *gorm.DB) error {
		return tx.Exec("CREATE INDEX IF NOT EXISTS idx_webhook_events_unapplied ON webhook_events (applied_result, claim_expires_at)").Error
	},
	Rollback: func(tx *gorm.DB) error {
		return tx.Exec("DROP INDEX IF EXISTS idx_webhook_events_unapplied").Error
	},
}
