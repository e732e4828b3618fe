package janitor

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/logger"
)

// ExpireOrphans cancels attempts that never reached the provider: still
// creating, no invoice reference, older than the TTL. The cancel is one
// compound conditional pass so a race with a concurrently-succeeding webhook
// cannot cancel an order that just got paid.
func (svc *janitorService) ExpireOrphans(ctx context.Context) *JobReport {
	report := &JobReport{}
	ttl := time.Duration(svc.cfg.GetOrphanTtl()) * time.Second
	cutoff := time.Now().Add(-ttl)
	workerID := svc.reconciler.WorkerID()

	var attempts []db.PaymentAttempt
	result := svc.db.
		Where("state = ? AND invoice_reference = '' AND created_at < ?",
			constants.ATTEMPT_STATE_CREATING, cutoff).
		Order("created_at asc").
		Limit(svc.cfg.GetJanitorBatchSize()).
		Find(&attempts)
	if result.Error != nil {
		logger.Logger.Error().Err(result.Error).Msg("Failed to list orphaned attempts")
		return report
	}

	for _, attempt := range attempts {
		report.Processed++
		canceled, err := svc.expireOneOrphan(&attempt, workerID)
		if err != nil {
			report.Failed++
			continue
		}
		if canceled {
			report.Applied++
		} else {
			report.Noop++
		}
	}

	logger.Logger.Info().
		Int("processed", report.Processed).
		Int("applied", report.Applied).
		Int("noop", report.Noop).
		Int("failed", report.Failed).
		Msg("Orphan expiry completed")

	return report
}

func (svc *janitorService) expireOneOrphan(attempt *db.PaymentAttempt, workerID string) (bool, error) {
	var canceled bool

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		// cancel the order only while it is still cancelable and owned by
		// the expected provider
		orderUpdate := tx.Model(&db.Order{}).
			Where("id = ? AND provider = ? AND payment_status IN ? AND status = ?",
				attempt.OrderID,
				attempt.Provider,
				[]string{constants.PAYMENT_STATUS_PENDING, constants.PAYMENT_STATUS_REQUIRES_PAYMENT},
				constants.ORDER_STATUS_INVENTORY_RESERVED).
			Updates(map[string]interface{}{
				"payment_status":  constants.PAYMENT_STATUS_FAILED,
				"status":          constants.ORDER_STATUS_CANCELED,
				"provider_reason": constants.ERROR_INVOICE_MISSING,
			})
		if orderUpdate.Error != nil {
			return orderUpdate.Error
		}
		if orderUpdate.RowsAffected == 0 {
			// the order moved under us; leave the attempt alone
			return nil
		}

		now := time.Now()
		attemptUpdate := tx.Model(&db.PaymentAttempt{}).
			Where("id = ? AND state = ?", attempt.ID, constants.ATTEMPT_STATE_CREATING).
			Updates(map[string]interface{}{
				"state":              constants.ATTEMPT_STATE_FAILED,
				"last_error_code":    constants.ERROR_INVOICE_MISSING,
				"last_error_message": "attempt never obtained a provider invoice",
				"finalized_at":       &now,
			})
		if attemptUpdate.Error != nil {
			return attemptUpdate.Error
		}

		canceled = true
		return nil
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("attempt_id", attempt.ID).
			Uint("order_id", attempt.OrderID).
			Msg("Failed to expire orphaned attempt")
		return false, err
	}

	if !canceled {
		return false, nil
	}

	logger.Logger.Info().
		Uint("attempt_id", attempt.ID).
		Uint("order_id", attempt.OrderID).
		Msg("Canceled order with orphaned payment attempt")

	err = svc.restocker.RestockOrder(attempt.OrderID, constants.RESTOCK_REASON_CANCELED, workerID)
	if err != nil {
		// the next sweep's release is idempotent, so only log here
		logger.Logger.Error().Err(err).
			Uint("order_id", attempt.OrderID).
			Msg("Failed to release inventory for canceled order")
	}

	return true, nil
}
