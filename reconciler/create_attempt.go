package reconciler

import (
	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/logger"
)

type PaymentAttempt = db.PaymentAttempt

// CreateAttempt opens the next payment attempt for an order. At most one
// attempt per order may be expected to still resolve, so an open attempt
// blocks a new one.
func (svc *reconcilerService) CreateAttempt(orderID uint, providerName string, expectedAmount int64) (*PaymentAttempt, error) {
	var order db.Order
	result := svc.db.Limit(1).Find(&order, &db.Order{ID: orderID})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, NewNotFoundError()
	}

	var openCount int64
	err := svc.db.Model(&db.PaymentAttempt{}).
		Where("order_id = ? AND state IN ?", orderID,
			[]string{constants.ATTEMPT_STATE_CREATING, constants.ATTEMPT_STATE_ACTIVE}).
		Count(&openCount).Error
	if err != nil {
		return nil, err
	}
	if openCount > 0 {
		return nil, NewOpenAttemptError()
	}

	var lastNumber int64
	svc.db.Model(&db.PaymentAttempt{}).
		Where("order_id = ?", orderID).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&lastNumber)

	attempt := db.PaymentAttempt{
		OrderID:        orderID,
		Provider:       providerName,
		AttemptNumber:  int(lastNumber) + 1,
		State:          constants.ATTEMPT_STATE_CREATING,
		ExpectedAmount: expectedAmount,
	}
	err = svc.db.Create(&attempt).Error
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("order_id", orderID).
			Msg("Failed to create payment attempt")
		return nil, err
	}

	logger.Logger.Debug().
		Uint("order_id", orderID).
		Uint("attempt_id", attempt.ID).
		Int("attempt_number", attempt.AttemptNumber).
		Msg("Created payment attempt")

	return &attempt, nil
}

// AttachInvoice stamps the provider invoice reference obtained when the
// payment was initiated against the provider.
func (svc *reconcilerService) AttachInvoice(attemptID uint, invoiceReference string) error {
	result := svc.db.Model(&db.PaymentAttempt{}).
		Where("id = ? AND state = ? AND invoice_reference = ?",
			attemptID, constants.ATTEMPT_STATE_CREATING, "").
		Update("invoice_reference", invoiceReference)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NewNotFoundError()
	}
	return nil
}
