package reconciler

import (
	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"

	"gorm.io/gorm"
)

type transition struct {
	provider string
	from     string
	to       string
}

// the single allow-list of valid order payment-status transitions; anything
// not listed here is rejected before an update is even issued
var allowedTransitions = map[transition]bool{
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_PENDING, constants.PAYMENT_STATUS_PAID}:                  true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_PENDING, constants.PAYMENT_STATUS_FAILED}:                true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_PENDING, constants.PAYMENT_STATUS_NEEDS_REVIEW}:          true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_REQUIRES_PAYMENT, constants.PAYMENT_STATUS_PAID}:         true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_REQUIRES_PAYMENT, constants.PAYMENT_STATUS_FAILED}:       true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_REQUIRES_PAYMENT, constants.PAYMENT_STATUS_NEEDS_REVIEW}: true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_PENDING, constants.PAYMENT_STATUS_REFUNDED}:              true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_REQUIRES_PAYMENT, constants.PAYMENT_STATUS_REFUNDED}:     true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_PAID, constants.PAYMENT_STATUS_REFUNDED}:                 true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_FAILED, constants.PAYMENT_STATUS_NEEDS_REVIEW}:           true,
	{constants.PROVIDER_MONO, constants.PAYMENT_STATUS_REFUNDED, constants.PAYMENT_STATUS_NEEDS_REVIEW}:         true,
}

func IsAllowedTransition(providerName, from, to string) bool {
	return allowedTransitions[transition{providerName, from, to}]
}

// transitionPaymentStatus issues the conditional update that moves an order
// between payment statuses. The predicate pins the from-status, so a
// concurrent writer that already moved the row makes this a no-op and the
// caller sees won=false. Current state is never re-derived from a stale
// in-memory read.
func transitionPaymentStatus(tx *gorm.DB, order *db.Order, to string, extraColumns map[string]interface{}) (bool, error) {
	from := order.PaymentStatus
	if !IsAllowedTransition(order.Provider, from, to) {
		return false, nil
	}

	columns := map[string]interface{}{
		"payment_status": to,
	}
	for name, value := range extraColumns {
		columns[name] = value
	}

	result := tx.Model(&db.Order{}).
		Where("id = ? AND provider = ? AND payment_status = ?", order.ID, order.Provider, from).
		Updates(columns)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
