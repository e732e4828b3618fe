package reconciler

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
)

func TestApply_AmountMismatchParksOrderForReview(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	attempt := createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_123",
		"status":    constants.INVOICE_STATUS_SUCCESS,
		"amount":    1001,
		"ccy":       constants.MONO_NATIVE_CURRENCY,
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_WITH_ISSUE, outcome.Result)
	assert.Equal(t, constants.ERROR_AMOUNT_MISMATCH, outcome.ErrorCode)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_NEEDS_REVIEW, updatedOrder.PaymentStatus)
	assert.Equal(t, constants.ERROR_AMOUNT_MISMATCH, updatedOrder.ProviderReason)

	var updatedAttempt db.PaymentAttempt
	require.NoError(t, svc.DB.First(&updatedAttempt, attempt.ID).Error)
	assert.Equal(t, constants.ATTEMPT_STATE_FAILED, updatedAttempt.State)
	assert.Equal(t, constants.ERROR_AMOUNT_MISMATCH, updatedAttempt.LastErrorCode)

	// a later well-formed success must not un-park the order
	later, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_123",
		"status":    constants.INVOICE_STATUS_SUCCESS,
		"amount":    1000,
		"ccy":       constants.MONO_NATIVE_CURRENCY,
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_NOOP, later.Result)

	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_NEEDS_REVIEW, updatedOrder.PaymentStatus)
}

func TestApply_ForeignCurrencyOrderNeedsReview(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	require.NoError(t, svc.DB.Model(&db.Order{}).Where("id = ?", order.ID).Update("currency", 840).Error)
	createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_123",
		"status":    constants.INVOICE_STATUS_SUCCESS,
		"amount":    1000,
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_WITH_ISSUE, outcome.Result)
	assert.Equal(t, constants.ERROR_AMOUNT_MISMATCH, outcome.ErrorCode)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_NEEDS_REVIEW, updatedOrder.PaymentStatus)
}

func TestApply_StaleEventIsNoop(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	attempt := createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	newer := time.Now().UTC()
	require.NoError(t, svc.DB.Model(&db.PaymentAttempt{}).Where("id = ?", attempt.ID).
		Update("provider_modified_at", &newer).Error)

	stale := newer.Add(-10 * time.Minute)
	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId":    "inv_123",
		"status":       constants.INVOICE_STATUS_SUCCESS,
		"amount":       1000,
		"ccy":          constants.MONO_NATIVE_CURRENCY,
		"modifiedDate": stale.Format(time.RFC3339Nano),
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_NOOP, outcome.Result)
	assert.Equal(t, constants.ERROR_OUT_OF_ORDER, outcome.ErrorCode)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_PENDING, updatedOrder.PaymentStatus)

	var event db.WebhookEvent
	require.NoError(t, svc.DB.First(&event, &db.WebhookEvent{InvoiceReference: "inv_123"}).Error)
	assert.Equal(t, constants.ERROR_OUT_OF_ORDER, event.AppliedErrorCode)
}

func TestApply_OutOfOrderDeliveryConverges(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	earlier := time.Now().UTC().Add(-time.Minute)
	later := time.Now().UTC()

	// the newer success is delivered first
	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId":    "inv_123",
		"status":       constants.INVOICE_STATUS_SUCCESS,
		"amount":       1000,
		"ccy":          constants.MONO_NATIVE_CURRENCY,
		"modifiedDate": later.Format(time.RFC3339Nano),
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED, outcome.Result)

	// the older in-flight notification trails in and must change nothing
	outcome, err = reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId":    "inv_123",
		"status":       constants.INVOICE_STATUS_PROCESSING,
		"modifiedDate": earlier.Format(time.RFC3339Nano),
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_NOOP, outcome.Result)
	assert.Equal(t, constants.ERROR_OUT_OF_ORDER, outcome.ErrorCode)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_PAID, updatedOrder.PaymentStatus)
}

func TestApply_SuccessAfterFailureNeedsReview(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_FAILED)
	createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_123",
		"status":    constants.INVOICE_STATUS_SUCCESS,
		"amount":    1000,
		"ccy":       constants.MONO_NATIVE_CURRENCY,
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_WITH_ISSUE, outcome.Result)
	assert.Equal(t, constants.ERROR_OUT_OF_ORDER, outcome.ErrorCode)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_NEEDS_REVIEW, updatedOrder.PaymentStatus)
}

func TestApply_PaidOrderIsTerminal(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PAID)
	createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	for _, status := range []string{
		constants.INVOICE_STATUS_SUCCESS,
		constants.INVOICE_STATUS_FAILURE,
		constants.INVOICE_STATUS_REVERSED,
	} {
		outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
			"invoiceId": "inv_123",
			"status":    status,
			"amount":    1000,
			"ccy":       constants.MONO_NATIVE_CURRENCY,
		}))
		require.NoError(t, err)
		assert.Equal(t, constants.APPLIED_RESULT_APPLIED_NOOP, outcome.Result, "status %s", status)
	}

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_PAID, updatedOrder.PaymentStatus)
}

func TestApply_UnmatchedEvent(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_unknown",
		"status":    constants.INVOICE_STATUS_SUCCESS,
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_UNMATCHED, outcome.Result)
	assert.Equal(t, constants.ERROR_ATTEMPT_NOT_FOUND, outcome.ErrorCode)

	var event db.WebhookEvent
	require.NoError(t, svc.DB.First(&event, &db.WebhookEvent{InvoiceReference: "inv_unknown"}).Error)
	assert.Equal(t, constants.APPLIED_RESULT_UNMATCHED, event.AppliedResult)
	assert.Equal(t, constants.ERROR_ATTEMPT_NOT_FOUND, event.AppliedErrorCode)
}

func TestApply_FailureFinalizesAndReleasesInventory(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	attempt := createActiveAttempt(t, svc.DB, order.ID, "inv_123")
	require.NoError(t, svc.DB.Create(&db.InventoryMove{
		OrderID:   order.ID,
		ProductID: 7,
		Direction: constants.INVENTORY_DIRECTION_RESERVE,
		Quantity:  2,
	}).Error)

	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_123",
		"status":    constants.INVOICE_STATUS_FAILURE,
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED, outcome.Result)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_FAILED, updatedOrder.PaymentStatus)
	assert.Equal(t, constants.INVOICE_STATUS_FAILURE, updatedOrder.ProviderReason)
	assert.True(t, updatedOrder.StockRestored)
	assert.Equal(t, constants.INVENTORY_STATUS_RELEASED, updatedOrder.InventoryStatus)

	var updatedAttempt db.PaymentAttempt
	require.NoError(t, svc.DB.First(&updatedAttempt, attempt.ID).Error)
	assert.Equal(t, constants.ATTEMPT_STATE_FAILED, updatedAttempt.State)
	assert.NotNil(t, updatedAttempt.FinalizedAt)

	var releaseMove db.InventoryMove
	require.NoError(t, svc.DB.First(&releaseMove, &db.InventoryMove{
		OrderID:   order.ID,
		Direction: constants.INVENTORY_DIRECTION_RELEASE,
	}).Error)
	assert.Equal(t, constants.RESTOCK_REASON_FAILED, releaseMove.Reason)
	assert.Equal(t, 2, releaseMove.Quantity)
}

func TestApply_ReversalRefundsOrder(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	attempt := createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_123",
		"status":    constants.INVOICE_STATUS_REVERSED,
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED, outcome.Result)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_REFUNDED, updatedOrder.PaymentStatus)

	var updatedAttempt db.PaymentAttempt
	require.NoError(t, svc.DB.First(&updatedAttempt, attempt.ID).Error)
	assert.Equal(t, constants.ATTEMPT_STATE_CANCELED, updatedAttempt.State)
}

func TestApply_UnknownStatusIsFlagged(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_123",
		"status":    "torn",
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_WITH_ISSUE, outcome.Result)
	assert.Equal(t, constants.ERROR_UNKNOWN_STATUS, outcome.ErrorCode)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_PENDING, updatedOrder.PaymentStatus)
}

func TestApply_EventClaimedByAnotherWorker(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	ingested, err := reconcilerService.Ingest(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_123",
		"status":    constants.INVOICE_STATUS_SUCCESS,
		"amount":    1000,
		"ccy":       constants.MONO_NATIVE_CURRENCY,
	}))
	require.NoError(t, err)

	claimed, err := reconcilerService.Coordinator().ClaimEvent(ingested.Event.ID, "other-worker")
	require.NoError(t, err)
	require.True(t, claimed)

	outcome, err := reconcilerService.Apply(ingested.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_NOOP, outcome.Result)

	// the row belongs to the other worker, no outcome may land on it
	var event db.WebhookEvent
	require.NoError(t, svc.DB.First(&event, ingested.Event.ID).Error)
	assert.Empty(t, event.AppliedResult)
	assert.Equal(t, "other-worker", event.ClaimedBy)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_PENDING, updatedOrder.PaymentStatus)
}

func TestApply_ReferenceMatchBeatsInvoiceMatch(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	firstOrder := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	createActiveAttempt(t, svc.DB, firstOrder.ID, "inv_dup")

	secondOrder := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	referenced := createActiveAttempt(t, svc.DB, secondOrder.ID, "inv_other")

	outcome, err := reconcilerService.HandleWebhook(webhookBody(t, map[string]interface{}{
		"invoiceId": "inv_dup",
		"status":    constants.INVOICE_STATUS_PROCESSING,
		"reference": strconv.FormatUint(uint64(referenced.ID), 10),
	}))
	require.NoError(t, err)
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_NOOP, outcome.Result)
	require.NotNil(t, outcome.AttemptID)
	assert.Equal(t, referenced.ID, *outcome.AttemptID)
	require.NotNil(t, outcome.OrderID)
	assert.Equal(t, secondOrder.ID, *outcome.OrderID)
}

func TestApply_ConcurrentWriterCannotRegressProviderClock(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	attempt := createActiveAttempt(t, svc.DB, order.ID, "inv_123")

	// snapshot as read by a worker that then loses the race
	staleSnapshot := *attempt

	fresher := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, svc.DB.Model(&db.PaymentAttempt{}).Where("id = ?", attempt.ID).
		UpdateColumn("provider_modified_at", &fresher).Error)

	older := fresher.Add(-10 * time.Minute)
	outcome := reconcilerService.applyInFlight(&db.WebhookEvent{
		Provider:           constants.PROVIDER_MONO,
		InvoiceReference:   "inv_123",
		Status:             constants.INVOICE_STATUS_PROCESSING,
		ProviderModifiedAt: &older,
	}, &staleSnapshot)

	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_NOOP, outcome.Result)
	assert.Equal(t, constants.ERROR_OUT_OF_ORDER, outcome.ErrorCode)

	var reloaded db.PaymentAttempt
	require.NoError(t, svc.DB.First(&reloaded, attempt.ID).Error)
	require.NotNil(t, reloaded.ProviderModifiedAt)
	assert.WithinDuration(t, fresher, *reloaded.ProviderModifiedAt, time.Second)
	assert.Equal(t, constants.ATTEMPT_STATE_ACTIVE, reloaded.State)
}

func TestApply_StaleFailureDoesNotFinalizeFresherAttempt(t *testing.T) {
	svc, reconcilerService := createReconcilerForTest(t, nil)

	order := createTestOrder(t, svc.DB, constants.PAYMENT_STATUS_PENDING)
	attempt := createActiveAttempt(t, svc.DB, order.ID, "inv_123")
	staleSnapshot := *attempt

	fresher := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, svc.DB.Model(&db.PaymentAttempt{}).Where("id = ?", attempt.ID).
		UpdateColumn("provider_modified_at", &fresher).Error)

	older := fresher.Add(-10 * time.Minute)
	outcome := reconcilerService.applyFinalFailure(&db.WebhookEvent{
		Provider:           constants.PROVIDER_MONO,
		InvoiceReference:   "inv_123",
		Status:             constants.INVOICE_STATUS_FAILURE,
		ProviderModifiedAt: &older,
	}, &staleSnapshot, order,
		constants.PAYMENT_STATUS_FAILED, constants.ATTEMPT_STATE_FAILED, constants.RESTOCK_REASON_FAILED)

	assert.Equal(t, constants.APPLIED_RESULT_APPLIED_NOOP, outcome.Result)
	assert.Equal(t, constants.ERROR_OUT_OF_ORDER, outcome.ErrorCode)
	assert.False(t, outcome.ReleaseStock)

	// the order transition from the same pass must roll back with it
	var reloadedOrder db.Order
	require.NoError(t, svc.DB.First(&reloadedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_PENDING, reloadedOrder.PaymentStatus)

	var reloaded db.PaymentAttempt
	require.NoError(t, svc.DB.First(&reloaded, attempt.ID).Error)
	assert.Equal(t, constants.ATTEMPT_STATE_ACTIVE, reloaded.State)
	require.NotNil(t, reloaded.ProviderModifiedAt)
	assert.WithinDuration(t, fresher, *reloaded.ProviderModifiedAt, time.Second)
	assert.Nil(t, reloaded.FinalizedAt)
}
