package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoryamarket/payrecon/config"
	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/tests"
)

func TestDrainStoredEvents_RequiresStoreMode(t *testing.T) {
	providerClient := tests.NewMockInvoiceStatusClient()
	_, janitorService := createJanitorForTest(t, nil, providerClient)

	_, err := janitorService.DrainStoredEvents(context.TODO())
	require.ErrorIs(t, err, ErrDrainerModeMismatch)
}

func TestDrainStoredEvents_ReplaysBufferedEvents(t *testing.T) {
	providerClient := tests.NewMockInvoiceStatusClient()
	svc, janitorService := createJanitorForTest(t, &config.AppConfig{
		WebhookMode: constants.WEBHOOK_MODE_STORE,
	}, providerClient)

	order := &db.Order{
		Currency:        constants.MONO_NATIVE_CURRENCY,
		TotalAmount:     1000,
		Provider:        constants.PROVIDER_MONO,
		PaymentStatus:   constants.PAYMENT_STATUS_PENDING,
		Status:          constants.ORDER_STATUS_INVENTORY_RESERVED,
		InventoryStatus: constants.INVENTORY_STATUS_RESERVED,
	}
	require.NoError(t, svc.DB.Create(order).Error)
	attempt := &db.PaymentAttempt{
		OrderID:          order.ID,
		Provider:         constants.PROVIDER_MONO,
		AttemptNumber:    1,
		State:            constants.ATTEMPT_STATE_ACTIVE,
		ExpectedAmount:   1000,
		InvoiceReference: "inv_5",
	}
	require.NoError(t, svc.DB.Create(attempt).Error)

	earlier := time.Now().UTC().Add(-2 * time.Minute)
	later := time.Now().UTC().Add(-time.Minute)

	for _, fields := range []map[string]interface{}{
		{
			"invoiceId":    "inv_5",
			"status":       constants.INVOICE_STATUS_PROCESSING,
			"modifiedDate": earlier.Format(time.RFC3339Nano),
		},
		{
			"invoiceId":    "inv_5",
			"status":       constants.INVOICE_STATUS_SUCCESS,
			"amount":       1000,
			"ccy":          constants.MONO_NATIVE_CURRENCY,
			"modifiedDate": later.Format(time.RFC3339Nano),
		},
	} {
		outcome, err := janitorService.reconciler.HandleWebhook(webhookBodyForTest(t, fields))
		require.NoError(t, err)
		require.Equal(t, constants.APPLIED_RESULT_STORED, outcome.Result)
	}

	report, err := janitorService.DrainStoredEvents(context.TODO())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Noop)
	assert.Zero(t, report.Failed)

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_PAID, updatedOrder.PaymentStatus)

	var stored int64
	require.NoError(t, svc.DB.Model(&db.WebhookEvent{}).
		Where("applied_result = ?", constants.APPLIED_RESULT_STORED).
		Count(&stored).Error)
	assert.Zero(t, stored)
}

func TestDrainStoredEvents_SkipsEventsClaimedElsewhere(t *testing.T) {
	providerClient := tests.NewMockInvoiceStatusClient()
	svc, janitorService := createJanitorForTest(t, &config.AppConfig{
		WebhookMode: constants.WEBHOOK_MODE_STORE,
	}, providerClient)

	outcome, err := janitorService.reconciler.HandleWebhook(webhookBodyForTest(t, map[string]interface{}{
		"invoiceId": "inv_taken",
		"status":    constants.INVOICE_STATUS_SUCCESS,
	}))
	require.NoError(t, err)
	require.Equal(t, constants.APPLIED_RESULT_STORED, outcome.Result)

	var event db.WebhookEvent
	require.NoError(t, svc.DB.First(&event, &db.WebhookEvent{InvoiceReference: "inv_taken"}).Error)
	claimed, err := janitorService.reconciler.Coordinator().ClaimEvent(event.ID, "other-worker")
	require.NoError(t, err)
	require.True(t, claimed)

	report, err := janitorService.DrainStoredEvents(context.TODO())
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	require.NoError(t, svc.DB.First(&event, event.ID).Error)
	assert.Equal(t, constants.APPLIED_RESULT_STORED, event.AppliedResult)
	assert.Equal(t, "other-worker", event.ClaimedBy)
}

func TestReorderForReplay(t *testing.T) {
	at := func(hour, minute int) *time.Time {
		value := time.Date(2026, 2, 10, hour, minute, 0, 0, time.UTC)
		return &value
	}
	received := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)

	events := []db.WebhookEvent{
		{ID: 1, InvoiceReference: "inv_a", ProviderModifiedAt: at(10, 2), ReceivedAt: received.Add(time.Second)},
		{ID: 2, InvoiceReference: "inv_b", ReceivedAt: received},
		{ID: 3, InvoiceReference: "inv_a", ProviderModifiedAt: at(10, 0), ReceivedAt: received.Add(2 * time.Second)},
		{ID: 4, InvoiceReference: "inv_b", ReceivedAt: received.Add(3 * time.Second)},
	}

	ordered := reorderForReplay(events)
	orderedIDs := make([]uint, 0, len(ordered))
	for _, event := range ordered {
		orderedIDs = append(orderedIDs, event.ID)
	}

	// invoice groups stay contiguous, members follow the provider clock and
	// events without one fall back to delivery order
	assert.Equal(t, []uint{3, 1, 2, 4}, orderedIDs)
}
