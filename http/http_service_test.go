package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/inventory"
	"github.com/zoryamarket/payrecon/metrics"
	"github.com/zoryamarket/payrecon/reconciler"
	"github.com/zoryamarket/payrecon/tests"
)

func createHttpServiceForTest(t *testing.T) (*tests.TestService, *echo.Echo) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	t.Cleanup(svc.Remove)

	reconcilerService := reconciler.NewReconcilerService(svc.DB, svc.Cfg, svc.EventPublisher,
		inventory.NewInventoryService(svc.DB), svc.WorkerID)

	e := echo.New()
	NewHttpService(reconcilerService, metrics.NewMetricsService()).RegisterSharedRoutes(e)
	return svc, e
}

func postWebhook(e *echo.Echo, providerName string, body []byte) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, "/webhooks/payments/"+providerName, bytes.NewReader(body))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	recorder := httptest.NewRecorder()
	e.ServeHTTP(recorder, request)
	return recorder
}

func TestWebhookHandler_AppliesEvent(t *testing.T) {
	svc, e := createHttpServiceForTest(t)

	order := &db.Order{
		Currency:        constants.MONO_NATIVE_CURRENCY,
		TotalAmount:     1000,
		Provider:        constants.PROVIDER_MONO,
		PaymentStatus:   constants.PAYMENT_STATUS_PENDING,
		Status:          constants.ORDER_STATUS_INVENTORY_RESERVED,
		InventoryStatus: constants.INVENTORY_STATUS_RESERVED,
	}
	require.NoError(t, svc.DB.Create(order).Error)
	require.NoError(t, svc.DB.Create(&db.PaymentAttempt{
		OrderID:          order.ID,
		Provider:         constants.PROVIDER_MONO,
		AttemptNumber:    1,
		State:            constants.ATTEMPT_STATE_ACTIVE,
		ExpectedAmount:   1000,
		InvoiceReference: "inv_123",
	}).Error)

	body, err := json.Marshal(map[string]interface{}{
		"invoiceId": "inv_123",
		"status":    constants.INVOICE_STATUS_SUCCESS,
		"amount":    1000,
		"ccy":       constants.MONO_NATIVE_CURRENCY,
	})
	require.NoError(t, err)

	recorder := postWebhook(e, constants.PROVIDER_MONO, body)
	assert.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, constants.APPLIED_RESULT_APPLIED, response["result"])

	var updatedOrder db.Order
	require.NoError(t, svc.DB.First(&updatedOrder, order.ID).Error)
	assert.Equal(t, constants.PAYMENT_STATUS_PAID, updatedOrder.PaymentStatus)
}

func TestWebhookHandler_UnknownProvider(t *testing.T) {
	_, e := createHttpServiceForTest(t)

	recorder := postWebhook(e, "stripe", []byte(`{"invoiceId": "inv_1", "status": "success"}`))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestWebhookHandler_InvalidPayload(t *testing.T) {
	svc, e := createHttpServiceForTest(t)

	recorder := postWebhook(e, constants.PROVIDER_MONO, []byte(`{"amount": 12}`))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	var eventCount int64
	require.NoError(t, svc.DB.Model(&db.WebhookEvent{}).Count(&eventCount).Error)
	assert.Zero(t, eventCount)
}

func TestWebhookHandler_UnmatchedEventStillAnswers200(t *testing.T) {
	_, e := createHttpServiceForTest(t)

	recorder := postWebhook(e, constants.PROVIDER_MONO, []byte(`{"invoiceId": "inv_nobody", "status": "success"}`))
	assert.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, constants.APPLIED_RESULT_UNMATCHED, response["result"])
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	_, e := createHttpServiceForTest(t)

	recorder := httptest.NewRecorder()
	e.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	e.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "payrecon_needs_review_backlog")
}
