package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrInvalidPayload = errors.New("payload is missing an invoice id or status")

// ParseWebhookPayload extracts the normalized event value from one provider
// notification. The provider has renamed fields across API versions, so each
// field is tried under its known names. A payload without an invoice id and
// a status is rejected before it ever reaches storage.
func ParseWebhookPayload(rawBody []byte) (*NormalizedEvent, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, ErrInvalidPayload
	}

	invoiceID := stringField(payload, "invoiceId", "invoice_id", "invoice")
	status := stringField(payload, "status", "state", "invoiceStatus")
	if invoiceID == "" || status == "" {
		return nil, ErrInvalidPayload
	}

	event := &NormalizedEvent{
		EventID:    stringField(payload, "eventId", "event_id"),
		InvoiceID:  invoiceID,
		Status:     status,
		Amount:     intField(payload, "amount", "finalAmount", "final_amount"),
		Currency:   int(intField(payload, "ccy", "currency")),
		Reference:  stringField(payload, "reference", "destination", "orderRef"),
		ModifiedAt: timeField(payload, "modifiedDate", "modified_date", "updatedAt", "updated_at"),
		Raw:        rawBody,
	}

	return event, nil
}

// DeriveEventKey builds the idempotency key for one notification. A stable
// provider event id wins; otherwise the key hashes the normalized tuple with
// a one-minute time bucket, so an unchanged resend within the bucket dedups
// while a different status at the same invoice stays a distinct event.
func DeriveEventKey(providerName string, event *NormalizedEvent, receivedAt time.Time) string {
	if event.EventID != "" {
		return providerName + ":" + event.EventID
	}

	eventTime := receivedAt
	if event.ModifiedAt != nil {
		eventTime = *event.ModifiedAt
	}
	minuteBucket := eventTime.UTC().Truncate(time.Minute).Unix()

	tuple := fmt.Sprintf("%s|%s|%d|%d|%s|%d",
		event.InvoiceID, event.Status, event.Amount, event.Currency, event.Reference, minuteBucket)
	sum := sha256.Sum256([]byte(tuple))
	return providerName + ":" + hex.EncodeToString(sum[:])
}

func ContentHash(rawBody []byte) string {
	sum := sha256.Sum256(rawBody)
	return hex.EncodeToString(sum[:])
}

func stringField(payload map[string]interface{}, names ...string) string {
	for _, name := range names {
		if value, ok := payload[name].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func intField(payload map[string]interface{}, names ...string) int64 {
	for _, name := range names {
		switch value := payload[name].(type) {
		case float64:
			return int64(value)
		case string:
			if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
				return parsed
			}
		}
	}
	return 0
}

func timeField(payload map[string]interface{}, names ...string) *time.Time {
	for _, name := range names {
		switch value := payload[name].(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
				if parsed, err := time.Parse(layout, value); err == nil {
					return &parsed
				}
			}
		case float64:
			parsed := time.Unix(int64(value), 0).UTC()
			return &parsed
		}
	}
	return nil
}
