package reconciler

import (
	"time"

	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/logger"
	"github.com/zoryamarket/payrecon/provider"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

type IngestResult struct {
	Event   *db.WebhookEvent
	Deduped bool
}

// Ingest parses and durably records one provider notification. The insert on
// the unique event key is the dedup gate: a resend of an already-recorded
// notification is reported as deduped and no second row ever exists. A
// malformed payload is rejected before storage.
func (svc *reconcilerService) Ingest(rawBody []byte) (*IngestResult, error) {
	normalized, err := provider.ParseWebhookPayload(rawBody)
	if err != nil {
		logger.Logger.Warn().Err(err).
			Str("error_code", constants.ERROR_INVALID_PAYLOAD).
			Msg("Rejected malformed webhook payload")
		return nil, err
	}

	receivedAt := time.Now()
	eventKey := provider.DeriveEventKey(constants.PROVIDER_MONO, normalized, receivedAt)
	payloadHash := provider.ContentHash(rawBody)

	event := db.WebhookEvent{
		Provider:           constants.PROVIDER_MONO,
		EventKey:           eventKey,
		PayloadHash:        payloadHash,
		InvoiceReference:   normalized.InvoiceID,
		Status:             normalized.Status,
		Amount:             normalized.Amount,
		Currency:           normalized.Currency,
		Reference:          normalized.Reference,
		RawPayload:         datatypes.JSON(rawBody),
		ProviderModifiedAt: normalized.ModifiedAt,
		ReceivedAt:         receivedAt,
	}

	result := svc.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_key"}},
		DoNothing: true,
	}).Create(&event)
	if result.Error != nil {
		logger.Logger.Error().Err(result.Error).
			Str("event_key", eventKey).
			Msg("Failed to insert webhook event")
		return nil, result.Error
	}

	if result.RowsAffected > 0 {
		return &IngestResult{Event: &event}, nil
	}

	// insert was ignored: surface the existing row, by key first and by
	// payload hash as the fallback
	var existing db.WebhookEvent
	lookup := svc.db.Limit(1).Find(&existing, &db.WebhookEvent{EventKey: eventKey})
	if lookup.Error == nil && lookup.RowsAffected == 0 {
		lookup = svc.db.Limit(1).Find(&existing, &db.WebhookEvent{PayloadHash: payloadHash})
	}
	if lookup.Error != nil {
		return nil, lookup.Error
	}
	if lookup.RowsAffected == 0 {
		return nil, NewNotFoundError()
	}

	logger.Logger.Debug().
		Str("event_key", eventKey).
		Uint("event_id", existing.ID).
		Msg("Webhook event deduped")

	return &IngestResult{Event: &existing, Deduped: true}, nil
}
