package janitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/logger"
)

// ReconcileStaleActive repairs attempts the provider stopped notifying us
// about: still creating/active with an invoice reference, idle past the
// grace window. Each candidate is claimed, the provider is polled for the
// invoice's current status and the answer is fed back through the same apply
// state machine the live webhook path uses.
func (svc *janitorService) ReconcileStaleActive(ctx context.Context) *JobReport {
	report := &JobReport{}
	grace := time.Duration(svc.cfg.GetStaleActiveGrace()) * time.Second
	cutoff := time.Now().Add(-grace)
	workerID := svc.reconciler.WorkerID()

	var attempts []db.PaymentAttempt
	result := svc.db.
		Where("state IN ? AND invoice_reference <> '' AND updated_at < ?",
			[]string{constants.ATTEMPT_STATE_CREATING, constants.ATTEMPT_STATE_ACTIVE}, cutoff).
		Order("updated_at asc").
		Limit(svc.cfg.GetJanitorBatchSize()).
		Find(&attempts)
	if result.Error != nil {
		logger.Logger.Error().Err(result.Error).Msg("Failed to list stale active attempts")
		return report
	}

	for _, attempt := range attempts {
		report.Processed++
		outcome := svc.reconcileOneStaleAttempt(ctx, &attempt, workerID)
		switch outcome {
		case constants.APPLIED_RESULT_APPLIED:
			report.Applied++
		case constants.APPLIED_RESULT_APPLIED_NOOP, constants.APPLIED_RESULT_DEDUPED:
			report.Noop++
		default:
			report.Failed++
		}
	}

	logger.Logger.Info().
		Int("processed", report.Processed).
		Int("applied", report.Applied).
		Int("noop", report.Noop).
		Int("failed", report.Failed).
		Msg("Stale active reconcile completed")

	return report
}

func (svc *janitorService) reconcileOneStaleAttempt(ctx context.Context, attempt *db.PaymentAttempt, workerID string) string {
	claimed, err := svc.reconciler.Coordinator().ClaimAttempt(attempt.ID, workerID)
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("attempt_id", attempt.ID).
			Msg("Failed to claim stale attempt")
		return constants.APPLIED_RESULT_APPLIED_WITH_ISSUE
	}
	if !claimed {
		return constants.APPLIED_RESULT_APPLIED_NOOP
	}
	// a release failure only means the lease sits until TTL expiry
	defer func() {
		if err := svc.reconciler.Coordinator().ReleaseAttempt(attempt.ID, workerID); err != nil {
			logger.Logger.Warn().Err(err).
				Uint("attempt_id", attempt.ID).
				Msg("Failed to release attempt lease")
		}
	}()

	status, err := svc.providerClient.GetInvoiceStatus(ctx, attempt.InvoiceReference)
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("attempt_id", attempt.ID).
			Str("invoice_reference", attempt.InvoiceReference).
			Msg("Provider status poll failed")
		return constants.APPLIED_RESULT_APPLIED_WITH_ISSUE
	}

	rawBody, err := synthesizeEventBody(status.InvoiceID, status.Status, status.Amount, status.Currency, status.Reference, status.ModifiedAt)
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("attempt_id", attempt.ID).
			Msg("Failed to synthesize provider event")
		return constants.APPLIED_RESULT_APPLIED_WITH_ISSUE
	}

	ingested, err := svc.reconciler.Ingest(rawBody)
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("attempt_id", attempt.ID).
			Msg("Failed to ingest synthesized event")
		return constants.APPLIED_RESULT_APPLIED_WITH_ISSUE
	}
	if ingested.Deduped {
		return constants.APPLIED_RESULT_DEDUPED
	}

	outcome, err := svc.reconciler.Process(ingested.Event.ID)
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("attempt_id", attempt.ID).
			Uint("event_id", ingested.Event.ID).
			Msg("Failed to apply synthesized event")
		return constants.APPLIED_RESULT_APPLIED_WITH_ISSUE
	}

	svc.metrics.RecordAppliedResult(outcome.Result, outcome.ErrorCode)
	return outcome.Result
}

func synthesizeEventBody(invoiceID, status string, amount int64, currency int, reference string, modifiedAt *time.Time) ([]byte, error) {
	payload := map[string]interface{}{
		"invoiceId": invoiceID,
		"status":    status,
	}
	if amount != 0 {
		payload["amount"] = amount
	}
	if currency != 0 {
		payload["ccy"] = currency
	}
	if reference != "" {
		payload["reference"] = reference
	}
	if modifiedAt != nil {
		payload["modifiedDate"] = modifiedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(payload)
}
