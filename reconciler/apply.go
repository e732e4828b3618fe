package reconciler

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/logger"

	"gorm.io/gorm"
)

// AppliedOutcome is the classification of one apply pass. The same outcome is
// recorded on the webhook event row, so the row stays the single source of
// truth for what happened to the event regardless of caller retries.
type AppliedOutcome struct {
	Result        string
	ErrorCode     string
	ErrorMessage  string
	AttemptID     *uint
	OrderID       *uint
	ReleaseStock  bool
	RestockReason string
}

var attemptReferencePattern = regexp.MustCompile(`^[0-9]{1,12}$`)

// errStaleAttemptWrite signals that the attempt row already carries a fresher
// provider timestamp than the event being applied.
var errStaleAttemptWrite = errors.New("attempt carries a fresher provider timestamp")

// HandleWebhook is the live delivery path: record the notification, then
// apply it inline unless the deployment buffers or discards events.
func (svc *reconcilerService) HandleWebhook(rawBody []byte) (*AppliedOutcome, error) {
	ingested, err := svc.Ingest(rawBody)
	if err != nil {
		return nil, err
	}

	if ingested.Deduped {
		return &AppliedOutcome{
			Result:    constants.APPLIED_RESULT_DEDUPED,
			AttemptID: ingested.Event.AttemptID,
			OrderID:   ingested.Event.OrderID,
		}, nil
	}

	switch svc.cfg.GetWebhookMode() {
	case constants.WEBHOOK_MODE_STORE:
		svc.finishEvent(ingested.Event.ID, &AppliedOutcome{Result: constants.APPLIED_RESULT_STORED})
		return &AppliedOutcome{Result: constants.APPLIED_RESULT_STORED}, nil
	case constants.WEBHOOK_MODE_DROP:
		svc.finishEvent(ingested.Event.ID, &AppliedOutcome{Result: constants.APPLIED_RESULT_DROPPED})
		return &AppliedOutcome{Result: constants.APPLIED_RESULT_DROPPED}, nil
	}

	return svc.Process(ingested.Event.ID)
}

// Process applies one stored event and performs the inventory release the
// apply pass flagged. The release runs outside the state transition so the
// two stay separately retryable; the ledger no-ops on repeats.
func (svc *reconcilerService) Process(eventID uint) (*AppliedOutcome, error) {
	outcome, err := svc.Apply(eventID)
	if err != nil {
		return nil, err
	}

	if outcome.ReleaseStock && outcome.OrderID != nil {
		err := svc.restocker.RestockOrder(*outcome.OrderID, outcome.RestockReason, svc.workerID)
		if err != nil {
			logger.Logger.Error().Err(err).
				Uint("order_id", *outcome.OrderID).
				Uint("event_id", eventID).
				Msg("Failed to release inventory after payment finalization")
		}
	}

	return outcome, nil
}

// Apply runs the decision engine over one recorded event. Steps run in a
// fixed order and each is terminal. Every branch that owns the row writes
// its outcome onto the event before returning.
func (svc *reconcilerService) Apply(eventID uint) (*AppliedOutcome, error) {
	var event db.WebhookEvent
	result := svc.db.Limit(1).Find(&event, &db.WebhookEvent{ID: eventID})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, NewNotFoundError()
	}

	claimed, err := svc.coordinator.ClaimEvent(event.ID, svc.workerID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// another worker owns the row; its outcome will land there
		return &AppliedOutcome{Result: constants.APPLIED_RESULT_APPLIED_NOOP}, nil
	}
	defer func() {
		if err := svc.coordinator.ReleaseEvent(event.ID, svc.workerID); err != nil {
			logger.Logger.Warn().Err(err).
				Uint("event_id", event.ID).
				Msg("Failed to release event lease, it will expire on its own")
		}
	}()

	outcome := svc.applyClaimed(&event)
	svc.finishEvent(event.ID, outcome)

	return outcome, nil
}

func (svc *reconcilerService) applyClaimed(event *db.WebhookEvent) *AppliedOutcome {
	attempt, found := svc.resolveAttempt(event)
	if !found {
		logger.Logger.Warn().
			Uint("event_id", event.ID).
			Str("invoice_reference", event.InvoiceReference).
			Msg("No payment attempt matches webhook event")
		return &AppliedOutcome{
			Result:    constants.APPLIED_RESULT_UNMATCHED,
			ErrorCode: constants.ERROR_ATTEMPT_NOT_FOUND,
		}
	}

	var order db.Order
	result := svc.db.Limit(1).Find(&order, &db.Order{ID: attempt.OrderID})
	if result.Error != nil || result.RowsAffected == 0 {
		logger.Logger.Warn().
			Uint("event_id", event.ID).
			Uint("attempt_id", attempt.ID).
			Uint("order_id", attempt.OrderID).
			Msg("No order matches resolved payment attempt")
		return &AppliedOutcome{
			Result:    constants.APPLIED_RESULT_UNMATCHED,
			ErrorCode: constants.ERROR_ORDER_NOT_FOUND,
			AttemptID: &attempt.ID,
		}
	}

	outcome := svc.decide(event, attempt, &order)
	outcome.AttemptID = &attempt.ID
	outcome.OrderID = &order.ID
	return outcome
}

func (svc *reconcilerService) decide(event *db.WebhookEvent, attempt *db.PaymentAttempt, order *db.Order) *AppliedOutcome {
	// a stale event must never overwrite fresher state
	if event.ProviderModifiedAt != nil && attempt.ProviderModifiedAt != nil &&
		!event.ProviderModifiedAt.After(*attempt.ProviderModifiedAt) {
		return &AppliedOutcome{
			Result:    constants.APPLIED_RESULT_APPLIED_NOOP,
			ErrorCode: constants.ERROR_OUT_OF_ORDER,
		}
	}

	if mismatch, message := svc.checkAmount(event, attempt, order); mismatch {
		return svc.applyMismatch(attempt, order, message)
	}

	isSuccess := event.Status == constants.INVOICE_STATUS_SUCCESS

	// paid is terminal; a success resend is also a no-op, the money arrived
	if order.PaymentStatus == constants.PAYMENT_STATUS_PAID {
		return &AppliedOutcome{Result: constants.APPLIED_RESULT_APPLIED_NOOP}
	}
	// needs_review is human-gated: automation stops here
	if order.PaymentStatus == constants.PAYMENT_STATUS_NEEDS_REVIEW {
		return &AppliedOutcome{Result: constants.APPLIED_RESULT_APPLIED_NOOP}
	}

	if isSuccess && (order.PaymentStatus == constants.PAYMENT_STATUS_FAILED ||
		order.PaymentStatus == constants.PAYMENT_STATUS_REFUNDED) {
		// a success after failure/refund is never silently trusted
		return svc.applyResurrection(event, attempt, order)
	}

	switch event.Status {
	case constants.INVOICE_STATUS_SUCCESS:
		return svc.applySuccess(event, attempt, order)
	case constants.INVOICE_STATUS_CREATED, constants.INVOICE_STATUS_PROCESSING, constants.INVOICE_STATUS_HOLD:
		return svc.applyInFlight(event, attempt)
	case constants.INVOICE_STATUS_FAILURE:
		return svc.applyFinalFailure(event, attempt, order,
			constants.PAYMENT_STATUS_FAILED, constants.ATTEMPT_STATE_FAILED, constants.RESTOCK_REASON_FAILED)
	case constants.INVOICE_STATUS_EXPIRED:
		return svc.applyFinalFailure(event, attempt, order,
			constants.PAYMENT_STATUS_FAILED, constants.ATTEMPT_STATE_CANCELED, constants.RESTOCK_REASON_FAILED)
	case constants.INVOICE_STATUS_REVERSED:
		return svc.applyFinalFailure(event, attempt, order,
			constants.PAYMENT_STATUS_REFUNDED, constants.ATTEMPT_STATE_CANCELED, constants.RESTOCK_REASON_REFUNDED)
	}

	logger.Logger.Warn().
		Uint("event_id", event.ID).
		Uint("order_id", order.ID).
		Str("status", event.Status).
		Msg("Unrecognized provider status, flagging for operators")
	return &AppliedOutcome{
		Result:       constants.APPLIED_RESULT_APPLIED_WITH_ISSUE,
		ErrorCode:    constants.ERROR_UNKNOWN_STATUS,
		ErrorMessage: "unrecognized provider status: " + event.Status,
	}
}

func (svc *reconcilerService) checkAmount(event *db.WebhookEvent, attempt *db.PaymentAttempt, order *db.Order) (bool, string) {
	if order.Currency != constants.MONO_NATIVE_CURRENCY {
		return true, "order currency is not the provider settlement currency"
	}
	if event.Currency != 0 && event.Currency != order.Currency {
		return true, "payload currency disagrees with the order currency"
	}
	if event.Amount != 0 && event.Amount != attempt.ExpectedAmount {
		return true, "payload amount disagrees with the expected amount"
	}
	return false, ""
}

// applyMismatch parks the order for a human. A mismatch must never produce
// paid, so the transition allow-list keeps an already-paid order untouched.
func (svc *reconcilerService) applyMismatch(attempt *db.PaymentAttempt, order *db.Order, message string) *AppliedOutcome {
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		won, err := transitionPaymentStatus(tx, order, constants.PAYMENT_STATUS_NEEDS_REVIEW, map[string]interface{}{
			"provider_reason": constants.ERROR_AMOUNT_MISMATCH,
		})
		if err != nil {
			return err
		}
		if won {
			svc.eventPublisher.Publish(newOrderNeedsReviewEvent(order.ID, constants.ERROR_AMOUNT_MISMATCH))
		}
		return svc.finalizeAttempt(tx, attempt.ID, constants.ATTEMPT_STATE_FAILED,
			constants.ERROR_AMOUNT_MISMATCH, message, nil)
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("order_id", order.ID).
			Uint("attempt_id", attempt.ID).
			Msg("Failed to park mismatched order for review")
	}

	logger.Logger.Warn().
		Uint("order_id", order.ID).
		Uint("attempt_id", attempt.ID).
		Str("reason", message).
		Msg("Amount/currency mismatch, order needs review")

	return &AppliedOutcome{
		Result:       constants.APPLIED_RESULT_APPLIED_WITH_ISSUE,
		ErrorCode:    constants.ERROR_AMOUNT_MISMATCH,
		ErrorMessage: message,
	}
}

// applyResurrection handles a success event arriving after the order already
// failed or was refunded. Money safety wins over automation: the order goes
// to needs_review instead of being marked paid.
func (svc *reconcilerService) applyResurrection(event *db.WebhookEvent, attempt *db.PaymentAttempt, order *db.Order) *AppliedOutcome {
	won, err := transitionPaymentStatus(svc.db, order, constants.PAYMENT_STATUS_NEEDS_REVIEW, map[string]interface{}{
		"provider_reason": constants.ERROR_OUT_OF_ORDER,
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("order_id", order.ID).
			Msg("Failed to flag resurrected order for review")
	}
	if won {
		svc.eventPublisher.Publish(newOrderNeedsReviewEvent(order.ID, constants.ERROR_OUT_OF_ORDER))
	}

	logger.Logger.Warn().
		Uint("event_id", event.ID).
		Uint("order_id", order.ID).
		Uint("attempt_id", attempt.ID).
		Str("payment_status", order.PaymentStatus).
		Msg("Success event for a finalized order, order needs review")

	return &AppliedOutcome{
		Result:       constants.APPLIED_RESULT_APPLIED_WITH_ISSUE,
		ErrorCode:    constants.ERROR_OUT_OF_ORDER,
		ErrorMessage: "success event arrived after order was " + order.PaymentStatus,
	}
}

func (svc *reconcilerService) applySuccess(event *db.WebhookEvent, attempt *db.PaymentAttempt, order *db.Order) *AppliedOutcome {
	chargeReference := event.Reference
	if chargeReference == "" {
		chargeReference = event.InvoiceReference
	}

	var won bool
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		var err error
		won, err = transitionPaymentStatus(tx, order, constants.PAYMENT_STATUS_PAID, map[string]interface{}{
			"status":           constants.ORDER_STATUS_PAID,
			"charge_reference": chargeReference,
			"provider_reason":  event.Status,
		})
		if err != nil || !won {
			return err
		}
		return svc.finalizeAttempt(tx, attempt.ID, constants.ATTEMPT_STATE_SUCCEEDED, "", "", event.ProviderModifiedAt)
	})
	if err != nil {
		if errors.Is(err, errStaleAttemptWrite) {
			return &AppliedOutcome{
				Result:    constants.APPLIED_RESULT_APPLIED_NOOP,
				ErrorCode: constants.ERROR_OUT_OF_ORDER,
			}
		}
		logger.Logger.Error().Err(err).
			Uint("order_id", order.ID).
			Uint("attempt_id", attempt.ID).
			Msg("Failed to settle order")
		return &AppliedOutcome{
			Result:       constants.APPLIED_RESULT_APPLIED_WITH_ISSUE,
			ErrorCode:    constants.ERROR_PAYMENT_STATE_BLOCKED,
			ErrorMessage: err.Error(),
		}
	}

	if !won {
		return &AppliedOutcome{
			Result:       constants.APPLIED_RESULT_APPLIED_WITH_ISSUE,
			ErrorCode:    constants.ERROR_PAYMENT_STATE_BLOCKED,
			ErrorMessage: "a concurrent writer moved the order first",
		}
	}

	logger.Logger.Info().
		Uint("order_id", order.ID).
		Uint("attempt_id", attempt.ID).
		Str("charge_reference", chargeReference).
		Msg("Marked order as paid")

	svc.eventPublisher.Publish(newPaymentSettledEvent(order.ID, attempt.ID))

	return &AppliedOutcome{Result: constants.APPLIED_RESULT_APPLIED}
}

func (svc *reconcilerService) applyInFlight(event *db.WebhookEvent, attempt *db.PaymentAttempt) *AppliedOutcome {
	columns := map[string]interface{}{}
	if event.ProviderModifiedAt != nil {
		columns["provider_modified_at"] = event.ProviderModifiedAt
	}
	if attempt.State == constants.ATTEMPT_STATE_CREATING {
		columns["state"] = constants.ATTEMPT_STATE_ACTIVE
	}
	if len(columns) > 0 {
		// the clock guard lives in the statement itself: two workers can
		// hold claims on two distinct events for the same attempt, so the
		// in-memory snapshot is not enough to stop a regressed write
		query := svc.db.Model(&db.PaymentAttempt{}).
			Where("id = ? AND state IN ?", attempt.ID,
				[]string{constants.ATTEMPT_STATE_CREATING, constants.ATTEMPT_STATE_ACTIVE})
		if event.ProviderModifiedAt != nil {
			query = query.Where("provider_modified_at IS NULL OR provider_modified_at < ?",
				event.ProviderModifiedAt)
		}
		result := query.Updates(columns)
		if result.Error != nil {
			logger.Logger.Error().Err(result.Error).
				Uint("attempt_id", attempt.ID).
				Msg("Failed to refresh in-flight attempt")
		} else if result.RowsAffected == 0 {
			return &AppliedOutcome{
				Result:    constants.APPLIED_RESULT_APPLIED_NOOP,
				ErrorCode: constants.ERROR_OUT_OF_ORDER,
			}
		}
	}
	return &AppliedOutcome{Result: constants.APPLIED_RESULT_APPLIED_NOOP}
}

func (svc *reconcilerService) applyFinalFailure(event *db.WebhookEvent, attempt *db.PaymentAttempt, order *db.Order, orderStatus, attemptState, restockReason string) *AppliedOutcome {
	var won bool
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		var err error
		won, err = transitionPaymentStatus(tx, order, orderStatus, map[string]interface{}{
			"provider_reason": event.Status,
		})
		if err != nil || !won {
			return err
		}
		return svc.finalizeAttempt(tx, attempt.ID, attemptState,
			event.Status, "provider reported "+event.Status, event.ProviderModifiedAt)
	})
	if err != nil {
		if errors.Is(err, errStaleAttemptWrite) {
			return &AppliedOutcome{
				Result:    constants.APPLIED_RESULT_APPLIED_NOOP,
				ErrorCode: constants.ERROR_OUT_OF_ORDER,
			}
		}
		logger.Logger.Error().Err(err).
			Uint("order_id", order.ID).
			Uint("attempt_id", attempt.ID).
			Str("status", event.Status).
			Msg("Failed to finalize failed payment")
		return &AppliedOutcome{
			Result:       constants.APPLIED_RESULT_APPLIED_WITH_ISSUE,
			ErrorCode:    constants.ERROR_PAYMENT_STATE_BLOCKED,
			ErrorMessage: err.Error(),
		}
	}

	if !won {
		return &AppliedOutcome{
			Result:       constants.APPLIED_RESULT_APPLIED_WITH_ISSUE,
			ErrorCode:    constants.ERROR_PAYMENT_STATE_BLOCKED,
			ErrorMessage: "a concurrent writer moved the order first",
		}
	}

	logger.Logger.Info().
		Uint("order_id", order.ID).
		Uint("attempt_id", attempt.ID).
		Str("status", event.Status).
		Str("payment_status", orderStatus).
		Msg("Finalized unpaid order")

	svc.eventPublisher.Publish(newPaymentFailedEvent(order.ID, attempt.ID, event.Status))

	// the stock side effect is flagged, not performed here, so the state
	// transition and the release stay separately retryable
	return &AppliedOutcome{
		Result:        constants.APPLIED_RESULT_APPLIED,
		ReleaseStock:  true,
		RestockReason: restockReason,
	}
}

// resolveAttempt prefers a direct attempt-id reference carried in the
// payload; the invoice reference is the fallback.
func (svc *reconcilerService) resolveAttempt(event *db.WebhookEvent) (*db.PaymentAttempt, bool) {
	var attempt db.PaymentAttempt

	if event.Reference != "" && attemptReferencePattern.MatchString(event.Reference) {
		attemptID, err := strconv.ParseUint(event.Reference, 10, 64)
		if err == nil {
			result := svc.db.Limit(1).Find(&attempt, &db.PaymentAttempt{ID: uint(attemptID)})
			if result.Error == nil && result.RowsAffected > 0 {
				return &attempt, true
			}
		}
	}

	if event.InvoiceReference != "" {
		result := svc.db.Order("id desc").Limit(1).Find(&attempt, &db.PaymentAttempt{
			InvoiceReference: event.InvoiceReference,
		})
		if result.Error == nil && result.RowsAffected > 0 {
			return &attempt, true
		}
	}

	return nil, false
}

// finalizeAttempt moves an attempt into a terminal state; the predicate only
// matches non-terminal rows so re-entry after a crash is a no-op. When the
// event carries a provider timestamp the statement also pins the attempt's
// clock, and a miss surfaces as errStaleAttemptWrite so the enclosing
// transaction rolls back instead of regressing provider_modified_at.
func (svc *reconcilerService) finalizeAttempt(tx *gorm.DB, attemptID uint, state, errorCode, errorMessage string, providerModifiedAt *time.Time) error {
	now := time.Now()
	columns := map[string]interface{}{
		"state":              state,
		"last_error_code":    errorCode,
		"last_error_message": errorMessage,
		"finalized_at":       &now,
	}
	query := tx.Model(&db.PaymentAttempt{}).
		Where("id = ? AND state IN ?", attemptID,
			[]string{constants.ATTEMPT_STATE_CREATING, constants.ATTEMPT_STATE_ACTIVE})
	if providerModifiedAt != nil {
		columns["provider_modified_at"] = providerModifiedAt
		query = query.Where("provider_modified_at IS NULL OR provider_modified_at < ?",
			providerModifiedAt)
	}

	result := query.Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 && providerModifiedAt != nil {
		return errStaleAttemptWrite
	}
	return nil
}

// finishEvent records the pass outcome on the event row.
func (svc *reconcilerService) finishEvent(eventID uint, outcome *AppliedOutcome) {
	now := time.Now()
	columns := map[string]interface{}{
		"applied_result":        outcome.Result,
		"applied_error_code":    outcome.ErrorCode,
		"applied_error_message": outcome.ErrorMessage,
		"applied_at":            &now,
	}
	if outcome.AttemptID != nil {
		columns["attempt_id"] = outcome.AttemptID
	}
	if outcome.OrderID != nil {
		columns["order_id"] = outcome.OrderID
	}

	err := svc.db.Model(&db.WebhookEvent{}).Where("id = ?", eventID).Updates(columns).Error
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("event_id", eventID).
			Str("applied_result", outcome.Result).
			Msg("Failed to record applied result on webhook event")
	}
}
