package reconciler

import (
	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/logger"
)

// Replay applies one buffered event for a caller that already holds the
// processing lease (the stored-event drainer). Claiming is skipped; the
// outcome is recorded on the row and the flagged inventory release is
// performed, same as the live path.
func (svc *reconcilerService) Replay(eventID uint) (*AppliedOutcome, error) {
	var event db.WebhookEvent
	result := svc.db.Limit(1).Find(&event, &db.WebhookEvent{ID: eventID})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, NewNotFoundError()
	}

	outcome := svc.applyClaimed(&event)
	svc.finishEvent(event.ID, outcome)

	if outcome.ReleaseStock && outcome.OrderID != nil {
		err := svc.restocker.RestockOrder(*outcome.OrderID, outcome.RestockReason, svc.workerID)
		if err != nil {
			logger.Logger.Error().Err(err).
				Uint("order_id", *outcome.OrderID).
				Uint("event_id", event.ID).
				Msg("Failed to release inventory after replay")
		}
	}

	return outcome, nil
}

// MarkEventIssue records an operational failure on an event row so a broken
// replay is visible instead of stuck.
func (svc *reconcilerService) MarkEventIssue(eventID uint, errorCode, errorMessage string) {
	svc.finishEvent(eventID, &AppliedOutcome{
		Result:       constants.APPLIED_RESULT_APPLIED_WITH_ISSUE,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	})
}
