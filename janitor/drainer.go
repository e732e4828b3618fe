package janitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/logger"
)

// ErrDrainerModeMismatch is a deployment configuration error: the drainer
// must never run where events are already applied inline.
var ErrDrainerModeMismatch = errors.New("stored-event drainer requires webhook mode 'store'")

// DrainStoredEvents claims buffered events and replays them through the
// apply state machine. Claiming is unordered, so the claimed batch is
// regrouped and sorted first: application always follows provider-causal
// order even when delivery and claiming did not.
func (svc *janitorService) DrainStoredEvents(ctx context.Context) (*JobReport, error) {
	if svc.cfg.GetWebhookMode() != constants.WEBHOOK_MODE_STORE {
		return nil, ErrDrainerModeMismatch
	}

	report := &JobReport{}
	workerID := svc.reconciler.WorkerID()

	var candidates []db.WebhookEvent
	result := svc.db.
		Where("applied_result = ?", constants.APPLIED_RESULT_STORED).
		Order("received_at asc").
		Limit(svc.cfg.GetJanitorBatchSize()).
		Find(&candidates)
	if result.Error != nil {
		logger.Logger.Error().Err(result.Error).Msg("Failed to list stored events")
		return report, nil
	}

	claimed := make([]db.WebhookEvent, 0, len(candidates))
	for _, event := range candidates {
		won, err := svc.reconciler.Coordinator().ClaimEvent(event.ID, workerID)
		if err != nil {
			logger.Logger.Error().Err(err).
				Uint("event_id", event.ID).
				Msg("Failed to claim stored event")
			report.Failed++
			continue
		}
		if won {
			claimed = append(claimed, event)
		}
	}

	for _, event := range reorderForReplay(claimed) {
		report.Processed++
		outcome := svc.replayOneStoredEvent(event.ID, workerID)
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
		Msg("Stored-event drain completed")

	return report, nil
}

func (svc *janitorService) replayOneStoredEvent(eventID uint, workerID string) (result string) {
	defer func() {
		if err := svc.reconciler.Coordinator().ReleaseEvent(eventID, workerID); err != nil {
			logger.Logger.Warn().Err(err).
				Uint("event_id", eventID).
				Msg("Failed to release stored event lease")
		}
	}()
	// a replay failure is marked on the row and skipped, never left stuck
	// and never allowed to abort the rest of the batch
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Error().
				Uint("event_id", eventID).
				Interface("panic", r).
				Msg("Stored event replay panicked")
			svc.reconciler.MarkEventIssue(eventID, constants.ERROR_JANITOR_JOB3_APPLY_FAILED, fmt.Sprintf("replay panicked: %v", r))
			result = constants.APPLIED_RESULT_APPLIED_WITH_ISSUE
		}
	}()

	outcome, err := svc.reconciler.Replay(eventID)
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("event_id", eventID).
			Msg("Stored event replay failed")
		svc.reconciler.MarkEventIssue(eventID, constants.ERROR_JANITOR_JOB3_APPLY_FAILED, err.Error())
		return constants.APPLIED_RESULT_APPLIED_WITH_ISSUE
	}

	svc.metrics.RecordAppliedResult(outcome.Result, outcome.ErrorCode)
	return outcome.Result
}

// reorderForReplay groups events by invoice, falling back to attempt id and
// finally to the event's own id as a singleton group, then sorts members and
// groups by provider-modified-time, received-time and id.
func reorderForReplay(events []db.WebhookEvent) []db.WebhookEvent {
	groups := map[string][]db.WebhookEvent{}
	for _, event := range events {
		key := replayGroupKey(&event)
		groups[key] = append(groups[key], event)
	}

	ordered := make([][]db.WebhookEvent, 0, len(groups))
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return replayLess(&group[i], &group[j])
		})
		ordered = append(ordered, group)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return replayLess(&ordered[i][0], &ordered[j][0])
	})

	flattened := make([]db.WebhookEvent, 0, len(events))
	for _, group := range ordered {
		flattened = append(flattened, group...)
	}
	return flattened
}

func replayGroupKey(event *db.WebhookEvent) string {
	if event.InvoiceReference != "" {
		return "invoice:" + event.InvoiceReference
	}
	if event.AttemptID != nil {
		return "attempt:" + strconv.FormatUint(uint64(*event.AttemptID), 10)
	}
	return "event:" + strconv.FormatUint(uint64(event.ID), 10)
}

func replayLess(a, b *db.WebhookEvent) bool {
	switch {
	case a.ProviderModifiedAt != nil && b.ProviderModifiedAt != nil &&
		!a.ProviderModifiedAt.Equal(*b.ProviderModifiedAt):
		return a.ProviderModifiedAt.Before(*b.ProviderModifiedAt)
	case a.ProviderModifiedAt == nil && b.ProviderModifiedAt != nil:
		return false
	case a.ProviderModifiedAt != nil && b.ProviderModifiedAt == nil:
		return true
	}
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.ID < b.ID
}
