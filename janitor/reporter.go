package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/zoryamarket/payrecon/db/queries"
	"github.com/zoryamarket/payrecon/logger"
)

// ReportNeedsReview publishes the operator backlog: how many events sit on
// orders stuck in needs_review past the age threshold, how old the oldest
// one is and the most frequent reasons. Applies no state.
func (svc *janitorService) ReportNeedsReview(ctx context.Context) error {
	age := time.Duration(svc.cfg.GetNeedsReviewAge()) * time.Hour
	cutoff := time.Now().Add(-age)

	backlog, err := queries.GetNeedsReviewBacklog(svc.db, cutoff)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to aggregate needs-review backlog")
		return err
	}

	svc.metrics.SetNeedsReviewBacklog(backlog.Count, backlog.OldestAge.Seconds())

	logEvent := logger.Logger.Info().
		Int64("backlog", backlog.Count).
		Dur("oldest_age", backlog.OldestAge)
	for i, reason := range backlog.TopReasons {
		logEvent = logEvent.
			Str(fmt.Sprintf("top_reason_%d", i+1), reason.Reason).
			Int64(fmt.Sprintf("top_reason_%d_count", i+1), reason.Count)
	}
	logEvent.Msg("Needs-review report completed")

	return nil
}
