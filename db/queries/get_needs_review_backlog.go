package queries

import (
	"time"

	"github.com/zoryamarket/payrecon/constants"
	"gorm.io/gorm"
)

type ReasonCount struct {
	Reason string
	Count  int64
}

type NeedsReviewBacklog struct {
	Count      int64
	OldestAge  time.Duration
	TopReasons []ReasonCount
}

// GetNeedsReviewBacklog aggregates the operator backlog: events whose order
// is stuck in needs_review older than the cutoff, the oldest backlog age and
// the three most frequent failure reasons. Read-only.
func GetNeedsReviewBacklog(tx *gorm.DB, olderThan time.Time) (*NeedsReviewBacklog, error) {
	backlog := &NeedsReviewBacklog{}

	base := tx.Table("webhook_events").
		Joins("JOIN orders ON orders.id = webhook_events.order_id").
		Where("orders.payment_status = ?", constants.PAYMENT_STATUS_NEEDS_REVIEW).
		Where("webhook_events.received_at < ?", olderThan)

	err := base.Session(&gorm.Session{}).Count(&backlog.Count).Error
	if err != nil {
		return nil, err
	}
	if backlog.Count == 0 {
		return backlog, nil
	}

	var oldest struct {
		ReceivedAt time.Time
	}
	err = base.Session(&gorm.Session{}).
		Select("MIN(webhook_events.received_at) as received_at").
		Scan(&oldest).Error
	if err != nil {
		return nil, err
	}
	backlog.OldestAge = time.Since(oldest.ReceivedAt)

	err = base.Session(&gorm.Session{}).
		Select("webhook_events.applied_error_code as reason, COUNT(*) as count").
		Where("webhook_events.applied_error_code <> ''").
		Group("webhook_events.applied_error_code").
		Order("count DESC").
		Limit(3).
		Scan(&backlog.TopReasons).Error
	if err != nil {
		return nil, err
	}

	return backlog, nil
}
