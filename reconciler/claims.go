package reconciler

import (
	"time"

	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/logger"

	"gorm.io/gorm"
)

// Coordinator is the lease-based exclusive-processing primitive shared by the
// live webhook path and every janitor sweep. A claim is one conditional
// update; there is no lock table and no in-process lock. A crashed worker's
// claim self-expires after the TTL and the row becomes claimable again.
type Coordinator struct {
	db           *gorm.DB
	leaseSeconds int
}

func NewCoordinator(gormDB *gorm.DB, leaseSeconds int) *Coordinator {
	return &Coordinator{
		db:           gormDB,
		leaseSeconds: leaseSeconds,
	}
}

func (c *Coordinator) LeaseDuration() time.Duration {
	return time.Duration(c.leaseSeconds) * time.Second
}

// ClaimEvent takes the processing lease on one webhook event row. Returns
// false when another worker holds an unexpired lease.
func (c *Coordinator) ClaimEvent(eventID uint, workerID string) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(c.LeaseDuration())

	result := c.db.Model(&db.WebhookEvent{}).
		Where("id = ? AND (claim_expires_at IS NULL OR claim_expires_at < ?)", eventID, now).
		UpdateColumns(map[string]interface{}{
			"claimed_by":       workerID,
			"claimed_at":       &now,
			"claim_expires_at": &expiresAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseEvent gives the lease back. Guarded by claimed_by so a worker whose
// lease expired and was stolen can never release the thief's claim.
func (c *Coordinator) ReleaseEvent(eventID uint, workerID string) error {
	result := c.db.Model(&db.WebhookEvent{}).
		Where("id = ? AND claimed_by = ?", eventID, workerID).
		UpdateColumns(map[string]interface{}{
			"claimed_by":       "",
			"claim_expires_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		logger.Logger.Debug().
			Uint("event_id", eventID).
			Str("worker_id", workerID).
			Msg("Event lease was not held at release time")
	}
	return nil
}

// ClaimAttempt takes the processing lease on one payment attempt row. Lease
// writes bypass gorm's timestamp tracking: updated_at is the staleness signal
// for the janitor sweeps and taking a lease is not activity.
func (c *Coordinator) ClaimAttempt(attemptID uint, workerID string) (bool, error) {
	now := time.Now()
	claimedUntil := now.Add(c.LeaseDuration())

	result := c.db.Model(&db.PaymentAttempt{}).
		Where("id = ? AND (claimed_until IS NULL OR claimed_until < ?)", attemptID, now).
		UpdateColumns(map[string]interface{}{
			"claimed_by":    workerID,
			"claimed_until": &claimedUntil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (c *Coordinator) ReleaseAttempt(attemptID uint, workerID string) error {
	result := c.db.Model(&db.PaymentAttempt{}).
		Where("id = ? AND claimed_by = ?", attemptID, workerID).
		UpdateColumns(map[string]interface{}{
			"claimed_by":    "",
			"claimed_until": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		logger.Logger.Debug().
			Uint("attempt_id", attemptID).
			Str("worker_id", workerID).
			Msg("Attempt lease was not held at release time")
	}
	return nil
}
