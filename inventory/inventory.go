package inventory

import (
	"time"

	"github.com/zoryamarket/payrecon/constants"
	"github.com/zoryamarket/payrecon/db"
	"github.com/zoryamarket/payrecon/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Restocker releases previously reserved stock back to saleable inventory.
// Releasing an order that was already released is a no-op.
type Restocker interface {
	RestockOrder(orderID uint, reason string, workerID string) error
}

type inventoryService struct {
	db *gorm.DB
}

func NewInventoryService(gormDB *gorm.DB) *inventoryService {
	return &inventoryService{
		db: gormDB,
	}
}

func (svc *inventoryService) RestockOrder(orderID uint, reason string, workerID string) error {
	var reserveMoves []db.InventoryMove
	result := svc.db.Where(&db.InventoryMove{
		OrderID:   orderID,
		Direction: constants.INVENTORY_DIRECTION_RESERVE,
	}).Find(&reserveMoves)
	if result.Error != nil {
		logger.Logger.Error().Err(result.Error).
			Uint("order_id", orderID).
			Msg("Failed to list reserved inventory moves")
		return result.Error
	}

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		for _, move := range reserveMoves {
			releaseMove := db.InventoryMove{
				OrderID:   orderID,
				ProductID: move.ProductID,
				Direction: constants.INVENTORY_DIRECTION_RELEASE,
				Quantity:  move.Quantity,
				Reason:    reason,
				WorkerID:  workerID,
			}
			// the unique (order, product, direction) index makes a repeated
			// release insert a no-op instead of a double restock
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&releaseMove).Error
			if err != nil {
				return err
			}
		}

		now := time.Now()
		return tx.Model(&db.Order{}).
			Where("id = ? AND stock_restored = ?", orderID, false).
			Updates(map[string]interface{}{
				"stock_restored":    true,
				"stock_restored_at": &now,
				"inventory_status":  constants.INVENTORY_STATUS_RELEASED,
			}).Error
	})

	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("order_id", orderID).
			Str("reason", reason).
			Msg("Failed to release reserved inventory")
		return err
	}

	logger.Logger.Info().
		Uint("order_id", orderID).
		Str("reason", reason).
		Str("worker_id", workerID).
		Int("moves", len(reserveMoves)).
		Msg("Released reserved inventory")

	return nil
}
