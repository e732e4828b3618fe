package db

import (
	"time"

	"gorm.io/datatypes"
)

type Order struct {
	ID               uint
	Currency         int    // ISO-4217 numeric
	TotalAmount      int64  // minor units
	Provider         string `gorm:"index"`
	PaymentStatus    string `gorm:"index"`
	Status           string
	InventoryStatus  string
	ChargeReference  string
	ProviderReason   string
	ProviderMetadata datatypes.JSON
	StockRestored    bool
	StockRestoredAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type PaymentAttempt struct {
	ID                 uint
	OrderID            uint  `gorm:"index"`
	Order              Order `gorm:"constraint:OnDelete:CASCADE;"`
	Provider           string
	AttemptNumber      int
	State              string `gorm:"index"`
	ExpectedAmount     int64  // minor units
	InvoiceReference   string `gorm:"index"`
	ProviderModifiedAt *time.Time
	LastErrorCode      string
	LastErrorMessage   string
	FinalizedAt        *time.Time
	ClaimedBy          string
	ClaimedUntil       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type WebhookEvent struct {
	ID                  uint
	Provider            string
	EventKey            string `gorm:"uniqueIndex;not null"`
	PayloadHash         string `gorm:"index;not null"`
	InvoiceReference    string `gorm:"index"`
	Status              string
	Amount              int64
	Currency            int
	Reference           string
	RawPayload          datatypes.JSON
	ProviderModifiedAt  *time.Time
	ReceivedAt          time.Time
	AppliedAt           *time.Time
	AppliedResult       string `gorm:"index"`
	AppliedErrorCode    string
	AppliedErrorMessage string
	AttemptID           *uint
	OrderID             *uint
	ClaimedBy           string
	ClaimedAt           *time.Time
	ClaimExpiresAt      *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// InventoryMove is the restock ledger: unique per (order, product, direction)
// so a repeated release is a no-op, never a double restock.
type InventoryMove struct {
	ID        uint
	OrderID   uint   `gorm:"uniqueIndex:idx_inventory_moves_order_product_direction,priority:1"`
	ProductID uint   `gorm:"uniqueIndex:idx_inventory_moves_order_product_direction,priority:2"`
	Direction string `gorm:"uniqueIndex:idx_inventory_moves_order_product_direction,priority:3"`
	Quantity  int
	Reason    string
	WorkerID  string
	CreatedAt time.Time
}
