package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
	OrderStatusPartial   OrderStatus = "PARTIAL"
)

// PaymentOrder groups the checkout attempts that share a buy_order. One row
// per (company_id, buy_order); created on the first attempt and reused after.
type PaymentOrder struct {
	BaseModel
	CompanyID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_orders_company_buy_order"`
	BuyOrder  string    `gorm:"size:255;not null;uniqueIndex:idx_orders_company_buy_order"`

	Status OrderStatus `gorm:"size:16;not null;default:OPEN;index"`

	// Expected totals are optional; attempts carry the charged amount.
	AmountExpectedMinor *int64
	Currency            string `gorm:"size:3"`

	Metadata datatypes.JSON `gorm:"type:jsonb;default:'{}'"`

	Company  Company   `gorm:"foreignKey:CompanyID"`
	Payments []Payment `gorm:"foreignKey:PaymentOrderID;constraint:OnDelete:CASCADE"`
}
