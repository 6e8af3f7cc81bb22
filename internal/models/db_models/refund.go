package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RefundStatus string

const (
	RefundStatusRequested RefundStatus = "REQUESTED"
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusSucceeded RefundStatus = "SUCCEEDED"
	RefundStatusFailed    RefundStatus = "FAILED"
	RefundStatusCanceled  RefundStatus = "CANCELED"
	RefundStatusPartial   RefundStatus = "PARTIAL"
)

// Refund is one refund attempt against a payment. Partial refunds accumulate
// into Payment.AmountRefundedMinor; the payment status flips to REFUNDED only
// once the refunded total reaches the captured amount.
type Refund struct {
	BaseModel
	PaymentID uuid.UUID `gorm:"type:uuid;not null;index"`

	Provider    ProviderName `gorm:"size:16;not null"`
	AmountMinor int64        `gorm:"not null"`
	Status      RefundStatus `gorm:"size:16;not null"`

	ProviderRefundID string         `gorm:"size:255;index"`
	Reason           string         `gorm:"size:512"`
	Payload          datatypes.JSON `gorm:"type:jsonb;default:'{}'"`
	ConfirmedAt      *int64

	Payment Payment `gorm:"foreignKey:PaymentID"`
}
