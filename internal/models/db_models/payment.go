package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCanceled   PaymentStatus = "CANCELED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
	PaymentStatusToConfirm  PaymentStatus = "TO_CONFIRM"
	PaymentStatusAbandoned  PaymentStatus = "ABANDONED"
)

// Terminal reports whether no forward transition can leave s. The refund edge
// (AUTHORIZED -> REFUNDED) is the single exception and is handled by the
// refund path, not by forward transitions.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusAuthorized, PaymentStatusFailed, PaymentStatusCanceled,
		PaymentStatusRefunded, PaymentStatusAbandoned:
		return true
	}
	return false
}

// forwardTransitions is the one-way state machine for checkout attempts.
// The refund edge (AUTHORIZED -> REFUNDED) lives on the refund path and is
// deliberately absent here.
var forwardTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusAuthorized, PaymentStatusFailed, PaymentStatusCanceled,
		PaymentStatusToConfirm, PaymentStatusAbandoned,
	},
	PaymentStatusToConfirm: {PaymentStatusAuthorized, PaymentStatusFailed},
}

// CanTransition reports whether from -> to is a legal forward transition.
func CanTransition(from, to PaymentStatus) bool {
	for _, allowed := range forwardTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanDisputeTransition covers the chargeback edges: a dispute pulls an
// authorized payment to FAILED, and a dispute won (funds reinstated) puts it
// back. Only webhook dispute events may take these.
func CanDisputeTransition(from, to PaymentStatus) bool {
	switch {
	case from == PaymentStatusAuthorized && to == PaymentStatusFailed:
		return true
	case from == PaymentStatusFailed && to == PaymentStatusAuthorized:
		return true
	}
	return false
}

type ProviderName string

const (
	ProviderWebpay ProviderName = "webpay"
	ProviderStripe ProviderName = "stripe"
	ProviderPayPal ProviderName = "paypal"
)

// Payment is one checkout attempt against a PSP. Rows are never deleted;
// terminal transitions stamp their timestamp columns for the audit trail.
type Payment struct {
	BaseModel
	PaymentOrderID uuid.UUID `gorm:"type:uuid;not null;index"`
	CompanyID      uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_payments_company_idem_key"`
	BuyOrder       string    `gorm:"size:255;not null;index"`

	AmountMinor         int64  `gorm:"not null"`
	AmountRefundedMinor int64  `gorm:"not null;default:0"`
	Currency            string `gorm:"size:3;not null"`

	Provider    ProviderName  `gorm:"size:16;not null;uniqueIndex:idx_payments_provider_token"`
	PaymentType string        `gorm:"size:32"`
	Status      PaymentStatus `gorm:"size:16;not null;default:PENDING;index"`

	// PSP session/order id. Unique per provider once assigned; nil until the
	// adapter create succeeds.
	Token *string `gorm:"size:255;uniqueIndex:idx_payments_provider_token"`

	IdempotencyKey *string `gorm:"size:255;uniqueIndex:idx_payments_company_idem_key"`

	RedirectURL string `gorm:"size:2048"`
	ReturnURL   string `gorm:"size:2048"`
	SuccessURL  string `gorm:"size:2048"`
	FailureURL  string `gorm:"size:2048"`
	CancelURL   string `gorm:"size:2048"`

	ResponseCode      *int
	AuthorizationCode string `gorm:"size:64"`
	StatusReason      string `gorm:"size:512"`

	// PSP identifiers learned after creation (payment_intent id, capture id)
	// so webhooks can be resolved back to this row.
	ProviderMetadata datatypes.JSON `gorm:"type:jsonb;default:'{}'"`

	FirstAuthorizedAt *int64
	FailedAt          *int64
	CanceledAt        *int64
	RefundedAt        *int64

	Order   PaymentOrder `gorm:"foreignKey:PaymentOrderID"`
	Company Company      `gorm:"foreignKey:CompanyID"`
	Refunds []Refund     `gorm:"foreignKey:PaymentID"`
}
