package db_models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorAPI      ActorType = "api"
	ActorWebhook  ActorType = "webhook"
	ActorOperator ActorType = "operator"
)

// PaymentStateHistory is the append-only audit log. A row is written in the
// same transaction as every status change; rows are never updated or deleted.
type PaymentStateHistory struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey"`
	PaymentID  uuid.UUID     `gorm:"type:uuid;not null;index"`
	FromStatus PaymentStatus `gorm:"size:16;not null"`
	ToStatus   PaymentStatus `gorm:"size:16;not null"`
	EventType  string        `gorm:"size:64"`
	ActorType  ActorType     `gorm:"size:16;not null"`
	CreatedAt  int64         `gorm:"autoCreateTime"`

	Payment Payment `gorm:"foreignKey:PaymentID"`
}

func (PaymentStateHistory) TableName() string { return "payment_state_history" }

func (h *PaymentStateHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
