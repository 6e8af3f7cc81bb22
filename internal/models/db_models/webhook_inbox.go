package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type VerificationStatus string

const (
	VerificationSuccess VerificationStatus = "SUCCESS"
	VerificationFailure VerificationStatus = "FAILURE"
)

// WebhookInbox stores every inbound PSP webhook once. The (provider, event_id)
// unique index is the dedup point for redelivered events.
type WebhookInbox struct {
	ID       uuid.UUID    `gorm:"type:uuid;primaryKey"`
	Provider ProviderName `gorm:"size:16;not null;uniqueIndex:idx_webhook_inbox_provider_event"`
	EventID  string       `gorm:"size:255;not null;uniqueIndex:idx_webhook_inbox_provider_event"`

	EventType          string             `gorm:"size:128"`
	VerificationStatus VerificationStatus `gorm:"size:16;not null"`
	Payload            datatypes.JSON     `gorm:"type:jsonb;default:'{}'"`

	RelatedPaymentID *uuid.UUID `gorm:"type:uuid;index"`
	Processed        bool       `gorm:"not null;default:false"`
	ProcessedAt      *int64

	ReceivedAt int64 `gorm:"autoCreateTime"`
}

func (WebhookInbox) TableName() string { return "webhook_inbox" }

func (w *WebhookInbox) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
