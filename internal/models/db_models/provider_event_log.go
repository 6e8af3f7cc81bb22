package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProviderEventLog records one outbound PSP call, success or failure, when the
// event log is enabled. Bodies are sanitized of secrets before insert.
type ProviderEventLog struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey"`
	PaymentID *uuid.UUID   `gorm:"type:uuid;index"`
	Provider  ProviderName `gorm:"size:16;not null;index"`
	Operation string       `gorm:"size:32;not null"`
	Direction string       `gorm:"size:16;not null;default:outbound"`

	RequestURL   string         `gorm:"size:2048"`
	RequestBody  datatypes.JSON `gorm:"type:jsonb;default:'{}'"`
	ResponseBody datatypes.JSON `gorm:"type:jsonb;default:'{}'"`

	ResponseStatus *int
	ErrorMessage   string `gorm:"size:1024"`
	LatencyMs      int64  `gorm:"not null"`

	CreatedAt int64 `gorm:"autoCreateTime"`
}

func (ProviderEventLog) TableName() string { return "provider_event_log" }

func (e *ProviderEventLog) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
