package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pasarela/internal/models/db_models"
)

type WebhookRepositoryInterface interface {
	// UpsertInbox inserts the inbox row. The (provider, event_id) unique
	// index deduplicates redeliveries: on conflict the stored row comes back
	// with isNew=false and no write happens.
	UpsertInbox(ctx context.Context, inbox *db_models.WebhookInbox) (row *db_models.WebhookInbox, isNew bool, err error)
	MarkProcessed(ctx context.Context, id uuid.UUID, relatedPaymentID *uuid.UUID) error
}

func NewWebhookRepository(db *gorm.DB) WebhookRepositoryInterface {
	return &WebhookRepository{db: db}
}

type WebhookRepository struct {
	db *gorm.DB
}

func (r *WebhookRepository) UpsertInbox(ctx context.Context, inbox *db_models.WebhookInbox) (*db_models.WebhookInbox, bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(inbox)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, false, result.Error
		}
	}
	if result.Error == nil && result.RowsAffected > 0 {
		return inbox, true, nil
	}

	var existing db_models.WebhookInbox
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", inbox.Provider, inbox.EventID).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *WebhookRepository) MarkProcessed(ctx context.Context, id uuid.UUID, relatedPaymentID *uuid.UUID) error {
	now := time.Now().Unix()
	updates := map[string]interface{}{
		"processed":    true,
		"processed_at": now,
	}
	if relatedPaymentID != nil {
		updates["related_payment_id"] = *relatedPaymentID
	}
	return r.db.WithContext(ctx).Model(&db_models.WebhookInbox{}).
		Where("id = ?", id).
		Updates(updates).Error
}
