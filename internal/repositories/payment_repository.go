package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pasarela/internal/models/db_models"
	"pasarela/pkg/utils"
)

// TransitionOptions decorates a status change with its provenance. EventType
// and Actor land on the history row; the rest on the payment itself.
type TransitionOptions struct {
	ResponseCode      *int
	AuthorizationCode string
	Reason            string
	EventType         string
	Actor             db_models.ActorType
	// Dispute unlocks the chargeback edges (AUTHORIZED<->FAILED) that the
	// forward machine forbids.
	Dispute bool
}

// ListFilter narrows the operator listing. Zero values mean "any".
type ListFilter struct {
	CompanyID uuid.UUID
	Provider  string
	Status    string
	BuyOrder  string
	Limit     int
	Offset    int
}

type PaymentRepositoryInterface interface {
	UpsertOrder(ctx context.Context, companyID uuid.UUID, buyOrder string, expectedAmount *int64, currency string) (*db_models.PaymentOrder, error)
	// InsertPayment persists a new PENDING attempt. When the (company,
	// idempotency key) unique index rejects the row, the already-stored
	// attempt is returned with created=false: the index is the serialization
	// point for concurrent retries.
	InsertPayment(ctx context.Context, payment *db_models.Payment) (created bool, existing *db_models.Payment, err error)
	AttachProviderSession(ctx context.Context, paymentID uuid.UUID, token, redirectURL string, refs map[string]string) error
	MarkCreateFailed(ctx context.Context, paymentID uuid.UUID, reason string) error
	SetProviderRefs(ctx context.Context, paymentID uuid.UUID, refs map[string]string) error

	// UpdateStatusByToken applies one state-machine transition and appends
	// the history row in the same transaction. changed=false means the
	// payment already carried the target status (idempotent replay).
	UpdateStatusByToken(ctx context.Context, provider db_models.ProviderName, token string, to db_models.PaymentStatus, opts TransitionOptions) (payment *db_models.Payment, changed bool, err error)

	// InsertRefund writes the refund row and, for succeeded refunds, bumps
	// amount_refunded_minor and flips the payment to REFUNDED at 100%,
	// all inside one transaction with the payment row locked.
	InsertRefund(ctx context.Context, paymentID uuid.UUID, amountMinor int64, status db_models.RefundStatus, providerRefundID, reason string, opts TransitionOptions) (*db_models.Refund, *db_models.Payment, error)

	RecordProviderEvent(ctx context.Context, event *db_models.ProviderEventLog, token string) error

	// HasRefund dedups webhook-announced refunds against ones already
	// recorded through the API path.
	HasRefund(ctx context.Context, paymentID uuid.UUID, providerRefundID string) (bool, error)

	FindByID(ctx context.Context, id uuid.UUID) (*db_models.Payment, error)
	FindByToken(ctx context.Context, provider db_models.ProviderName, token string) (*db_models.Payment, error)
	FindByIdempotencyKey(ctx context.Context, companyID uuid.UUID, key string) (*db_models.Payment, error)
	// FindByProviderRef resolves a payment from a PSP identifier recorded in
	// provider_metadata (payment_intent_id, capture_id).
	FindByProviderRef(ctx context.Context, provider db_models.ProviderName, refKey, refValue string) (*db_models.Payment, error)

	ListPayments(ctx context.Context, filter ListFilter) ([]db_models.Payment, error)
	AbandonStalePending(ctx context.Context, before int64) (int64, error)
}

func NewPaymentRepository(db *gorm.DB) PaymentRepositoryInterface {
	return &PaymentRepository{db: db}
}

type PaymentRepository struct {
	db *gorm.DB
}

func (r *PaymentRepository) UpsertOrder(ctx context.Context, companyID uuid.UUID, buyOrder string, expectedAmount *int64, currency string) (*db_models.PaymentOrder, error) {
	order := db_models.PaymentOrder{
		CompanyID:           companyID,
		BuyOrder:            buyOrder,
		Status:              db_models.OrderStatusOpen,
		AmountExpectedMinor: expectedAmount,
		Currency:            currency,
		Metadata:            datatypes.JSON([]byte("{}")),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}, {Name: "buy_order"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"currency":              currency,
			"amount_expected_minor": expectedAmount,
			"updated_at":            time.Now().Unix(),
		}),
	}).Create(&order).Error
	if err != nil {
		return nil, err
	}
	// Re-read to get the surviving row's id on the conflict path.
	var saved db_models.PaymentOrder
	if err := r.db.WithContext(ctx).
		Where("company_id = ? AND buy_order = ?", companyID, buyOrder).
		First(&saved).Error; err != nil {
		return nil, err
	}
	return &saved, nil
}

func (r *PaymentRepository) InsertPayment(ctx context.Context, payment *db_models.Payment) (bool, *db_models.Payment, error) {
	err := r.db.WithContext(ctx).Create(payment).Error
	if err == nil {
		return true, payment, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) && payment.IdempotencyKey != nil {
		existing, findErr := r.FindByIdempotencyKey(ctx, payment.CompanyID, *payment.IdempotencyKey)
		if findErr != nil {
			return false, nil, findErr
		}
		if existing != nil {
			return false, existing, nil
		}
	}
	return false, nil, err
}

func (r *PaymentRepository) AttachProviderSession(ctx context.Context, paymentID uuid.UUID, token, redirectURL string, refs map[string]string) error {
	updates := map[string]interface{}{
		"token":        token,
		"redirect_url": redirectURL,
		"updated_at":   time.Now().Unix(),
	}
	if len(refs) > 0 {
		metadata, err := mergeRefs(datatypes.JSON([]byte("{}")), refs)
		if err != nil {
			return err
		}
		updates["provider_metadata"] = metadata
	}
	return r.db.WithContext(ctx).Model(&db_models.Payment{}).
		Where("id = ?", paymentID).
		Updates(updates).Error
}

func (r *PaymentRepository) MarkCreateFailed(ctx context.Context, paymentID uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).Model(&db_models.Payment{}).
		Where("id = ?", paymentID).
		Updates(map[string]interface{}{
			"status_reason": reason,
			"updated_at":    time.Now().Unix(),
		}).Error
}

func (r *PaymentRepository) SetProviderRefs(ctx context.Context, paymentID uuid.UUID, refs map[string]string) error {
	if len(refs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment db_models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", paymentID).
			First(&payment).Error; err != nil {
			return err
		}
		merged, err := mergeRefs(payment.ProviderMetadata, refs)
		if err != nil {
			return err
		}
		return tx.Model(&db_models.Payment{}).
			Where("id = ?", paymentID).
			Update("provider_metadata", merged).Error
	})
}

func (r *PaymentRepository) UpdateStatusByToken(ctx context.Context, provider db_models.ProviderName, token string, to db_models.PaymentStatus, opts TransitionOptions) (*db_models.Payment, bool, error) {
	var payment db_models.Payment
	var changed bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("provider = ? AND token = ?", provider, token).
			First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrPaymentNotFound
			}
			return err
		}

		if payment.Status == to {
			return nil // redelivery of a transition already applied
		}
		legal := db_models.CanTransition(payment.Status, to) ||
			(opts.Dispute && db_models.CanDisputeTransition(payment.Status, to))
		if !legal {
			if payment.Status.Terminal() {
				return utils.ErrAlreadyProcessed
			}
			return fmt.Errorf("%w: illegal transition %s -> %s", utils.ErrValidation, payment.Status, to)
		}

		from := payment.Status
		now := time.Now().Unix()
		updates := map[string]interface{}{
			"status":     to,
			"updated_at": now,
		}
		if opts.ResponseCode != nil {
			updates["response_code"] = *opts.ResponseCode
		}
		if opts.AuthorizationCode != "" {
			updates["authorization_code"] = opts.AuthorizationCode
		}
		if opts.Reason != "" {
			updates["status_reason"] = opts.Reason
		}
		switch to {
		case db_models.PaymentStatusAuthorized:
			if payment.FirstAuthorizedAt == nil {
				updates["first_authorized_at"] = now
			}
		case db_models.PaymentStatusFailed:
			updates["failed_at"] = now
		case db_models.PaymentStatusCanceled, db_models.PaymentStatusAbandoned:
			updates["canceled_at"] = now
		case db_models.PaymentStatusRefunded:
			updates["refunded_at"] = now
		}
		if err := tx.Model(&db_models.Payment{}).
			Where("id = ?", payment.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		history := db_models.PaymentStateHistory{
			PaymentID:  payment.ID,
			FromStatus: from,
			ToStatus:   to,
			EventType:  opts.EventType,
			ActorType:  opts.Actor,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}

		if to == db_models.PaymentStatusAuthorized {
			if err := tx.Model(&db_models.PaymentOrder{}).
				Where("id = ?", payment.PaymentOrderID).
				Updates(map[string]interface{}{
					"status":     db_models.OrderStatusCompleted,
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
		}

		payment.Status = to
		changed = true
		return nil
	})
	if err != nil {
		return &payment, false, err
	}
	return &payment, changed, nil
}

func (r *PaymentRepository) InsertRefund(ctx context.Context, paymentID uuid.UUID, amountMinor int64, status db_models.RefundStatus, providerRefundID, reason string, opts TransitionOptions) (*db_models.Refund, *db_models.Payment, error) {
	var refund db_models.Refund
	var payment db_models.Payment

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", paymentID).
			First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrPaymentNotFound
			}
			return err
		}

		refund = db_models.Refund{
			PaymentID:        paymentID,
			Provider:         payment.Provider,
			AmountMinor:      amountMinor,
			Status:           status,
			ProviderRefundID: providerRefundID,
			Reason:           reason,
			Payload:          datatypes.JSON([]byte("{}")),
		}
		now := time.Now().Unix()
		if status == db_models.RefundStatusSucceeded {
			refund.ConfirmedAt = &now
		}

		if status != db_models.RefundStatusSucceeded {
			// Failed/pending refunds are recorded but never touch the
			// payment's authorized state.
			return tx.Create(&refund).Error
		}

		// Re-check the cap under the row lock: a concurrent refund may have
		// consumed the balance after the caller's read.
		remaining := payment.AmountMinor - payment.AmountRefundedMinor
		if amountMinor > remaining {
			return utils.ErrRefundExceedsAvailable
		}

		if err := tx.Create(&refund).Error; err != nil {
			return err
		}

		newTotal := payment.AmountRefundedMinor + amountMinor
		updates := map[string]interface{}{
			"amount_refunded_minor": newTotal,
			"updated_at":            now,
		}
		fullyRefunded := newTotal == payment.AmountMinor
		if fullyRefunded {
			updates["status"] = db_models.PaymentStatusRefunded
			updates["refunded_at"] = now
		}
		if err := tx.Model(&db_models.Payment{}).
			Where("id = ?", payment.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		if fullyRefunded {
			history := db_models.PaymentStateHistory{
				PaymentID:  payment.ID,
				FromStatus: payment.Status,
				ToStatus:   db_models.PaymentStatusRefunded,
				EventType:  opts.EventType,
				ActorType:  opts.Actor,
			}
			if err := tx.Create(&history).Error; err != nil {
				return err
			}
			payment.Status = db_models.PaymentStatusRefunded
		}
		payment.AmountRefundedMinor = newTotal
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &refund, &payment, nil
}

func (r *PaymentRepository) RecordProviderEvent(ctx context.Context, event *db_models.ProviderEventLog, token string) error {
	if token != "" && event.PaymentID == nil {
		var payment db_models.Payment
		if err := r.db.WithContext(ctx).
			Select("id").
			Where("token = ?", token).
			First(&payment).Error; err == nil {
			event.PaymentID = &payment.ID
		}
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *PaymentRepository) HasRefund(ctx context.Context, paymentID uuid.UUID, providerRefundID string) (bool, error) {
	if providerRefundID == "" {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&db_models.Refund{}).
		Where("payment_id = ? AND provider_refund_id = ?", paymentID, providerRefundID).
		Count(&count).Error
	return count > 0, err
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*db_models.Payment, error) {
	var payment db_models.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) FindByToken(ctx context.Context, provider db_models.ProviderName, token string) (*db_models.Payment, error) {
	var payment db_models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND token = ?", provider, token).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, companyID uuid.UUID, key string) (*db_models.Payment, error) {
	var payment db_models.Payment
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND idempotency_key = ?", companyID, key).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) FindByProviderRef(ctx context.Context, provider db_models.ProviderName, refKey, refValue string) (*db_models.Payment, error) {
	var payment db_models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_metadata ->> ? = ?", provider, refKey, refValue).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) ListPayments(ctx context.Context, filter ListFilter) ([]db_models.Payment, error) {
	query := r.db.WithContext(ctx).Model(&db_models.Payment{}).Order("created_at DESC")
	if filter.CompanyID != uuid.Nil {
		query = query.Where("company_id = ?", filter.CompanyID)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.BuyOrder != "" {
		query = query.Where("buy_order = ?", filter.BuyOrder)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var payments []db_models.Payment
	err := query.Limit(limit).Offset(filter.Offset).Find(&payments).Error
	return payments, err
}

// AbandonStalePending closes out PENDING attempts the buyer walked away from.
// Each one goes through the normal transition path so history stays complete.
func (r *PaymentRepository) AbandonStalePending(ctx context.Context, before int64) (int64, error) {
	var stale []db_models.Payment
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", db_models.PaymentStatusPending, before).
		Find(&stale).Error; err != nil {
		return 0, err
	}
	var count int64
	for _, payment := range stale {
		if payment.Token == nil {
			continue
		}
		_, changed, err := r.UpdateStatusByToken(ctx, payment.Provider, *payment.Token, db_models.PaymentStatusAbandoned, TransitionOptions{
			EventType: "stale_pending_sweep",
			Actor:     db_models.ActorOperator,
		})
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

func mergeRefs(existing datatypes.JSON, refs map[string]string) (datatypes.JSON, error) {
	merged := map[string]any{}
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &merged)
	}
	for k, v := range refs {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}
