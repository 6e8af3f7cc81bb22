package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"pasarela/internal/models/db_models"
	"pasarela/internal/providers"
	"pasarela/internal/repositories"
	"pasarela/internal/webhooks"
	"pasarela/pkg/utils"
)

// fakePaymentRepo keeps the repository contract in memory: the idempotency
// and token indexes stay unique and every transition appends history.
type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*db_models.Payment
	byKey    map[string]uuid.UUID
	byToken  map[string]uuid.UUID
	refs     map[uuid.UUID]map[string]string
	orders   map[string]*db_models.PaymentOrder
	history  []db_models.PaymentStateHistory
	refunds  []db_models.Refund
	events   int
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{
		payments: map[uuid.UUID]*db_models.Payment{},
		byKey:    map[string]uuid.UUID{},
		byToken:  map[string]uuid.UUID{},
		refs:     map[uuid.UUID]map[string]string{},
		orders:   map[string]*db_models.PaymentOrder{},
	}
}

func keyIndex(companyID uuid.UUID, key string) string {
	return companyID.String() + "/" + key
}

func tokenIndex(provider db_models.ProviderName, token string) string {
	return string(provider) + "/" + token
}

func (f *fakePaymentRepo) UpsertOrder(_ context.Context, companyID uuid.UUID, buyOrder string, expectedAmount *int64, currency string) (*db_models.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := companyID.String() + "/" + buyOrder
	if order, ok := f.orders[idx]; ok {
		order.AmountExpectedMinor = expectedAmount
		order.Currency = currency
		return order, nil
	}
	order := &db_models.PaymentOrder{
		CompanyID:           companyID,
		BuyOrder:            buyOrder,
		Status:              db_models.OrderStatusOpen,
		AmountExpectedMinor: expectedAmount,
		Currency:            currency,
	}
	order.ID = uuid.New()
	f.orders[idx] = order
	return order, nil
}

func (f *fakePaymentRepo) InsertPayment(_ context.Context, payment *db_models.Payment) (bool, *db_models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payment.IdempotencyKey != nil {
		if id, ok := f.byKey[keyIndex(payment.CompanyID, *payment.IdempotencyKey)]; ok {
			return false, f.payments[id], nil
		}
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	f.payments[payment.ID] = payment
	if payment.IdempotencyKey != nil {
		f.byKey[keyIndex(payment.CompanyID, *payment.IdempotencyKey)] = payment.ID
	}
	return true, payment, nil
}

func (f *fakePaymentRepo) AttachProviderSession(_ context.Context, paymentID uuid.UUID, token, redirectURL string, refs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[paymentID]
	if !ok {
		return utils.ErrPaymentNotFound
	}
	payment.Token = &token
	payment.RedirectURL = redirectURL
	f.byToken[tokenIndex(payment.Provider, token)] = paymentID
	for k, v := range refs {
		f.setRef(paymentID, k, v)
	}
	return nil
}

func (f *fakePaymentRepo) MarkCreateFailed(_ context.Context, paymentID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payment, ok := f.payments[paymentID]; ok {
		payment.StatusReason = reason
	}
	return nil
}

func (f *fakePaymentRepo) setRef(paymentID uuid.UUID, k, v string) {
	if f.refs[paymentID] == nil {
		f.refs[paymentID] = map[string]string{}
	}
	f.refs[paymentID][k] = v
}

func (f *fakePaymentRepo) SetProviderRefs(_ context.Context, paymentID uuid.UUID, refs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range refs {
		f.setRef(paymentID, k, v)
	}
	return nil
}

func (f *fakePaymentRepo) UpdateStatusByToken(_ context.Context, provider db_models.ProviderName, token string, to db_models.PaymentStatus, opts repositories.TransitionOptions) (*db_models.Payment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byToken[tokenIndex(provider, token)]
	if !ok {
		return nil, false, utils.ErrPaymentNotFound
	}
	payment := f.payments[id]
	if payment.Status == to {
		return payment, false, nil
	}
	legal := db_models.CanTransition(payment.Status, to) ||
		(opts.Dispute && db_models.CanDisputeTransition(payment.Status, to))
	if !legal {
		if payment.Status.Terminal() {
			return payment, false, utils.ErrAlreadyProcessed
		}
		return payment, false, fmt.Errorf("%w: illegal transition %s -> %s", utils.ErrValidation, payment.Status, to)
	}
	f.history = append(f.history, db_models.PaymentStateHistory{
		PaymentID:  payment.ID,
		FromStatus: payment.Status,
		ToStatus:   to,
		EventType:  opts.EventType,
		ActorType:  opts.Actor,
	})
	payment.Status = to
	if opts.ResponseCode != nil {
		payment.ResponseCode = opts.ResponseCode
	}
	if opts.AuthorizationCode != "" {
		payment.AuthorizationCode = opts.AuthorizationCode
	}
	return payment, true, nil
}

func (f *fakePaymentRepo) InsertRefund(_ context.Context, paymentID uuid.UUID, amountMinor int64, status db_models.RefundStatus, providerRefundID, reason string, opts repositories.TransitionOptions) (*db_models.Refund, *db_models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[paymentID]
	if !ok {
		return nil, nil, utils.ErrPaymentNotFound
	}
	refund := db_models.Refund{
		PaymentID:        paymentID,
		Provider:         payment.Provider,
		AmountMinor:      amountMinor,
		Status:           status,
		ProviderRefundID: providerRefundID,
		Reason:           reason,
	}
	refund.ID = uuid.New()
	if status != db_models.RefundStatusSucceeded {
		f.refunds = append(f.refunds, refund)
		return &refund, payment, nil
	}
	if amountMinor > payment.AmountMinor-payment.AmountRefundedMinor {
		return nil, nil, utils.ErrRefundExceedsAvailable
	}
	f.refunds = append(f.refunds, refund)
	payment.AmountRefundedMinor += amountMinor
	if payment.AmountRefundedMinor == payment.AmountMinor {
		f.history = append(f.history, db_models.PaymentStateHistory{
			PaymentID:  payment.ID,
			FromStatus: payment.Status,
			ToStatus:   db_models.PaymentStatusRefunded,
			EventType:  opts.EventType,
			ActorType:  opts.Actor,
		})
		payment.Status = db_models.PaymentStatusRefunded
	}
	return &refund, payment, nil
}

func (f *fakePaymentRepo) RecordProviderEvent(_ context.Context, _ *db_models.ProviderEventLog, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events++
	return nil
}

func (f *fakePaymentRepo) HasRefund(_ context.Context, paymentID uuid.UUID, providerRefundID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.refunds {
		if r.PaymentID == paymentID && r.ProviderRefundID == providerRefundID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePaymentRepo) FindByID(_ context.Context, id uuid.UUID) (*db_models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payments[id], nil
}

func (f *fakePaymentRepo) FindByToken(_ context.Context, provider db_models.ProviderName, token string) (*db_models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byToken[tokenIndex(provider, token)]
	if !ok {
		return nil, nil
	}
	return f.payments[id], nil
}

func (f *fakePaymentRepo) FindByIdempotencyKey(_ context.Context, companyID uuid.UUID, key string) (*db_models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[keyIndex(companyID, key)]
	if !ok {
		return nil, nil
	}
	return f.payments[id], nil
}

func (f *fakePaymentRepo) FindByProviderRef(_ context.Context, provider db_models.ProviderName, refKey, refValue string) (*db_models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, refs := range f.refs {
		if refs[refKey] == refValue && f.payments[id] != nil && f.payments[id].Provider == provider {
			return f.payments[id], nil
		}
	}
	return nil, nil
}

func (f *fakePaymentRepo) ListPayments(_ context.Context, filter repositories.ListFilter) ([]db_models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db_models.Payment
	for _, payment := range f.payments {
		if filter.CompanyID != uuid.Nil && payment.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && string(payment.Status) != filter.Status {
			continue
		}
		if filter.Provider != "" && string(payment.Provider) != filter.Provider {
			continue
		}
		out = append(out, *payment)
	}
	return out, nil
}

func (f *fakePaymentRepo) AbandonStalePending(_ context.Context, before int64) (int64, error) {
	f.mu.Lock()
	var stale []*db_models.Payment
	for _, payment := range f.payments {
		if payment.Status == db_models.PaymentStatusPending && payment.CreatedAt < before && payment.Token != nil {
			stale = append(stale, payment)
		}
	}
	f.mu.Unlock()
	var count int64
	for _, payment := range stale {
		_, changed, err := f.UpdateStatusByToken(context.Background(), payment.Provider, *payment.Token, db_models.PaymentStatusAbandoned, repositories.TransitionOptions{
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

func (f *fakePaymentRepo) historyFor(id uuid.UUID) []db_models.PaymentStateHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db_models.PaymentStateHistory
	for _, h := range f.history {
		if h.PaymentID == id {
			out = append(out, h)
		}
	}
	return out
}

// fakeWebhookRepo mirrors the inbox unique index.
type fakeWebhookRepo struct {
	mu   sync.Mutex
	rows map[string]*db_models.WebhookInbox
}

func newFakeWebhookRepo() *fakeWebhookRepo {
	return &fakeWebhookRepo{rows: map[string]*db_models.WebhookInbox{}}
}

func (f *fakeWebhookRepo) UpsertInbox(_ context.Context, inbox *db_models.WebhookInbox) (*db_models.WebhookInbox, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := string(inbox.Provider) + "/" + inbox.EventID
	if existing, ok := f.rows[idx]; ok {
		return existing, false, nil
	}
	inbox.ID = uuid.New()
	inbox.ReceivedAt = time.Now().Unix()
	f.rows[idx] = inbox
	return inbox, true, nil
}

func (f *fakeWebhookRepo) MarkProcessed(_ context.Context, id uuid.UUID, relatedPaymentID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID == id {
			row.Processed = true
			now := time.Now().Unix()
			row.ProcessedAt = &now
			row.RelatedPaymentID = relatedPaymentID
		}
	}
	return nil
}

func (f *fakeWebhookRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeProvider scripts adapter behavior and counts calls.
type fakeProvider struct {
	name db_models.ProviderName

	createResult *providers.CreateResult
	createErr    error
	commitResult *providers.CommitResult
	commitErr    error
	statusResult *db_models.PaymentStatus
	refundResult *providers.RefundResult
	refundErr    error

	createCalls int
	commitCalls int
	refundCalls int
}

func (f *fakeProvider) Name() db_models.ProviderName { return f.name }

func (f *fakeProvider) Create(_ context.Context, _ providers.CreateParams) (*providers.CreateResult, error) {
	f.createCalls++
	return f.createResult, f.createErr
}

func (f *fakeProvider) Commit(_ context.Context, _ string) (*providers.CommitResult, error) {
	f.commitCalls++
	return f.commitResult, f.commitErr
}

func (f *fakeProvider) Status(_ context.Context, _ string) (*db_models.PaymentStatus, error) {
	return f.statusResult, nil
}

func (f *fakeProvider) Refund(_ context.Context, _ string, _ int64) (*providers.RefundResult, error) {
	f.refundCalls++
	return f.refundResult, f.refundErr
}

// fakeVerifier accepts payloads whose signature header matches its secret.
type fakeVerifier struct {
	provider db_models.ProviderName
	secret   string
	event    webhooks.Event
}

func (f *fakeVerifier) Provider() db_models.ProviderName { return f.provider }

func (f *fakeVerifier) Verify(_ context.Context, req *http.Request, payload []byte) (*webhooks.Event, error) {
	if req.Header.Get("X-Signature") != f.secret {
		return nil, utils.ErrWebhookVerificationFailed
	}
	ev := f.event
	ev.Raw = payload
	return &ev, nil
}
