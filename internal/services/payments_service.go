package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pasarela/internal/infra"
	"pasarela/internal/models/db_models"
	"pasarela/internal/models/request_models"
	"pasarela/internal/models/response_models"
	"pasarela/internal/providers"
	"pasarela/internal/repositories"
	"pasarela/pkg/utils"
)

// ServiceConfig carries the request-independent knobs of the orchestrator.
type ServiceConfig struct {
	// PublicBaseURL builds the default provider return URL when the client
	// supplies none, e.g. https://pay.example.com.
	PublicBaseURL string
}

// CommitOutcome is what the return controller needs to either redirect the
// browser or answer JSON: the terminal status plus the redirect targets the
// client registered at creation time.
type CommitOutcome struct {
	PaymentID    string
	BuyOrder     string
	Status       db_models.PaymentStatus
	ResponseCode *int
	SuccessURL   string
	FailureURL   string
	CancelURL    string
}

type PaymentsServiceInterface interface {
	Create(ctx context.Context, companyID uuid.UUID, req request_models.CreatePaymentRequest, idempotencyKey string) (*response_models.CreatePaymentResponse, error)
	CommitReturn(ctx context.Context, provider, token string, canceled bool) (*CommitOutcome, error)
	GetStatus(ctx context.Context, companyID uuid.UUID, provider, token string) (*response_models.PaymentStatusResponse, error)
	Refund(ctx context.Context, companyID uuid.UUID, provider, token string, amountMinor int64, reason string) (*response_models.RefundResponse, error)
	ReconcileStatus(ctx context.Context, provider, token string) (*response_models.PaymentStatusResponse, error)
	List(ctx context.Context, filter repositories.ListFilter) ([]response_models.PaymentStatusResponse, error)
	AbandonStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type paymentsService struct {
	repo     repositories.PaymentRepositoryInterface
	registry *providers.Registry
	cfg      ServiceConfig
	metrics  *infra.Metrics
	logger   *zap.Logger
}

func NewPaymentsService(
	repo repositories.PaymentRepositoryInterface,
	registry *providers.Registry,
	cfg ServiceConfig,
	metrics *infra.Metrics,
	logger *zap.Logger,
) PaymentsServiceInterface {
	return &paymentsService{
		repo:     repo,
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *paymentsService) Create(ctx context.Context, companyID uuid.UUID, req request_models.CreatePaymentRequest, idempotencyKey string) (*response_models.CreatePaymentResponse, error) {
	if err := utils.ValidateAmountMinor(req.AmountMinor); err != nil {
		return nil, err
	}
	currency, err := utils.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	key, err := utils.NormalizeIdempotencyKey(idempotencyKey)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	// Replay before touching the PSP: at most one PSP-side transaction per
	// idempotency key.
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, companyID, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("idempotent create replay",
				zap.String("buy_order", existing.BuyOrder),
				zap.String("idempotency_key", key),
			)
			return createResponseFrom(existing), nil
		}
	}

	order, err := s.repo.UpsertOrder(ctx, companyID, req.BuyOrder, &req.AmountMinor, currency)
	if err != nil {
		return nil, err
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = fmt.Sprintf("%s/api/payments/%s/return", s.cfg.PublicBaseURL, adapter.Name())
	}

	payment := &db_models.Payment{
		PaymentOrderID: order.ID,
		CompanyID:      companyID,
		BuyOrder:       req.BuyOrder,
		AmountMinor:    req.AmountMinor,
		Currency:       currency,
		Provider:       adapter.Name(),
		PaymentType:    req.PaymentType,
		Status:         db_models.PaymentStatusPending,
		ReturnURL:      returnURL,
		SuccessURL:     req.SuccessURL,
		FailureURL:     req.FailureURL,
		CancelURL:      req.CancelURL,
	}
	if key != "" {
		payment.IdempotencyKey = &key
	}

	created, stored, err := s.repo.InsertPayment(ctx, payment)
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent request with the same key won the insert race.
		return createResponseFrom(stored), nil
	}

	result, err := adapter.Create(ctx, providers.CreateParams{
		BuyOrder:    req.BuyOrder,
		SessionID:   payment.ID.String(),
		AmountMinor: req.AmountMinor,
		Currency:    currency,
		ReturnURL:   returnURL,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		// Keep the attempt on record so retries can be diagnosed.
		if markErr := s.repo.MarkCreateFailed(ctx, payment.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to record create failure",
				zap.String("payment_id", payment.ID.String()),
				zap.Error(markErr),
			)
		}
		return nil, err
	}

	if err := s.repo.AttachProviderSession(ctx, payment.ID, result.Token, result.RedirectURL, nil); err != nil {
		return nil, err
	}
	s.metrics.PaymentsCreated.WithLabelValues(string(adapter.Name())).Inc()

	payment.Token = &result.Token
	payment.RedirectURL = result.RedirectURL
	resp := createResponseFrom(payment)
	if len(result.FormFields) > 0 {
		resp.Redirect.FormFields = result.FormFields
	}
	return resp, nil
}

func (s *paymentsService) CommitReturn(ctx context.Context, provider, token string, canceled bool) (*CommitOutcome, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByToken(ctx, adapter.Name(), token)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, utils.ErrPaymentNotFound
	}

	if payment.Status.Terminal() {
		// Duplicate return after the verdict landed: answer from storage,
		// no second commit against the PSP.
		return outcomeFrom(payment), nil
	}

	if canceled {
		updated, _, err := s.repo.UpdateStatusByToken(ctx, adapter.Name(), token, db_models.PaymentStatusCanceled, repositories.TransitionOptions{
			EventType: "return_cancel",
			Actor:     db_models.ActorAPI,
		})
		if err != nil && !errors.Is(err, utils.ErrAlreadyProcessed) {
			return nil, err
		}
		return outcomeFrom(updated), nil
	}

	result, err := adapter.Commit(ctx, token)
	if err != nil {
		if errors.Is(err, utils.ErrAlreadyProcessed) {
			current, findErr := s.repo.FindByToken(ctx, adapter.Name(), token)
			if findErr != nil {
				return nil, findErr
			}
			return outcomeFrom(current), nil
		}
		return nil, err
	}

	to := db_models.PaymentStatusFailed
	if result.Outcome == providers.OutcomeAuthorized {
		to = db_models.PaymentStatusAuthorized
	}
	code := result.ResponseCode
	updated, _, err := s.repo.UpdateStatusByToken(ctx, adapter.Name(), token, to, repositories.TransitionOptions{
		ResponseCode:      &code,
		AuthorizationCode: result.AuthorizationCode,
		EventType:         "return_commit",
		Actor:             db_models.ActorAPI,
	})
	if err != nil {
		if errors.Is(err, utils.ErrAlreadyProcessed) {
			return outcomeFrom(updated), nil
		}
		return nil, err
	}
	if len(result.ProviderRefs) > 0 {
		if refErr := s.repo.SetProviderRefs(ctx, updated.ID, result.ProviderRefs); refErr != nil {
			s.logger.Warn("failed to store provider refs",
				zap.String("payment_id", updated.ID.String()),
				zap.Error(refErr),
			)
		}
	}
	s.logger.Info("payment committed",
		zap.String("provider", provider),
		zap.String("token", token),
		zap.String("status", string(updated.Status)),
		zap.Int("response_code", result.ResponseCode),
	)
	return outcomeFrom(updated), nil
}

func (s *paymentsService) GetStatus(ctx context.Context, companyID uuid.UUID, provider, token string) (*response_models.PaymentStatusResponse, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByToken(ctx, adapter.Name(), token)
	if err != nil {
		return nil, err
	}
	if payment == nil || (companyID != uuid.Nil && payment.CompanyID != companyID) {
		return nil, utils.ErrPaymentNotFound
	}
	return statusResponseFrom(payment), nil
}

func (s *paymentsService) Refund(ctx context.Context, companyID uuid.UUID, provider, token string, amountMinor int64, reason string) (*response_models.RefundResponse, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByToken(ctx, adapter.Name(), token)
	if err != nil {
		return nil, err
	}
	if payment == nil || (companyID != uuid.Nil && payment.CompanyID != companyID) {
		return nil, utils.ErrPaymentNotFound
	}

	if payment.Status != db_models.PaymentStatusAuthorized && payment.Status != db_models.PaymentStatusRefunded {
		return nil, utils.ErrNotRefundable
	}
	remaining := payment.AmountMinor - payment.AmountRefundedMinor
	if remaining <= 0 {
		return nil, utils.ErrAlreadyRefunded
	}
	if amountMinor == 0 {
		amountMinor = remaining
	}
	if amountMinor < 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", utils.ErrValidation)
	}
	if amountMinor > remaining {
		return nil, utils.ErrRefundExceedsAvailable
	}

	result, err := adapter.Refund(ctx, token, amountMinor)
	if err != nil {
		// The failed attempt is recorded; the payment's state is untouched.
		if _, _, recordErr := s.repo.InsertRefund(ctx, payment.ID, amountMinor, db_models.RefundStatusFailed, "", err.Error(), repositories.TransitionOptions{
			EventType: "refund_failed",
			Actor:     db_models.ActorAPI,
		}); recordErr != nil {
			s.logger.Error("failed to record refund failure",
				zap.String("payment_id", payment.ID.String()),
				zap.Error(recordErr),
			)
		}
		return nil, err
	}

	refund, updated, err := s.repo.InsertRefund(ctx, payment.ID, amountMinor, result.Status, result.RefundID, reason, repositories.TransitionOptions{
		EventType: "refund",
		Actor:     db_models.ActorAPI,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("refund recorded",
		zap.String("provider", provider),
		zap.String("token", token),
		zap.Int64("amount", amountMinor),
		zap.String("refund_status", string(refund.Status)),
	)
	return &response_models.RefundResponse{
		RefundID:            refund.ID.String(),
		PaymentID:           updated.ID.String(),
		Status:              string(refund.Status),
		AmountMinor:         refund.AmountMinor,
		AmountRefundedMinor: updated.AmountRefundedMinor,
		PaymentStatus:       string(updated.Status),
	}, nil
}

// ReconcileStatus probes the PSP for a non-terminal payment and applies the
// observed verdict through the normal transition path.
func (s *paymentsService) ReconcileStatus(ctx context.Context, provider, token string) (*response_models.PaymentStatusResponse, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByToken(ctx, adapter.Name(), token)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, utils.ErrPaymentNotFound
	}
	if payment.Status.Terminal() {
		return statusResponseFrom(payment), nil
	}

	observed, err := adapter.Status(ctx, token)
	if err != nil || observed == nil || *observed == payment.Status {
		return statusResponseFrom(payment), nil
	}
	if !db_models.CanTransition(payment.Status, *observed) {
		return statusResponseFrom(payment), nil
	}

	updated, _, err := s.repo.UpdateStatusByToken(ctx, adapter.Name(), token, *observed, repositories.TransitionOptions{
		EventType: "status_probe",
		Actor:     db_models.ActorOperator,
	})
	if err != nil {
		return nil, err
	}
	return statusResponseFrom(updated), nil
}

func (s *paymentsService) List(ctx context.Context, filter repositories.ListFilter) ([]response_models.PaymentStatusResponse, error) {
	payments, err := s.repo.ListPayments(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]response_models.PaymentStatusResponse, 0, len(payments))
	for i := range payments {
		out = append(out, *statusResponseFrom(&payments[i]))
	}
	return out, nil
}

func (s *paymentsService) AbandonStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	return s.repo.AbandonStalePending(ctx, cutoff)
}

func createResponseFrom(payment *db_models.Payment) *response_models.CreatePaymentResponse {
	resp := &response_models.CreatePaymentResponse{
		PaymentID: payment.ID.String(),
		BuyOrder:  payment.BuyOrder,
		Status:    string(payment.Status),
	}
	if payment.Token != nil && payment.RedirectURL != "" {
		resp.Redirect = &response_models.RedirectInfo{
			URL:   payment.RedirectURL,
			Token: *payment.Token,
		}
		if payment.Provider == db_models.ProviderWebpay {
			resp.Redirect.FormFields = map[string]string{"token_ws": *payment.Token}
		}
	}
	return resp
}

func statusResponseFrom(payment *db_models.Payment) *response_models.PaymentStatusResponse {
	return &response_models.PaymentStatusResponse{
		PaymentID:           payment.ID.String(),
		BuyOrder:            payment.BuyOrder,
		Provider:            string(payment.Provider),
		Status:              string(payment.Status),
		AmountMinor:         payment.AmountMinor,
		AmountRefundedMinor: payment.AmountRefundedMinor,
		Currency:            payment.Currency,
		ResponseCode:        payment.ResponseCode,
		AuthorizationCode:   payment.AuthorizationCode,
	}
}

func outcomeFrom(payment *db_models.Payment) *CommitOutcome {
	return &CommitOutcome{
		PaymentID:    payment.ID.String(),
		BuyOrder:     payment.BuyOrder,
		Status:       payment.Status,
		ResponseCode: payment.ResponseCode,
		SuccessURL:   payment.SuccessURL,
		FailureURL:   payment.FailureURL,
		CancelURL:    payment.CancelURL,
	}
}
