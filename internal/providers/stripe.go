package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"

	"pasarela/internal/models/db_models"
	"pasarela/pkg/utils"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeProvider drives Stripe Checkout: create opens a Checkout Session,
// commit polls the session's payment intent. The authoritative terminal
// signal for Stripe is the webhook; commit exists for the return-URL path.
type StripeProvider struct {
	api    *client.API
	sink   EventSink
	logger *zap.Logger
}

func NewStripeProvider(cfg StripeConfig, sink EventSink, logger *zap.Logger) *StripeProvider {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeProvider{api: api, sink: sink, logger: logger}
}

func (s *StripeProvider) Name() db_models.ProviderName { return db_models.ProviderStripe }

func (s *StripeProvider) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	successURL := params.SuccessURL
	if successURL == "" {
		successURL = params.ReturnURL
	}
	cancelURL := params.CancelURL
	if cancelURL == "" {
		cancelURL = params.ReturnURL
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(params.Currency)),
					UnitAmount: stripe.Int64(params.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(params.BuyOrder),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	sessionParams.Context = ctx
	sessionParams.AddMetadata("buy_order", params.BuyOrder)
	sessionParams.AddMetadata("payment_id", params.SessionID)

	start := time.Now()
	session, err := s.api.CheckoutSessions.New(sessionParams)
	s.record(ctx, "create", "", map[string]any{
		"buy_order": params.BuyOrder,
		"amount":    params.AmountMinor,
		"currency":  params.Currency,
	}, session, err, time.Since(start))
	if err != nil {
		return nil, mapStripeError(err)
	}

	s.logger.Info("stripe session created",
		zap.String("buy_order", params.BuyOrder),
		zap.String("token", session.ID),
	)
	return &CreateResult{RedirectURL: session.URL, Token: session.ID}, nil
}

func (s *StripeProvider) Commit(ctx context.Context, token string) (*CommitResult, error) {
	session, err := s.retrieve(ctx, "commit", token)
	if err != nil {
		return nil, mapStripeError(err)
	}

	paid := session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	if !paid && session.PaymentIntent != nil {
		paid = session.PaymentIntent.Status == stripe.PaymentIntentStatusSucceeded
	}

	result := &CommitResult{Outcome: OutcomeFailed, ResponseCode: -1}
	if paid {
		result.Outcome = OutcomeAuthorized
		result.ResponseCode = 0
	}
	if session.PaymentIntent != nil {
		result.ProviderRefs = map[string]string{"payment_intent_id": session.PaymentIntent.ID}
	}
	s.logger.Info("stripe session status",
		zap.String("token", token),
		zap.Int("response_code", result.ResponseCode),
	)
	return result, nil
}

func (s *StripeProvider) Status(ctx context.Context, token string) (*db_models.PaymentStatus, error) {
	session, err := s.retrieve(ctx, "status", token)
	if err != nil {
		return nil, nil
	}

	var mapped db_models.PaymentStatus
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		mapped = db_models.PaymentStatusAuthorized
	case session.Status == stripe.CheckoutSessionStatusExpired:
		mapped = db_models.PaymentStatusCanceled
	case session.Status == stripe.CheckoutSessionStatusOpen:
		mapped = db_models.PaymentStatusPending
	case session.Status == stripe.CheckoutSessionStatusComplete:
		// Completed but not yet paid: asynchronous payment method still settling.
		mapped = db_models.PaymentStatusToConfirm
	default:
		return nil, nil
	}
	return &mapped, nil
}

func (s *StripeProvider) Refund(ctx context.Context, token string, amountMinor int64) (*RefundResult, error) {
	session, err := s.retrieve(ctx, "refund_lookup", token)
	if err != nil {
		return nil, mapStripeError(err)
	}
	if session.PaymentIntent == nil {
		return nil, fmt.Errorf("%w: session %s has no payment intent", utils.ErrProviderRejected, token)
	}

	refundParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(session.PaymentIntent.ID),
		Amount:        stripe.Int64(amountMinor),
	}
	refundParams.Context = ctx

	start := time.Now()
	refund, err := s.api.Refunds.New(refundParams)
	s.record(ctx, "refund", token, map[string]any{
		"payment_intent": session.PaymentIntent.ID,
		"amount":         amountMinor,
	}, refund, err, time.Since(start))
	if err != nil {
		return nil, mapStripeRefundError(err)
	}

	status := db_models.RefundStatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = db_models.RefundStatusSucceeded
	case stripe.RefundStatusFailed:
		status = db_models.RefundStatusFailed
	case stripe.RefundStatusCanceled:
		status = db_models.RefundStatusCanceled
	}
	return &RefundResult{RefundID: refund.ID, Status: status}, nil
}

func (s *StripeProvider) retrieve(ctx context.Context, operation, token string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	start := time.Now()
	session, err := s.api.CheckoutSessions.Get(token, params)
	s.record(ctx, operation, token, nil, session, err, time.Since(start))
	return session, err
}

func (s *StripeProvider) record(ctx context.Context, operation, token string, request map[string]any, response any, err error, latency time.Duration) {
	ev := CallEvent{
		Provider:    db_models.ProviderStripe,
		Operation:   operation,
		Token:       token,
		RequestBody: request,
		Err:         err,
		Latency:     latency,
	}
	switch v := response.(type) {
	case *stripe.CheckoutSession:
		if v != nil {
			ev.ResponseBody = map[string]any{
				"id":             v.ID,
				"status":         v.Status,
				"payment_status": v.PaymentStatus,
			}
		}
	case *stripe.Refund:
		if v != nil {
			ev.ResponseBody = map[string]any{"id": v.ID, "status": v.Status}
		}
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := stripeErr.HTTPStatusCode
		ev.Status = &code
	}
	s.sink.Record(ctx, ev)
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: stripe: %s", utils.ErrProviderUnavailable, stripeErr.Msg)
		}
		if strings.Contains(string(stripeErr.Code), "currency") {
			return fmt.Errorf("%w: stripe: %s", utils.ErrUnsupportedCurrency, stripeErr.Msg)
		}
		return fmt.Errorf("%w: stripe: %s", utils.ErrProviderRejected, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", utils.ErrProviderUnavailable, err)
}

func mapStripeRefundError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Code {
		case stripe.ErrorCodeChargeAlreadyRefunded:
			return utils.ErrAlreadyRefunded
		case stripe.ErrorCodeAmountTooLarge:
			return utils.ErrRefundExceedsAvailable
		}
	}
	return mapStripeError(err)
}
