package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pasarela/internal/infra"
	"pasarela/internal/models/db_models"
	"pasarela/internal/models/response_models"
	"pasarela/internal/providers"
	"pasarela/internal/repositories"
	"pasarela/internal/webhooks"
	"pasarela/pkg/utils"
)

type WebhookServiceInterface interface {
	// ProcessWebhook verifies, stores and applies one inbound PSP callback.
	// Redeliveries of an already-processed event ack without touching any
	// payment. A callback for a payment this service never issued acks too,
	// so the PSP stops retrying, but stays unprocessed in the inbox.
	ProcessWebhook(ctx context.Context, provider string, req *http.Request, payload []byte) (*response_models.WebhookAckResponse, error)
}

type webhookService struct {
	payments  repositories.PaymentRepositoryInterface
	inbox     repositories.WebhookRepositoryInterface
	verifiers map[db_models.ProviderName]webhooks.Verifier
	metrics   *infra.Metrics
	logger    *zap.Logger
}

func NewWebhookService(
	payments repositories.PaymentRepositoryInterface,
	inbox repositories.WebhookRepositoryInterface,
	verifiers []webhooks.Verifier,
	metrics *infra.Metrics,
	logger *zap.Logger,
) WebhookServiceInterface {
	byName := make(map[db_models.ProviderName]webhooks.Verifier, len(verifiers))
	for _, v := range verifiers {
		byName[v.Provider()] = v
	}
	return &webhookService{
		payments:  payments,
		inbox:     inbox,
		verifiers: byName,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *webhookService) ProcessWebhook(ctx context.Context, provider string, req *http.Request, payload []byte) (*response_models.WebhookAckResponse, error) {
	name := db_models.ProviderName(strings.ToLower(provider))
	verifier, ok := s.verifiers[name]
	if !ok {
		return nil, utils.ErrUnsupportedProvider
	}

	event, err := verifier.Verify(ctx, req, payload)
	if err != nil {
		s.metrics.WebhooksReceived.WithLabelValues(string(name), "failure").Inc()
		s.storeRejected(ctx, name, payload)
		s.logger.Warn("webhook signature verification failed",
			zap.String("provider", string(name)),
			zap.Error(err),
		)
		return nil, utils.ErrWebhookVerificationFailed
	}
	s.metrics.WebhooksReceived.WithLabelValues(string(name), "success").Inc()

	row, isNew, err := s.inbox.UpsertInbox(ctx, &db_models.WebhookInbox{
		Provider:           name,
		EventID:            event.ID,
		EventType:          event.Type,
		VerificationStatus: db_models.VerificationSuccess,
		Payload:            inboxPayload(event.Raw),
	})
	if err != nil {
		return nil, err
	}
	if !isNew && row.Processed {
		s.logger.Info("webhook redelivery ignored",
			zap.String("provider", string(name)),
			zap.String("event_id", event.ID),
		)
		return &response_models.WebhookAckResponse{Received: true, Duplicate: true}, nil
	}

	var paymentID *uuid.UUID
	var applyErr error
	switch name {
	case db_models.ProviderStripe:
		paymentID, applyErr = s.applyStripeEvent(ctx, event)
	case db_models.ProviderPayPal:
		paymentID, applyErr = s.applyPayPalEvent(ctx, event)
	default:
		// Webpay has no webhooks; its verifier is never registered.
		return &response_models.WebhookAckResponse{Received: true}, nil
	}
	if applyErr != nil {
		return nil, applyErr
	}
	if paymentID == nil {
		// Unknown payment or an event type we deliberately ignore: ack so
		// the PSP stops retrying, leave the inbox row unprocessed.
		return &response_models.WebhookAckResponse{Received: true}, nil
	}

	if err := s.inbox.MarkProcessed(ctx, row.ID, paymentID); err != nil {
		s.logger.Error("failed to mark webhook processed",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
	return &response_models.WebhookAckResponse{Received: true}, nil
}

// storeRejected keeps the failed callback for forensics. Nothing downstream
// ever reads a FAILURE row as an instruction.
func (s *webhookService) storeRejected(ctx context.Context, provider db_models.ProviderName, payload []byte) {
	eventID := ""
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(payload, &probe) == nil {
		eventID = probe.ID
	}
	if eventID == "" {
		eventID = "rejected-" + uuid.NewString()
	}
	if _, _, err := s.inbox.UpsertInbox(ctx, &db_models.WebhookInbox{
		Provider:           provider,
		EventID:            eventID,
		VerificationStatus: db_models.VerificationFailure,
		Payload:            inboxPayload(payload),
	}); err != nil {
		s.logger.Error("failed to store rejected webhook", zap.Error(err))
	}
}

// --- Stripe -----------------------------------------------------------------

type stripeEventEnvelope struct {
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSessionObject struct {
	ID            string `json:"id"`
	PaymentStatus string `json:"payment_status"`
	PaymentIntent string `json:"payment_intent"`
}

type stripeIntentObject struct {
	ID string `json:"id"`
}

type stripeChargeObject struct {
	PaymentIntent string `json:"payment_intent"`
	Refunds       struct {
		Data []struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
			Status string `json:"status"`
		} `json:"data"`
	} `json:"refunds"`
}

type stripeDisputeObject struct {
	PaymentIntent string `json:"payment_intent"`
	Status        string `json:"status"`
}

func (s *webhookService) applyStripeEvent(ctx context.Context, event *webhooks.Event) (*uuid.UUID, error) {
	var envelope stripeEventEnvelope
	if err := json.Unmarshal(event.Raw, &envelope); err != nil {
		return nil, nil
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var session stripeSessionObject
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return nil, nil
		}
		to := db_models.PaymentStatusToConfirm
		if session.PaymentStatus == "paid" {
			to = db_models.PaymentStatusAuthorized
		}
		payment, err := s.transitionByToken(ctx, db_models.ProviderStripe, session.ID, to, event.Type, repositories.TransitionOptions{})
		if err != nil || payment == nil {
			return nil, err
		}
		if session.PaymentIntent != "" {
			if refErr := s.payments.SetProviderRefs(ctx, payment.ID, map[string]string{"payment_intent_id": session.PaymentIntent}); refErr != nil {
				s.logger.Warn("failed to store payment_intent ref", zap.Error(refErr))
			}
		}
		return &payment.ID, nil

	case "checkout.session.async_payment_failed":
		var session stripeSessionObject
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return nil, nil
		}
		return s.idOf(s.transitionByToken(ctx, db_models.ProviderStripe, session.ID, db_models.PaymentStatusFailed, event.Type, repositories.TransitionOptions{}))

	case "checkout.session.expired":
		var session stripeSessionObject
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return nil, nil
		}
		return s.idOf(s.transitionByToken(ctx, db_models.ProviderStripe, session.ID, db_models.PaymentStatusCanceled, event.Type, repositories.TransitionOptions{}))

	case "payment_intent.canceled", "payment_intent.payment_failed":
		var intent stripeIntentObject
		if err := json.Unmarshal(envelope.Data.Object, &intent); err != nil {
			return nil, nil
		}
		payment, err := s.payments.FindByProviderRef(ctx, db_models.ProviderStripe, "payment_intent_id", intent.ID)
		if err != nil || payment == nil || payment.Token == nil {
			return nil, err
		}
		to := db_models.PaymentStatusFailed
		if event.Type == "payment_intent.canceled" {
			to = db_models.PaymentStatusCanceled
		}
		return s.idOf(s.transitionByToken(ctx, db_models.ProviderStripe, *payment.Token, to, event.Type, repositories.TransitionOptions{}))

	case "charge.refunded":
		var charge stripeChargeObject
		if err := json.Unmarshal(envelope.Data.Object, &charge); err != nil {
			return nil, nil
		}
		payment, err := s.payments.FindByProviderRef(ctx, db_models.ProviderStripe, "payment_intent_id", charge.PaymentIntent)
		if err != nil || payment == nil {
			return nil, err
		}
		for _, r := range charge.Refunds.Data {
			if r.Status != "succeeded" {
				continue
			}
			if err := s.recordWebhookRefund(ctx, payment.ID, r.ID, r.Amount, event.Type); err != nil {
				return nil, err
			}
		}
		return &payment.ID, nil

	case "charge.dispute.created", "charge.dispute.updated", "charge.dispute.closed", "charge.dispute.funds_reinstated":
		var dispute stripeDisputeObject
		if err := json.Unmarshal(envelope.Data.Object, &dispute); err != nil {
			return nil, nil
		}
		payment, err := s.payments.FindByProviderRef(ctx, db_models.ProviderStripe, "payment_intent_id", dispute.PaymentIntent)
		if err != nil || payment == nil || payment.Token == nil {
			return nil, err
		}
		to := db_models.PaymentStatusFailed
		if event.Type == "charge.dispute.funds_reinstated" ||
			(event.Type == "charge.dispute.closed" && dispute.Status == "won") {
			to = db_models.PaymentStatusAuthorized
		}
		return s.idOf(s.transitionByToken(ctx, db_models.ProviderStripe, *payment.Token, to, event.Type, repositories.TransitionOptions{Dispute: true}))
	}

	return nil, nil
}

// --- PayPal -----------------------------------------------------------------

type paypalEventEnvelope struct {
	Resource json.RawMessage `json:"resource"`
}

type paypalCaptureResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`
	Amount   struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type paypalOrderResource struct {
	ID string `json:"id"`
}

type paypalDisputeResource struct {
	Outcome struct {
		OutcomeCode string `json:"outcome_code"`
	} `json:"outcome"`
	DisputedTransactions []struct {
		SellerTransactionID string `json:"seller_transaction_id"`
	} `json:"disputed_transactions"`
}

func (s *webhookService) applyPayPalEvent(ctx context.Context, event *webhooks.Event) (*uuid.UUID, error) {
	var envelope paypalEventEnvelope
	if err := json.Unmarshal(event.Raw, &envelope); err != nil {
		return nil, nil
	}

	switch event.Type {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED":
		var capture paypalCaptureResource
		if err := json.Unmarshal(envelope.Resource, &capture); err != nil {
			return nil, nil
		}
		payment, err := s.resolvePayPalCapture(ctx, &capture)
		if err != nil || payment == nil || payment.Token == nil {
			return nil, err
		}
		to := db_models.PaymentStatusFailed
		if event.Type == "PAYMENT.CAPTURE.COMPLETED" {
			to = db_models.PaymentStatusAuthorized
		}
		updated, err := s.transitionByToken(ctx, db_models.ProviderPayPal, *payment.Token, to, event.Type, repositories.TransitionOptions{
			AuthorizationCode: capture.ID,
		})
		if err != nil || updated == nil {
			return nil, err
		}
		if capture.ID != "" {
			if refErr := s.payments.SetProviderRefs(ctx, updated.ID, map[string]string{"capture_id": capture.ID}); refErr != nil {
				s.logger.Warn("failed to store capture ref", zap.Error(refErr))
			}
		}
		return &updated.ID, nil

	case "PAYMENT.CAPTURE.REFUNDED":
		var refund paypalCaptureResource
		if err := json.Unmarshal(envelope.Resource, &refund); err != nil {
			return nil, nil
		}
		payment, err := s.resolvePayPalCapture(ctx, &refund)
		if err != nil || payment == nil {
			return nil, err
		}
		amount, err := providers.ParsePayPalAmount(refund.Amount.Value, refund.Amount.CurrencyCode)
		if err != nil {
			s.logger.Warn("unparseable refund amount in webhook",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			return nil, nil
		}
		if err := s.recordWebhookRefund(ctx, payment.ID, refund.ID, amount, event.Type); err != nil {
			return nil, err
		}
		return &payment.ID, nil

	case "CHECKOUT.ORDER.VOIDED":
		var order paypalOrderResource
		if err := json.Unmarshal(envelope.Resource, &order); err != nil {
			return nil, nil
		}
		return s.idOf(s.transitionByToken(ctx, db_models.ProviderPayPal, order.ID, db_models.PaymentStatusCanceled, event.Type, repositories.TransitionOptions{}))

	case "CHECKOUT.ORDER.APPROVED":
		// Approval alone moves no money; the capture happens on return or
		// arrives as PAYMENT.CAPTURE.COMPLETED. Resolve for the inbox link.
		var order paypalOrderResource
		if err := json.Unmarshal(envelope.Resource, &order); err != nil {
			return nil, nil
		}
		payment, err := s.payments.FindByToken(ctx, db_models.ProviderPayPal, order.ID)
		if err != nil || payment == nil {
			return nil, err
		}
		return &payment.ID, nil

	case "CUSTOMER.DISPUTE.CREATED", "CUSTOMER.DISPUTE.UPDATED", "CUSTOMER.DISPUTE.RESOLVED":
		var dispute paypalDisputeResource
		if err := json.Unmarshal(envelope.Resource, &dispute); err != nil {
			return nil, nil
		}
		var payment *db_models.Payment
		var err error
		for _, tx := range dispute.DisputedTransactions {
			payment, err = s.payments.FindByProviderRef(ctx, db_models.ProviderPayPal, "capture_id", tx.SellerTransactionID)
			if err != nil {
				return nil, err
			}
			if payment != nil {
				break
			}
		}
		if payment == nil || payment.Token == nil {
			return nil, nil
		}
		to := db_models.PaymentStatusFailed
		if event.Type == "CUSTOMER.DISPUTE.RESOLVED" &&
			strings.Contains(dispute.Outcome.OutcomeCode, "SELLER_FAVOUR") {
			to = db_models.PaymentStatusAuthorized
		}
		return s.idOf(s.transitionByToken(ctx, db_models.ProviderPayPal, *payment.Token, to, event.Type, repositories.TransitionOptions{Dispute: true}))
	}

	return nil, nil
}

func (s *webhookService) resolvePayPalCapture(ctx context.Context, capture *paypalCaptureResource) (*db_models.Payment, error) {
	if orderID := capture.SupplementaryData.RelatedIDs.OrderID; orderID != "" {
		payment, err := s.payments.FindByToken(ctx, db_models.ProviderPayPal, orderID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	if capture.ID != "" {
		payment, err := s.payments.FindByProviderRef(ctx, db_models.ProviderPayPal, "capture_id", capture.ID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	if capture.CustomID != "" {
		if id, err := uuid.Parse(capture.CustomID); err == nil {
			return s.payments.FindByID(ctx, id)
		}
	}
	return nil, nil
}

// transitionByToken applies a webhook-driven transition, treating unknown
// payments and redundant redeliveries as non-events.
func (s *webhookService) transitionByToken(ctx context.Context, provider db_models.ProviderName, token string, to db_models.PaymentStatus, eventType string, opts repositories.TransitionOptions) (*db_models.Payment, error) {
	opts.EventType = eventType
	opts.Actor = db_models.ActorWebhook
	payment, changed, err := s.payments.UpdateStatusByToken(ctx, provider, token, to, opts)
	if err != nil {
		if errors.Is(err, utils.ErrPaymentNotFound) {
			s.logger.Warn("webhook for unknown payment",
				zap.String("provider", string(provider)),
				zap.String("token", token),
			)
			return nil, nil
		}
		if errors.Is(err, utils.ErrAlreadyProcessed) {
			return payment, nil
		}
		return nil, err
	}
	if changed {
		s.logger.Info("webhook transition applied",
			zap.String("provider", string(provider)),
			zap.String("token", token),
			zap.String("to", string(to)),
			zap.String("event_type", eventType),
		)
	}
	return payment, nil
}

// recordWebhookRefund applies a PSP-announced refund, deduplicated against
// refunds already recorded through the API path by the provider refund id.
func (s *webhookService) recordWebhookRefund(ctx context.Context, paymentID uuid.UUID, providerRefundID string, amountMinor int64, eventType string) error {
	seen, err := s.payments.HasRefund(ctx, paymentID, providerRefundID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	_, _, err = s.payments.InsertRefund(ctx, paymentID, amountMinor, db_models.RefundStatusSucceeded, providerRefundID, "", repositories.TransitionOptions{
		EventType: eventType,
		Actor:     db_models.ActorWebhook,
	})
	if errors.Is(err, utils.ErrRefundExceedsAvailable) {
		// The PSP says refunded but the ledger disagrees; keep ours and flag it.
		s.logger.Error("webhook refund exceeds remaining balance",
			zap.String("payment_id", paymentID.String()),
			zap.Int64("amount", amountMinor),
		)
		return nil
	}
	return err
}

func (s *webhookService) idOf(payment *db_models.Payment, err error) (*uuid.UUID, error) {
	if err != nil || payment == nil {
		return nil, err
	}
	return &payment.ID, nil
}

func inboxPayload(raw []byte) datatypes.JSON {
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	return datatypes.JSON([]byte("{}"))
}
