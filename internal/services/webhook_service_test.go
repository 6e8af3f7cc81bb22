package services

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pasarela/internal/infra"
	"pasarela/internal/models/db_models"
	"pasarela/internal/repositories"
	"pasarela/internal/webhooks"
	"pasarela/pkg/utils"
)

const testSignature = "valid-sig"

func newWebhookTestService(t *testing.T, verifiers ...webhooks.Verifier) (WebhookServiceInterface, *fakePaymentRepo, *fakeWebhookRepo) {
	t.Helper()
	payments := newFakePaymentRepo()
	inbox := newFakeWebhookRepo()
	svc := NewWebhookService(payments, inbox, verifiers, infra.NewMetrics(), zap.NewNop())
	return svc, payments, inbox
}

func seedPayment(repo *fakePaymentRepo, provider db_models.ProviderName, token string, status db_models.PaymentStatus, amountMinor int64) *db_models.Payment {
	payment := &db_models.Payment{
		CompanyID:   uuid.New(),
		BuyOrder:    "order-1",
		AmountMinor: amountMinor,
		Currency:    "USD",
		Provider:    provider,
		Status:      status,
		Token:       &token,
	}
	payment.ID = uuid.New()
	repo.payments[payment.ID] = payment
	repo.byToken[tokenIndex(provider, token)] = payment.ID
	return payment
}

func TestWebhookInvalidSignatureRejected(t *testing.T) {
	verifier := &fakeVerifier{provider: db_models.ProviderStripe, secret: testSignature}
	svc, payments, inbox := newWebhookTestService(t, verifier)
	seedPayment(payments, db_models.ProviderStripe, "cs_123", db_models.PaymentStatusPending, 1000)

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", nil)
	req.Header.Set("X-Signature", "forged")
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_123","payment_status":"paid"}}}`)

	_, err := svc.ProcessWebhook(context.Background(), "stripe", req, payload)
	if !errors.Is(err, utils.ErrWebhookVerificationFailed) {
		t.Fatalf("err = %v, want ErrWebhookVerificationFailed", err)
	}

	if inbox.count() != 1 {
		t.Fatalf("inbox rows = %d, want 1 FAILURE row", inbox.count())
	}
	for _, row := range inbox.rows {
		if row.VerificationStatus != db_models.VerificationFailure {
			t.Fatalf("verification = %s, want FAILURE", row.VerificationStatus)
		}
	}
	payment, _ := payments.FindByToken(context.Background(), db_models.ProviderStripe, "cs_123")
	if payment.Status != db_models.PaymentStatusPending {
		t.Fatalf("rejected webhook mutated payment to %s", payment.Status)
	}
}

func TestWebhookSessionCompletedAuthorizes(t *testing.T) {
	verifier := &fakeVerifier{
		provider: db_models.ProviderStripe,
		secret:   testSignature,
		event:    webhooks.Event{ID: "evt_1", Type: "checkout.session.completed"},
	}
	svc, payments, _ := newWebhookTestService(t, verifier)
	seeded := seedPayment(payments, db_models.ProviderStripe, "cs_123", db_models.PaymentStatusPending, 1000)

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", nil)
	req.Header.Set("X-Signature", testSignature)
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_123","payment_status":"paid","payment_intent":"pi_1"}}}`)

	ack, err := svc.ProcessWebhook(context.Background(), "stripe", req, payload)
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if !ack.Received || ack.Duplicate {
		t.Fatalf("ack = %+v, want received, not duplicate", ack)
	}

	payment, _ := payments.FindByID(context.Background(), seeded.ID)
	if payment.Status != db_models.PaymentStatusAuthorized {
		t.Fatalf("status = %s, want AUTHORIZED", payment.Status)
	}
	history := payments.historyFor(seeded.ID)
	if len(history) != 1 || history[0].ActorType != db_models.ActorWebhook {
		t.Fatalf("history = %+v, want one webhook transition", history)
	}
	if payments.refs[seeded.ID]["payment_intent_id"] != "pi_1" {
		t.Fatalf("refs = %v, want payment_intent_id=pi_1", payments.refs[seeded.ID])
	}
}

func TestWebhookRedeliveryIsNoOp(t *testing.T) {
	verifier := &fakeVerifier{
		provider: db_models.ProviderStripe,
		secret:   testSignature,
		event:    webhooks.Event{ID: "evt_1", Type: "checkout.session.completed"},
	}
	svc, payments, inbox := newWebhookTestService(t, verifier)
	seeded := seedPayment(payments, db_models.ProviderStripe, "cs_123", db_models.PaymentStatusPending, 1000)

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_123","payment_status":"paid"}}}`)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/webhooks/stripe", nil)
		req.Header.Set("X-Signature", testSignature)
		ack, err := svc.ProcessWebhook(context.Background(), "stripe", req, payload)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if i == 1 && !ack.Duplicate {
			t.Fatal("redelivery not flagged as duplicate")
		}
	}

	if inbox.count() != 1 {
		t.Fatalf("inbox rows = %d, want 1", inbox.count())
	}
	if history := payments.historyFor(seeded.ID); len(history) != 1 {
		t.Fatalf("history rows = %d, want 1 (redelivery must not re-apply)", len(history))
	}
}

func TestWebhookChargeRefundedFlipsAtFullAmount(t *testing.T) {
	verifier := &fakeVerifier{
		provider: db_models.ProviderStripe,
		secret:   testSignature,
		event:    webhooks.Event{ID: "evt_2", Type: "charge.refunded"},
	}
	svc, payments, _ := newWebhookTestService(t, verifier)
	seeded := seedPayment(payments, db_models.ProviderStripe, "cs_123", db_models.PaymentStatusAuthorized, 1000)
	payments.setRef(seeded.ID, "payment_intent_id", "pi_1")

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", nil)
	req.Header.Set("X-Signature", testSignature)
	payload := []byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{"payment_intent":"pi_1","refunds":{"data":[{"id":"re_1","amount":1000,"status":"succeeded"}]}}}}`)

	if _, err := svc.ProcessWebhook(context.Background(), "stripe", req, payload); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	payment, _ := payments.FindByID(context.Background(), seeded.ID)
	if payment.Status != db_models.PaymentStatusRefunded {
		t.Fatalf("status = %s, want REFUNDED", payment.Status)
	}
	if payment.AmountRefundedMinor != 1000 {
		t.Fatalf("refunded = %d, want 1000", payment.AmountRefundedMinor)
	}
}

func TestWebhookRefundDedupByProviderRefundID(t *testing.T) {
	verifier := &fakeVerifier{
		provider: db_models.ProviderStripe,
		secret:   testSignature,
	}
	svc, payments, _ := newWebhookTestService(t, verifier)
	seeded := seedPayment(payments, db_models.ProviderStripe, "cs_123", db_models.PaymentStatusAuthorized, 1000)
	payments.setRef(seeded.ID, "payment_intent_id", "pi_1")

	// The API refund path already recorded re_1.
	if _, _, err := payments.InsertRefund(context.Background(), seeded.ID, 400, db_models.RefundStatusSucceeded, "re_1", "", repositories.TransitionOptions{}); err != nil {
		t.Fatalf("seed refund: %v", err)
	}

	verifier.event = webhooks.Event{ID: "evt_3", Type: "charge.refunded"}
	req := httptest.NewRequest("POST", "/api/webhooks/stripe", nil)
	req.Header.Set("X-Signature", testSignature)
	payload := []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"payment_intent":"pi_1","refunds":{"data":[{"id":"re_1","amount":400,"status":"succeeded"}]}}}}`)

	if _, err := svc.ProcessWebhook(context.Background(), "stripe", req, payload); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	payment, _ := payments.FindByID(context.Background(), seeded.ID)
	if payment.AmountRefundedMinor != 400 {
		t.Fatalf("refunded = %d, want 400 (webhook must not double-apply re_1)", payment.AmountRefundedMinor)
	}
	if len(payments.refunds) != 1 {
		t.Fatalf("refund rows = %d, want 1", len(payments.refunds))
	}
}

func TestWebhookDisputeRoundTrip(t *testing.T) {
	verifier := &fakeVerifier{provider: db_models.ProviderStripe, secret: testSignature}
	svc, payments, _ := newWebhookTestService(t, verifier)
	seeded := seedPayment(payments, db_models.ProviderStripe, "cs_123", db_models.PaymentStatusAuthorized, 1000)
	payments.setRef(seeded.ID, "payment_intent_id", "pi_1")

	verifier.event = webhooks.Event{ID: "evt_4", Type: "charge.dispute.created"}
	req := httptest.NewRequest("POST", "/api/webhooks/stripe", nil)
	req.Header.Set("X-Signature", testSignature)
	payload := []byte(`{"id":"evt_4","type":"charge.dispute.created","data":{"object":{"payment_intent":"pi_1","status":"needs_response"}}}`)
	if _, err := svc.ProcessWebhook(context.Background(), "stripe", req, payload); err != nil {
		t.Fatalf("dispute created: %v", err)
	}
	payment, _ := payments.FindByID(context.Background(), seeded.ID)
	if payment.Status != db_models.PaymentStatusFailed {
		t.Fatalf("status after dispute = %s, want FAILED", payment.Status)
	}

	verifier.event = webhooks.Event{ID: "evt_5", Type: "charge.dispute.closed"}
	req = httptest.NewRequest("POST", "/api/webhooks/stripe", nil)
	req.Header.Set("X-Signature", testSignature)
	payload = []byte(`{"id":"evt_5","type":"charge.dispute.closed","data":{"object":{"payment_intent":"pi_1","status":"won"}}}`)
	if _, err := svc.ProcessWebhook(context.Background(), "stripe", req, payload); err != nil {
		t.Fatalf("dispute closed: %v", err)
	}
	payment, _ = payments.FindByID(context.Background(), seeded.ID)
	if payment.Status != db_models.PaymentStatusAuthorized {
		t.Fatalf("status after dispute won = %s, want AUTHORIZED", payment.Status)
	}
}

func TestWebhookUnknownPaymentAcked(t *testing.T) {
	verifier := &fakeVerifier{
		provider: db_models.ProviderStripe,
		secret:   testSignature,
		event:    webhooks.Event{ID: "evt_6", Type: "checkout.session.completed"},
	}
	svc, _, inbox := newWebhookTestService(t, verifier)

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", nil)
	req.Header.Set("X-Signature", testSignature)
	payload := []byte(`{"id":"evt_6","type":"checkout.session.completed","data":{"object":{"id":"cs_unknown","payment_status":"paid"}}}`)

	ack, err := svc.ProcessWebhook(context.Background(), "stripe", req, payload)
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if !ack.Received {
		t.Fatal("unknown payment must still be acked")
	}
	for _, row := range inbox.rows {
		if row.Processed {
			t.Fatal("unknown payment's event must stay unprocessed")
		}
	}
}

func TestWebhookPayPalCaptureCompleted(t *testing.T) {
	verifier := &fakeVerifier{
		provider: db_models.ProviderPayPal,
		secret:   testSignature,
		event:    webhooks.Event{ID: "WH-1", Type: "PAYMENT.CAPTURE.COMPLETED"},
	}
	svc, payments, _ := newWebhookTestService(t, verifier)
	seeded := seedPayment(payments, db_models.ProviderPayPal, "ORD-1", db_models.PaymentStatusPending, 1000)

	req := httptest.NewRequest("POST", "/api/webhooks/paypal", nil)
	req.Header.Set("X-Signature", testSignature)
	payload := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"cap-1","status":"COMPLETED","supplementary_data":{"related_ids":{"order_id":"ORD-1"}}}}`)

	if _, err := svc.ProcessWebhook(context.Background(), "paypal", req, payload); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	payment, _ := payments.FindByID(context.Background(), seeded.ID)
	if payment.Status != db_models.PaymentStatusAuthorized {
		t.Fatalf("status = %s, want AUTHORIZED", payment.Status)
	}
	if payment.AuthorizationCode != "cap-1" {
		t.Fatalf("authorization code = %s, want cap-1", payment.AuthorizationCode)
	}
	if payments.refs[seeded.ID]["capture_id"] != "cap-1" {
		t.Fatalf("refs = %v, want capture_id=cap-1", payments.refs[seeded.ID])
	}
}

func TestWebhookPayPalCaptureRefunded(t *testing.T) {
	verifier := &fakeVerifier{
		provider: db_models.ProviderPayPal,
		secret:   testSignature,
		event:    webhooks.Event{ID: "WH-2", Type: "PAYMENT.CAPTURE.REFUNDED"},
	}
	svc, payments, _ := newWebhookTestService(t, verifier)
	seeded := seedPayment(payments, db_models.ProviderPayPal, "ORD-1", db_models.PaymentStatusAuthorized, 1000)
	payments.setRef(seeded.ID, "capture_id", "cap-1")

	req := httptest.NewRequest("POST", "/api/webhooks/paypal", nil)
	req.Header.Set("X-Signature", testSignature)
	payload := []byte(`{"id":"WH-2","event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"id":"ref-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"10.00"},"supplementary_data":{"related_ids":{"order_id":"ORD-1"}}}}`)

	if _, err := svc.ProcessWebhook(context.Background(), "paypal", req, payload); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	payment, _ := payments.FindByID(context.Background(), seeded.ID)
	if payment.Status != db_models.PaymentStatusRefunded {
		t.Fatalf("status = %s, want REFUNDED", payment.Status)
	}
	if payment.AmountRefundedMinor != 1000 {
		t.Fatalf("refunded = %d, want 1000 (10.00 USD)", payment.AmountRefundedMinor)
	}
}

func TestWebhookUnsupportedProvider(t *testing.T) {
	svc, _, _ := newWebhookTestService(t)
	req := httptest.NewRequest("POST", "/api/webhooks/webpay", nil)
	_, err := svc.ProcessWebhook(context.Background(), "webpay", req, []byte(`{}`))
	if !errors.Is(err, utils.ErrUnsupportedProvider) {
		t.Fatalf("err = %v, want ErrUnsupportedProvider", err)
	}
}
