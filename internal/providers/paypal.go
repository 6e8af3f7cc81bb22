package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"
	"go.uber.org/zap"

	"pasarela/internal/models/db_models"
	"pasarela/pkg/utils"
)

type PayPalConfig struct {
	ClientID  string
	Secret    string
	APIBase   string // paypal.APIBaseSandBox or paypal.APIBaseLive
	WebhookID string
}

// PayPalProvider drives Orders v2: create opens an order with intent CAPTURE,
// commit captures it after buyer approval. The order id is the opaque token.
type PayPalProvider struct {
	client *paypal.Client
	sink   EventSink
	logger *zap.Logger
}

func NewPayPalProvider(cfg PayPalConfig, sink EventSink, logger *zap.Logger) (*PayPalProvider, error) {
	base := cfg.APIBase
	if base == "" {
		base = paypal.APIBaseSandBox
	}
	client, err := paypal.NewClient(cfg.ClientID, cfg.Secret, base)
	if err != nil {
		return nil, err
	}
	return &PayPalProvider{client: client, sink: sink, logger: logger}, nil
}

func (p *PayPalProvider) Name() db_models.ProviderName { return db_models.ProviderPayPal }

// Client exposes the SDK client so webhook signature verification shares the
// adapter's credentials and token cache.
func (p *PayPalProvider) Client() *paypal.Client { return p.client }

func (p *PayPalProvider) ensureAuth(ctx context.Context) error {
	if p.client.Token != nil {
		return nil
	}
	if _, err := p.client.GetAccessToken(ctx); err != nil {
		return fmt.Errorf("%w: paypal auth: %v", utils.ErrProviderUnavailable, err)
	}
	return nil
}

func (p *PayPalProvider) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	if err := p.ensureAuth(ctx); err != nil {
		return nil, err
	}

	units := []paypal.PurchaseUnitRequest{
		{
			ReferenceID: params.BuyOrder,
			CustomID:    params.SessionID,
			Amount: &paypal.PurchaseUnitAmount{
				Currency: params.Currency,
				Value:    formatPayPalAmount(params.AmountMinor, params.Currency),
			},
		},
	}
	appCtx := &paypal.ApplicationContext{
		ReturnURL:  params.ReturnURL,
		CancelURL:  params.CancelURL,
		UserAction: paypal.UserActionPayNow,
	}
	if appCtx.CancelURL == "" {
		appCtx.CancelURL = params.ReturnURL
	}

	start := time.Now()
	order, err := p.client.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, appCtx)
	p.record(ctx, "create", "", map[string]any{
		"buy_order": params.BuyOrder,
		"amount":    params.AmountMinor,
		"currency":  params.Currency,
	}, orderBody(order), err, time.Since(start))
	if err != nil {
		return nil, mapPayPalError(err)
	}

	approveURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
			break
		}
	}
	if approveURL == "" {
		return nil, fmt.Errorf("%w: paypal order has no approve link", utils.ErrProviderUnavailable)
	}
	p.logger.Info("paypal order created",
		zap.String("buy_order", params.BuyOrder),
		zap.String("token", order.ID),
	)
	return &CreateResult{RedirectURL: approveURL, Token: order.ID}, nil
}

func (p *PayPalProvider) Commit(ctx context.Context, token string) (*CommitResult, error) {
	if err := p.ensureAuth(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	capture, err := p.client.CaptureOrder(ctx, token, paypal.CaptureOrderRequest{})
	latency := time.Since(start)
	if err != nil {
		p.record(ctx, "commit", token, nil, nil, err, latency)
		mapped := mapPayPalError(err)
		if errors.Is(mapped, utils.ErrProviderRejected) && paypalIssueIs(err, "ORDER_ALREADY_CAPTURED") {
			return nil, utils.ErrAlreadyProcessed
		}
		return nil, mapped
	}
	p.record(ctx, "commit", token, nil, map[string]any{
		"id":     capture.ID,
		"status": capture.Status,
	}, nil, latency)

	result := &CommitResult{Outcome: OutcomeFailed, ResponseCode: -1}
	if capture.Status == "COMPLETED" {
		result.Outcome = OutcomeAuthorized
		result.ResponseCode = 0
	}
	if captureID := firstCaptureID(capture.PurchaseUnits); captureID != "" {
		result.AuthorizationCode = captureID
		result.ProviderRefs = map[string]string{"capture_id": captureID}
	}
	p.logger.Info("paypal capture",
		zap.String("token", token),
		zap.Int("response_code", result.ResponseCode),
	)
	return result, nil
}

func (p *PayPalProvider) Status(ctx context.Context, token string) (*db_models.PaymentStatus, error) {
	if err := p.ensureAuth(ctx); err != nil {
		return nil, nil
	}

	start := time.Now()
	order, err := p.client.GetOrder(ctx, token)
	p.record(ctx, "status", token, nil, orderBody(order), err, time.Since(start))
	if err != nil {
		return nil, nil
	}

	var mapped db_models.PaymentStatus
	switch order.Status {
	case "COMPLETED":
		mapped = db_models.PaymentStatusAuthorized
	case "CREATED", "APPROVED", "PAYER_ACTION_REQUIRED", "SAVED":
		mapped = db_models.PaymentStatusPending
	case "VOIDED":
		mapped = db_models.PaymentStatusCanceled
	default:
		return nil, nil
	}
	return &mapped, nil
}

func (p *PayPalProvider) Refund(ctx context.Context, token string, amountMinor int64) (*RefundResult, error) {
	if err := p.ensureAuth(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	order, err := p.client.GetOrder(ctx, token)
	p.record(ctx, "refund_lookup", token, nil, orderBody(order), err, time.Since(start))
	if err != nil {
		return nil, mapPayPalError(err)
	}
	captureID := firstCaptureIDFromOrder(order)
	if captureID == "" {
		return nil, fmt.Errorf("%w: order %s has no capture to refund", utils.ErrProviderRejected, token)
	}

	currency := ""
	if len(order.PurchaseUnits) > 0 && order.PurchaseUnits[0].Amount != nil {
		currency = order.PurchaseUnits[0].Amount.Currency
	}
	refundReq := paypal.RefundCaptureRequest{
		Amount: &paypal.Money{
			Currency: currency,
			Value:    formatPayPalAmount(amountMinor, currency),
		},
	}

	start = time.Now()
	refund, err := p.client.RefundCapture(ctx, captureID, refundReq)
	latency := time.Since(start)
	if err != nil {
		p.record(ctx, "refund", token, map[string]any{"capture_id": captureID, "amount": amountMinor}, nil, err, latency)
		mapped := mapPayPalError(err)
		if paypalIssueIs(err, "CAPTURE_FULLY_REFUNDED") {
			return nil, utils.ErrAlreadyRefunded
		}
		if paypalIssueIs(err, "MAX_CAPTURE_REFUND_EXCEEDED") {
			return nil, utils.ErrRefundExceedsAvailable
		}
		return nil, mapped
	}
	p.record(ctx, "refund", token, map[string]any{"capture_id": captureID, "amount": amountMinor}, map[string]any{
		"id":     refund.ID,
		"status": refund.Status,
	}, nil, latency)

	status := db_models.RefundStatusPending
	switch refund.Status {
	case "COMPLETED":
		status = db_models.RefundStatusSucceeded
	case "FAILED":
		status = db_models.RefundStatusFailed
	case "CANCELLED":
		status = db_models.RefundStatusCanceled
	}
	return &RefundResult{RefundID: refund.ID, Status: status}, nil
}

func (p *PayPalProvider) record(ctx context.Context, operation, token string, request, response map[string]any, err error, latency time.Duration) {
	ev := CallEvent{
		Provider:     db_models.ProviderPayPal,
		Operation:    operation,
		Token:        token,
		RequestBody:  request,
		ResponseBody: response,
		Err:          err,
		Latency:      latency,
	}
	var paypalErr *paypal.ErrorResponse
	if errors.As(err, &paypalErr) && paypalErr.Response != nil {
		code := paypalErr.Response.StatusCode
		ev.Status = &code
	}
	p.sink.Record(ctx, ev)
}

func orderBody(order *paypal.Order) map[string]any {
	if order == nil {
		return nil
	}
	return map[string]any{"id": order.ID, "status": order.Status}
}

func firstCaptureID(units []paypal.CapturedPurchaseUnit) string {
	for _, unit := range units {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if capture.ID != "" {
				return capture.ID
			}
		}
	}
	return ""
}

func firstCaptureIDFromOrder(order *paypal.Order) string {
	if order == nil {
		return ""
	}
	for _, unit := range order.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if capture.ID != "" {
				return capture.ID
			}
		}
	}
	return ""
}

func mapPayPalError(err error) error {
	var paypalErr *paypal.ErrorResponse
	if errors.As(err, &paypalErr) {
		if paypalErr.Response != nil && paypalErr.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: paypal: %s", utils.ErrProviderUnavailable, paypalErr.Message)
		}
		if paypalErr.Name == "UNPROCESSABLE_ENTITY" && paypalIssueIs(err, "CURRENCY_NOT_SUPPORTED") {
			return fmt.Errorf("%w: paypal: %s", utils.ErrUnsupportedCurrency, paypalErr.Message)
		}
		return fmt.Errorf("%w: paypal: %s", utils.ErrProviderRejected, paypalErr.Message)
	}
	return fmt.Errorf("%w: %v", utils.ErrProviderUnavailable, err)
}

func paypalIssueIs(err error, issue string) bool {
	var paypalErr *paypal.ErrorResponse
	if !errors.As(err, &paypalErr) {
		return false
	}
	for _, detail := range paypalErr.Details {
		if detail.Issue == issue {
			return true
		}
	}
	return false
}

// zero-decimal ISO-4217 currencies PayPal accepts
var payPalZeroDecimal = map[string]struct{}{
	"CLP": {}, "JPY": {}, "HUF": {}, "TWD": {},
}

// formatPayPalAmount renders minor units as the decimal string the Orders API
// expects: "1000" for CLP, "10.00" for USD.
func formatPayPalAmount(amountMinor int64, currency string) string {
	if _, zero := payPalZeroDecimal[currency]; zero {
		return fmt.Sprintf("%d", amountMinor)
	}
	return fmt.Sprintf("%d.%02d", amountMinor/100, amountMinor%100)
}

// ParsePayPalAmount is the inverse of formatPayPalAmount, used when webhook
// payloads report amounts as decimal strings.
func ParsePayPalAmount(value, currency string) (int64, error) {
	major := value
	frac := ""
	if i := strings.IndexByte(value, '.'); i >= 0 {
		major, frac = value[:i], value[i+1:]
	}
	whole, err := strconv.ParseInt(major, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad paypal amount %q: %w", value, err)
	}
	if _, zero := payPalZeroDecimal[currency]; zero {
		return whole, nil
	}
	cents := int64(0)
	if frac != "" {
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac[:2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad paypal amount %q: %w", value, err)
		}
	}
	return whole*100 + cents, nil
}
