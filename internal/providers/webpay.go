package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"pasarela/internal/models/db_models"
	"pasarela/pkg/utils"
)

// WebpayConfig points the adapter at a Transbank Webpay Plus REST
// environment. The integration defaults target webpay3gint.transbank.cl.
type WebpayConfig struct {
	Host         string // e.g. https://webpay3gint.transbank.cl
	APIBase      string // e.g. /rswebpaytransaction/api/webpay/v1.2
	APIKeyID     string // Tbk-Api-Key-Id (commerce code)
	APIKeySecret string // Tbk-Api-Key-Secret
}

// WebpayProvider speaks the Webpay Plus REST API directly; Transbank ships no
// maintained Go SDK. Webpay settles in CLP only.
type WebpayProvider struct {
	cfg    WebpayConfig
	client *http.Client
	sink   EventSink
	logger *zap.Logger
}

func NewWebpayProvider(cfg WebpayConfig, sink EventSink, logger *zap.Logger) *WebpayProvider {
	return &WebpayProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		sink:   sink,
		logger: logger,
	}
}

func (w *WebpayProvider) Name() db_models.ProviderName { return db_models.ProviderWebpay }

func (w *WebpayProvider) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	if params.Currency != "CLP" {
		return nil, fmt.Errorf("%w: webpay only accepts CLP", utils.ErrUnsupportedCurrency)
	}

	payload := map[string]any{
		"buy_order":  params.BuyOrder,
		"session_id": params.SessionID,
		"amount":     params.AmountMinor,
		"return_url": params.ReturnURL,
	}
	data, err := w.do(ctx, http.MethodPost, "/transactions", "create", "", payload)
	if err != nil {
		return nil, err
	}

	token, _ := data["token"].(string)
	redirectURL, _ := data["url"].(string)
	if token == "" || redirectURL == "" {
		return nil, fmt.Errorf("%w: webpay create returned no token", utils.ErrProviderUnavailable)
	}
	w.logger.Info("webpay transaction created",
		zap.String("buy_order", params.BuyOrder),
		zap.String("token", token),
	)
	return &CreateResult{
		RedirectURL: redirectURL,
		Token:       token,
		FormFields:  map[string]string{"token_ws": token},
	}, nil
}

func (w *WebpayProvider) Commit(ctx context.Context, token string) (*CommitResult, error) {
	data, err := w.do(ctx, http.MethodPut, "/transactions/"+token, "commit", token, nil)
	if err != nil {
		return nil, err
	}

	responseCode := intField(data, "response_code", -1)
	authCode, _ := data["authorization_code"].(string)

	outcome := OutcomeFailed
	if responseCode == 0 {
		outcome = OutcomeAuthorized
	}
	w.logger.Info("webpay transaction committed",
		zap.String("token", token),
		zap.Int("response_code", responseCode),
	)
	return &CommitResult{
		Outcome:           outcome,
		ResponseCode:      responseCode,
		AuthorizationCode: authCode,
	}, nil
}

func (w *WebpayProvider) Status(ctx context.Context, token string) (*db_models.PaymentStatus, error) {
	data, err := w.do(ctx, http.MethodGet, "/transactions/"+token, "status", token, nil)
	if err != nil {
		// Read-only probe: transient failures and unknown tokens read as "no record".
		w.logger.Info("webpay status probe failed", zap.String("token", token), zap.Error(err))
		return nil, nil
	}

	tbkStatus, _ := data["status"].(string)
	mapping := map[string]db_models.PaymentStatus{
		"AUTHORIZED": db_models.PaymentStatusAuthorized,
		"FAILED":     db_models.PaymentStatusFailed,
		// Reversed/nullified transactions read as refunded.
		"REVERSED":    db_models.PaymentStatusRefunded,
		"NULLIFIED":   db_models.PaymentStatusRefunded,
		"INITIALIZED": db_models.PaymentStatusPending,
	}
	mapped, ok := mapping[strings.ToUpper(tbkStatus)]
	if !ok {
		return nil, nil
	}
	return &mapped, nil
}

func (w *WebpayProvider) Refund(ctx context.Context, token string, amountMinor int64) (*RefundResult, error) {
	payload := map[string]any{"amount": amountMinor}
	data, err := w.do(ctx, http.MethodPost, "/transactions/"+token+"/refunds", "refund", token, payload)
	if err != nil {
		return nil, err
	}

	responseCode := intField(data, "response_code", -1)
	refundType, _ := data["type"].(string)
	accepted := responseCode == 0 || refundType == "REVERSED" || refundType == "NULLIFIED"
	w.logger.Info("webpay refund executed",
		zap.String("token", token),
		zap.Int64("amount", amountMinor),
		zap.Int("response_code", responseCode),
		zap.String("refund_type", refundType),
		zap.Bool("accepted", accepted),
	)
	if !accepted {
		return nil, fmt.Errorf("%w: webpay refund type %q", utils.ErrProviderRejected, refundType)
	}
	// Webpay has no refund id of its own; the nullification type is the receipt.
	return &RefundResult{
		RefundID: refundType,
		Status:   db_models.RefundStatusSucceeded,
	}, nil
}

// do performs one REST call, records it on the event sink and maps transport
// and HTTP-level failures onto the provider error taxonomy.
func (w *WebpayProvider) do(ctx context.Context, method, path, operation, token string, payload map[string]any) (map[string]any, error) {
	url := w.cfg.Host + w.cfg.APIBase + path

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Tbk-Api-Key-Id", w.cfg.APIKeyID)
	req.Header.Set("Tbk-Api-Key-Secret", w.cfg.APIKeySecret)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.client.Do(req)
	latency := time.Since(start)

	ev := CallEvent{
		Provider:    db_models.ProviderWebpay,
		Operation:   operation,
		Token:       token,
		RequestURL:  url,
		RequestBody: payload,
		Latency:     latency,
	}
	if err != nil {
		ev.Err = err
		w.sink.Record(ctx, ev)
		return nil, fmt.Errorf("%w: %v", utils.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		ev.Err = readErr
		w.sink.Record(ctx, ev)
		return nil, fmt.Errorf("%w: %v", utils.ErrProviderUnavailable, readErr)
	}

	data := map[string]any{}
	_ = json.Unmarshal(raw, &data)
	ev.Status = &resp.StatusCode
	ev.ResponseBody = data

	switch {
	case resp.StatusCode >= 500:
		ev.Err = fmt.Errorf("webpay %d", resp.StatusCode)
		w.sink.Record(ctx, ev)
		return nil, fmt.Errorf("%w: webpay returned %d", utils.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode == 422 && strings.Contains(strings.ToLower(string(raw)), "lock"):
		// "Transaction already locked": a previous commit owns this token.
		ev.Err = utils.ErrAlreadyProcessed
		w.sink.Record(ctx, ev)
		return nil, utils.ErrAlreadyProcessed
	case resp.StatusCode >= 400:
		ev.Err = fmt.Errorf("webpay %d", resp.StatusCode)
		w.sink.Record(ctx, ev)
		return nil, fmt.Errorf("%w: webpay returned %d", utils.ErrProviderRejected, resp.StatusCode)
	}

	w.sink.Record(ctx, ev)
	return data, nil
}

func intField(data map[string]any, key string, fallback int) int {
	if v, ok := data[key].(float64); ok {
		return int(v)
	}
	return fallback
}
