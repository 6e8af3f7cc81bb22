package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/plutov/paypal/v4"

	"pasarela/internal/models/db_models"
	"pasarela/pkg/utils"
)

// PayPalVerifier calls PayPal's verify-webhook-signature endpoint with the
// configured webhook id. If the verification endpoint is unreachable the
// webhook is rejected, not trusted.
type PayPalVerifier struct {
	client    *paypal.Client
	webhookID string
}

func NewPayPalVerifier(client *paypal.Client, webhookID string) *PayPalVerifier {
	return &PayPalVerifier{client: client, webhookID: webhookID}
}

func (v *PayPalVerifier) Provider() db_models.ProviderName { return db_models.ProviderPayPal }

func (v *PayPalVerifier) Verify(ctx context.Context, req *http.Request, payload []byte) (*Event, error) {
	if v.client.Token == nil {
		if _, err := v.client.GetAccessToken(ctx); err != nil {
			return nil, fmt.Errorf("%w: paypal verification endpoint unavailable: %v", utils.ErrWebhookVerificationFailed, err)
		}
	}

	// The SDK re-reads the request body to build the verification payload.
	req.Body = io.NopCloser(bytes.NewReader(payload))
	resp, err := v.client.VerifyWebhookSignature(ctx, req, v.webhookID)
	if err != nil {
		return nil, fmt.Errorf("%w: paypal verification endpoint unavailable: %v", utils.ErrWebhookVerificationFailed, err)
	}
	if resp.VerificationStatus != "SUCCESS" {
		return nil, fmt.Errorf("%w: paypal verification status %s", utils.ErrWebhookVerificationFailed, resp.VerificationStatus)
	}

	var body struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.ID == "" {
		return nil, fmt.Errorf("%w: malformed paypal event payload", utils.ErrWebhookVerificationFailed)
	}
	return &Event{ID: body.ID, Type: body.EventType, Raw: payload}, nil
}
