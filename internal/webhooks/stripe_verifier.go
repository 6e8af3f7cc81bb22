package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"pasarela/internal/models/db_models"
	"pasarela/pkg/utils"
)

const stripeSignatureHeader = "Stripe-Signature"

// StripeVerifier checks the HMAC signature Stripe computes over the raw body
// and timestamp. Stale timestamps outside the tolerance window are rejected
// to close the replay hole.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

func (v *StripeVerifier) Provider() db_models.ProviderName { return db_models.ProviderStripe }

func (v *StripeVerifier) Verify(ctx context.Context, req *http.Request, payload []byte) (*Event, error) {
	header := req.Header.Get(stripeSignatureHeader)
	if header == "" {
		return nil, fmt.Errorf("%w: missing %s header", utils.ErrWebhookVerificationFailed, stripeSignatureHeader)
	}

	event, err := webhook.ConstructEventWithTolerance(payload, header, v.secret, v.tolerance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrWebhookVerificationFailed, err)
	}
	return &Event{ID: event.ID, Type: string(event.Type), Raw: payload}, nil
}
