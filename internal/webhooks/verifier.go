package webhooks

import (
	"context"
	"net/http"

	"pasarela/internal/models/db_models"
)

// Event is a verified inbound webhook, reduced to what the processor needs.
// Raw keeps the full payload for the inbox row and for event-specific fields.
type Event struct {
	ID   string
	Type string
	Raw  []byte
}

// Verifier authenticates an inbound callback before the orchestrator trusts
// its payload. Verification-endpoint unavailability is a hard failure: an
// unverified webhook is never processed.
type Verifier interface {
	Provider() db_models.ProviderName
	Verify(ctx context.Context, req *http.Request, payload []byte) (*Event, error)
}
