package providers

import (
	"context"

	"pasarela/internal/models/db_models"
)

// CreateParams carries everything an adapter needs to open a PSP-side
// transaction. AmountMinor is in minor units of Currency.
type CreateParams struct {
	BuyOrder    string
	SessionID   string // our payment id, echoed to the PSP for traceability
	AmountMinor int64
	Currency    string
	ReturnURL   string
	SuccessURL  string
	CancelURL   string
}

// CreateResult is the redirect target plus the opaque token that identifies
// the PSP-side transaction from here on. FormFields is set when the PSP
// expects a form POST instead of a plain location redirect (Webpay).
type CreateResult struct {
	RedirectURL string
	Token       string
	FormFields  map[string]string
}

type Outcome string

const (
	OutcomeAuthorized Outcome = "AUTHORIZED"
	OutcomeFailed     Outcome = "FAILED"
)

// CommitResult is the terminal verdict of a server-side finalization call.
// ProviderRefs carries PSP identifiers learned during the call (payment
// intent id, capture id) that later webhooks will reference.
type CommitResult struct {
	Outcome           Outcome
	ResponseCode      int
	AuthorizationCode string
	ProviderRefs      map[string]string
}

type RefundResult struct {
	RefundID string
	Status   db_models.RefundStatus
}

// Provider is the uniform capability surface over the three PSPs.
//
// Commit must be idempotent from the caller's perspective: committing an
// already-committed token returns either the cached terminal result or
// utils.ErrAlreadyProcessed, never a second charge.
//
// Status is a read-only probe: it returns (nil, nil) when the PSP has no
// record or the call fails transiently.
type Provider interface {
	Name() db_models.ProviderName
	Create(ctx context.Context, params CreateParams) (*CreateResult, error)
	Commit(ctx context.Context, token string) (*CommitResult, error)
	Status(ctx context.Context, token string) (*db_models.PaymentStatus, error)
	Refund(ctx context.Context, token string, amountMinor int64) (*RefundResult, error)
}
