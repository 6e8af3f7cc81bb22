package utils

import "errors"

var (
	// Client-side problems, 4xx. Never retried by the service.
	ErrValidation             = errors.New("invalid input")
	ErrUnsupportedProvider    = errors.New("unsupported provider")
	ErrUnsupportedCurrency    = errors.New("unsupported currency")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrRefundExceedsAvailable = errors.New("refund exceeds available balance")
	ErrNotRefundable          = errors.New("payment is not in a refundable status")

	// PSP-side outcomes.
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected the request")
	ErrAlreadyProcessed    = errors.New("transaction already processed")
	ErrAlreadyRefunded     = errors.New("transaction already fully refunded")

	// Webhooks.
	ErrWebhookVerificationFailed = errors.New("webhook verification failed")

	ErrUnauthorized  = errors.New("unauthorized")
	ErrDatabaseError = errors.New("database error")
)
