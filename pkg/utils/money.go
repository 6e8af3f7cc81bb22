package utils

import (
	"fmt"
	"strings"
)

const maxIdempotencyKeyLen = 255

// ValidateAmountMinor checks a money amount expressed in minor units.
func ValidateAmountMinor(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

// NormalizeCurrency upper-cases and validates an ISO-4217 alpha code.
// Conversion is out of scope; only the shape is checked.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
		}
	}
	return code, nil
}

// NormalizeIdempotencyKey trims the client-supplied key. Empty means the
// client did not opt into idempotent creation.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) > maxIdempotencyKeyLen {
		return "", fmt.Errorf("%w: idempotency key too long", ErrValidation)
	}
	return key, nil
}
