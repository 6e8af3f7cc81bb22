package infra

import (
	"os"

	"go.uber.org/zap"
)

// NewLogger builds the process-wide structured logger. JSON in production,
// console encoding everywhere else.
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
