package infra_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"pasarela/internal/infra"
)

var Module = fx.Provide(
	provideLogger, provideMetrics,
)

func provideLogger() (*zap.Logger, error) {
	return infra.NewLogger()
}

func provideMetrics() *infra.Metrics {
	return infra.NewMetrics()
}
