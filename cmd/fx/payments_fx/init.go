package payments_fx

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pasarela/internal/api/controllers"
	"pasarela/internal/infra"
	"pasarela/internal/providers"
	"pasarela/internal/repositories"
	"pasarela/internal/services"
)

var Module = fx.Provide(
	providePaymentRepository,
	providePaymentsService,
	providePaymentsController,
	provideOperatorController,
)

func providePaymentRepository(db *gorm.DB) repositories.PaymentRepositoryInterface {
	return repositories.NewPaymentRepository(db)
}

func providePaymentsService(
	repo repositories.PaymentRepositoryInterface,
	registry *providers.Registry,
	metrics *infra.Metrics,
	logger *zap.Logger,
) services.PaymentsServiceInterface {
	cfg := services.ServiceConfig{
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
	}
	return services.NewPaymentsService(repo, registry, cfg, metrics, logger)
}

func providePaymentsController(paymentsService services.PaymentsServiceInterface) *controllers.PaymentsController {
	return controllers.NewPaymentsController(paymentsService)
}

func provideOperatorController(paymentsService services.PaymentsServiceInterface) *controllers.OperatorController {
	return controllers.NewOperatorController(paymentsService)
}
