package webhooks_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pasarela/internal/api/controllers"
	"pasarela/internal/infra"
	"pasarela/internal/repositories"
	"pasarela/internal/services"
	"pasarela/internal/webhooks"
)

var Module = fx.Provide(
	provideWebhookRepository,
	provideWebhookService,
	provideWebhooksController,
)

func provideWebhookRepository(db *gorm.DB) repositories.WebhookRepositoryInterface {
	return repositories.NewWebhookRepository(db)
}

func provideWebhookService(
	payments repositories.PaymentRepositoryInterface,
	inbox repositories.WebhookRepositoryInterface,
	verifiers []webhooks.Verifier,
	metrics *infra.Metrics,
	logger *zap.Logger,
) services.WebhookServiceInterface {
	return services.NewWebhookService(payments, inbox, verifiers, metrics, logger)
}

func provideWebhooksController(webhookService services.WebhookServiceInterface) *controllers.WebhooksController {
	return controllers.NewWebhooksController(webhookService)
}
