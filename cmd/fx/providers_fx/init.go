package providers_fx

import (
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"pasarela/internal/infra"
	"pasarela/internal/providers"
	"pasarela/internal/repositories"
	"pasarela/internal/webhooks"
)

var Module = fx.Provide(
	provideEventSink,
	provideWebpayProvider,
	provideStripeProvider,
	providePayPalProvider,
	provideRegistry,
	provideVerifiers,
)

func provideEventSink(repo repositories.PaymentRepositoryInterface, metrics *infra.Metrics, logger *zap.Logger) providers.EventSink {
	persist := os.Getenv("PROVIDER_EVENT_LOG_DISABLED") != "true"
	return providers.NewEventSink(repo, metrics, logger, persist)
}

func provideWebpayProvider(sink providers.EventSink, logger *zap.Logger) *providers.WebpayProvider {
	cfg := providers.WebpayConfig{
		Host:         os.Getenv("WEBPAY_HOST"),
		APIBase:      os.Getenv("WEBPAY_API_BASE"),
		APIKeyID:     os.Getenv("WEBPAY_COMMERCE_CODE"),
		APIKeySecret: os.Getenv("WEBPAY_API_KEY"),
	}
	if cfg.Host == "" {
		cfg.Host = "https://webpay3gint.transbank.cl"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "/rswebpaytransaction/api/webpay/v1.2"
	}
	return providers.NewWebpayProvider(cfg, sink, logger)
}

func provideStripeProvider(sink providers.EventSink, logger *zap.Logger) *providers.StripeProvider {
	cfg := providers.StripeConfig{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
	}
	return providers.NewStripeProvider(cfg, sink, logger)
}

func providePayPalProvider(sink providers.EventSink, logger *zap.Logger) (*providers.PayPalProvider, error) {
	cfg := providers.PayPalConfig{
		ClientID:  os.Getenv("PAYPAL_CLIENT_ID"),
		Secret:    os.Getenv("PAYPAL_SECRET"),
		APIBase:   os.Getenv("PAYPAL_API_BASE"),
		WebhookID: os.Getenv("PAYPAL_WEBHOOK_ID"),
	}
	return providers.NewPayPalProvider(cfg, sink, logger)
}

func provideRegistry(
	webpay *providers.WebpayProvider,
	stripe *providers.StripeProvider,
	paypal *providers.PayPalProvider,
) *providers.Registry {
	return providers.NewRegistry(webpay, stripe, paypal)
}

func provideVerifiers(paypalProvider *providers.PayPalProvider) []webhooks.Verifier {
	return []webhooks.Verifier{
		webhooks.NewStripeVerifier(os.Getenv("STRIPE_WEBHOOK_SECRET"), 5*time.Minute),
		webhooks.NewPayPalVerifier(paypalProvider.Client(), os.Getenv("PAYPAL_WEBHOOK_ID")),
	}
}
