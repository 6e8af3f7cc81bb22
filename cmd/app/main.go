package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"pasarela/cmd/fx/companies_fx"
	"pasarela/cmd/fx/db_fx"
	"pasarela/cmd/fx/infra_fx"
	"pasarela/cmd/fx/payments_fx"
	"pasarela/cmd/fx/providers_fx"
	"pasarela/cmd/fx/webhooks_fx"
	"pasarela/internal/api/controllers"
	"pasarela/internal/infra"
	"pasarela/internal/repositories"
	"pasarela/pkg/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	app := fx.New(
		infra_fx.Module,
		db_fx.Module,
		companies_fx.Module,
		providers_fx.Module,
		payments_fx.Module,
		webhooks_fx.Module,

		fx.Provide(ProvideRouter),
		fx.Invoke(StartServer),
	)

	app.Run()
}

func StartServer(lc fx.Lifecycle, engine *gin.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			port := os.Getenv("PORT")
			if port == "" {
				port = "8080"
			}
			go func() {
				log.Printf("Starting HTTP server at :%s", port)
				if err := engine.Run(":" + port); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Println("Stopping HTTP server")
			return nil
		},
	})
}

func ProvideRouter(
	paymentsController *controllers.PaymentsController,
	webhooksController *controllers.WebhooksController,
	operatorController *controllers.OperatorController,
	healthController *controllers.HealthController,
	companies repositories.CompanyRepositoryInterface,
	metrics *infra.Metrics,
) *gin.Engine {
	r := gin.Default()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.TraceIDMiddleware())

	RegisterRoutes(r, paymentsController, webhooksController, operatorController, healthController, companies, metrics)

	return r
}

func RegisterRoutes(r *gin.Engine,
	paymentsController *controllers.PaymentsController,
	webhooksController *controllers.WebhooksController,
	operatorController *controllers.OperatorController,
	healthController *controllers.HealthController,
	companies repositories.CompanyRepositoryInterface,
	metrics *infra.Metrics,
) {
	r.GET("/health", healthController.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	payments := r.Group("/api/payments")
	// The buyer's browser hits the return endpoints straight from the PSP;
	// no merchant credentials travel with it.
	payments.GET("/:provider/return", paymentsController.Return)
	payments.POST("/:provider/return", paymentsController.Return)

	authed := payments.Group("")
	authed.Use(middleware.CompanyAuthMiddleware(companies))
	authed.POST("", paymentsController.Create)
	authed.GET("/:provider/status/:token", paymentsController.Status)
	authed.POST("/:provider/refund/:token", paymentsController.Refund)

	r.POST("/api/webhooks/:provider", webhooksController.Receive)

	operator := r.Group("/api/operator")
	operator.POST("/login", operatorController.Login)

	operatorAuthed := operator.Group("")
	operatorAuthed.Use(middleware.OperatorAuthMiddleware())
	operatorAuthed.GET("/payments", operatorController.ListPayments)
	operatorAuthed.POST("/payments/:provider/reconcile/:token", operatorController.Reconcile)
	operatorAuthed.POST("/payments/abandon-stale", operatorController.AbandonStale)
}
