package db_fx

import (
	"log"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"pasarela/internal/api/controllers"
	"pasarela/internal/infra"
)

var Module = fx.Provide(
	provideDB, provideHealthController,
)

func provideDB() *gorm.DB {
	db := infra.InitPostgresql()
	if err := infra.Migrate(db); err != nil {
		log.Fatalf("Error running migrations: %v", err)
	}
	return db
}

func provideHealthController(db *gorm.DB) *controllers.HealthController {
	return controllers.NewHealthController(db)
}
