package infra

import (
	"log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pasarela/internal/models/db_models"
)

// InitPostgresql opens the connection pool. TranslateError is required: the
// repositories rely on gorm.ErrDuplicatedKey to detect unique-index conflicts
// (idempotency keys, webhook event ids).
func InitPostgresql() *gorm.DB {
	dsn := os.Getenv("POSTGRES_URL")

	connectionPool, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		log.Printf("Error connecting to database: %v", err)
		log.Fatal("Error connecting to database")
	}

	return connectionPool
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&db_models.Company{},
		&db_models.PaymentOrder{},
		&db_models.Payment{},
		&db_models.PaymentStateHistory{},
		&db_models.ProviderEventLog{},
		&db_models.Refund{},
		&db_models.WebhookInbox{},
	)
}

func ClosePostgresql(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting database instance: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	}
}
