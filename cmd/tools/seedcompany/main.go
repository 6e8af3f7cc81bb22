// Command seedcompany creates a merchant tenant and prints its API token.
// The token is shown exactly once; only the bcrypt hash is stored.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"pasarela/internal/infra"
	"pasarela/internal/models/db_models"
	"pasarela/pkg/utils"
)

func main() {
	name := flag.String("name", "", "company name")
	email := flag.String("email", "", "contact email")
	flag.Parse()

	if *name == "" {
		log.Fatal("usage: seedcompany -name <company> [-email <contact>]")
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		log.Fatalf("Error generating token: %v", err)
	}
	token := hex.EncodeToString(raw)

	hash, err := utils.HashAPIToken(token)
	if err != nil {
		log.Fatalf("Error hashing token: %v", err)
	}

	db := infra.InitPostgresql()
	defer infra.ClosePostgresql(db)
	if err := infra.Migrate(db); err != nil {
		log.Fatalf("Error running migrations: %v", err)
	}

	company := db_models.Company{
		Name:         *name,
		ContactEmail: *email,
		APITokenHash: hash,
		Active:       true,
	}
	if err := db.Create(&company).Error; err != nil {
		log.Fatalf("Error creating company: %v", err)
	}

	fmt.Printf("company_id: %s\n", company.ID)
	fmt.Printf("api_token:  %s\n", token)
}
