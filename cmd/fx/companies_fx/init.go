package companies_fx

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"pasarela/internal/repositories"
)

var Module = fx.Provide(
	provideCompanyRepository,
)

func provideCompanyRepository(db *gorm.DB) repositories.CompanyRepositoryInterface {
	return repositories.NewCompanyRepository(db)
}
