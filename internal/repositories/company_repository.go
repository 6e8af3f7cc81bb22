package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pasarela/internal/models/db_models"
)

type CompanyRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*db_models.Company, error)
	Create(ctx context.Context, company *db_models.Company) error
}

func NewCompanyRepository(db *gorm.DB) CompanyRepositoryInterface {
	return &CompanyRepository{db: db}
}

type CompanyRepository struct {
	db *gorm.DB
}

func (r *CompanyRepository) GetByID(ctx context.Context, id uuid.UUID) (*db_models.Company, error) {
	var company db_models.Company
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &company, nil
}

func (r *CompanyRepository) Create(ctx context.Context, company *db_models.Company) error {
	return r.db.WithContext(ctx).Create(company).Error
}
