package db_models

// Company is a merchant tenant. Rows are created by the admin seed and are
// read-only at runtime; payments reference the owning company on every row.
type Company struct {
	BaseModel
	Name         string `gorm:"size:255;not null"`
	ContactEmail string `gorm:"size:255"`
	// Bcrypt hash of the API token; the plaintext is only shown once at seed time.
	APITokenHash string `gorm:"size:60;not null"`
	Active       bool   `gorm:"default:true"`

	Orders []PaymentOrder `gorm:"foreignKey:CompanyID"`
}
