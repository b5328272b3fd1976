package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Client is a customer account
type Client struct {
	ID         string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ClientCode string         `gorm:"index" json:"client_code"`
	Name       string         `gorm:"not null" json:"business_name"`
	RFC        string         `json:"rfc,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for Client model
func (Client) TableName() string {
	return "clients"
}

// ConstructionSite is a delivery destination owned by a client
type ConstructionSite struct {
	ID        string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ClientID  string         `gorm:"not null;index" json:"client_id"`
	Name      string         `gorm:"not null" json:"name"`
	Location  string         `json:"location,omitempty"`
	IsActive  bool           `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for ConstructionSite model
func (ConstructionSite) TableName() string {
	return "construction_sites"
}

// Recipe is a concrete mix design of a plant
type Recipe struct {
	ID            string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	PlantID       string         `gorm:"not null;index" json:"plant_id"`
	RecipeCode    string         `gorm:"not null;index" json:"recipe_code"`
	ArkikLongCode string         `gorm:"index" json:"arkik_long_code,omitempty"`
	Description   string         `json:"description,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for Recipe model
func (Recipe) TableName() string {
	return "recipes"
}

// Material is a raw material consumed by the plant
type Material struct {
	ID           string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	PlantID      string    `gorm:"not null;index" json:"plant_id"`
	MaterialCode string    `gorm:"not null;index" json:"material_code"`
	Name         string    `json:"material_name"`
	Unit         string    `gorm:"default:kg" json:"unit"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for Material model
func (Material) TableName() string {
	return "materials"
}

// ProductPrice is a unit price for a recipe. ClientID and SiteID narrow its scope;
// both empty means a plant-wide price.
type ProductPrice struct {
	ID            string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	PlantID       string          `gorm:"not null;index" json:"plant_id"`
	RecipeID      string          `gorm:"not null;index" json:"recipe_id"`
	ClientID      *string         `gorm:"index" json:"client_id,omitempty"`
	SiteID        *string         `json:"construction_site_id,omitempty"`
	BasePrice     decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"base_price"`
	QuoteID       string          `json:"quote_id,omitempty"`
	QuoteDetailID string          `json:"quote_detail_id,omitempty"`
	IsActive      bool            `gorm:"default:true;index" json:"is_active"`
	EffectiveDate time.Time       `json:"effective_date"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName specifies the table name for ProductPrice model
func (ProductPrice) TableName() string {
	return "product_prices"
}
