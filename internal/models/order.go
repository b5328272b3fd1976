package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus defines possible order statuses
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusApproved  OrderStatus = "approved"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a sales order that groups delivery slips of one client, site and day
type Order struct {
	ID                 string      `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	PlantID            string      `gorm:"not null;index" json:"plant_id"`
	OrderNumber        string      `gorm:"uniqueIndex;not null" json:"order_number"`
	ClientID           string      `gorm:"index" json:"client_id"`
	ConstructionSiteID string      `gorm:"index" json:"construction_site_id"`
	ConstructionSite   string      `json:"construction_site"`
	DeliveryDate       time.Time   `gorm:"type:date;index" json:"delivery_date"`
	Status             OrderStatus `gorm:"default:created;index" json:"status"`

	// Created from an Arkik import rather than by a salesperson
	AutoGenerated bool            `gorm:"default:false" json:"auto_generated"`
	Total         decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"total"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

// TableName specifies the table name for Order model
func (Order) TableName() string {
	return "orders"
}

// IsOpen reports whether the order still accepts deliveries
func (o *Order) IsOpen() bool {
	return o.Status != OrderStatusCompleted && o.Status != OrderStatusCancelled
}

// OrderItem is one order line; imported lines are keyed by the delivery slip number
type OrderItem struct {
	ID            string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	OrderID       string          `gorm:"not null;uniqueIndex:idx_order_item_record" json:"order_id"`
	RecordNumber  string          `gorm:"not null;uniqueIndex:idx_order_item_record" json:"record_number"`
	RecipeID      string          `gorm:"index" json:"recipe_id"`
	ProductType   string          `gorm:"not null" json:"product_type"`
	Volume        decimal.Decimal `gorm:"type:numeric(12,3);not null;default:0" json:"volume"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"unit_price"`
	TotalPrice    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"total_price"`
	QuoteDetailID string          `json:"quote_detail_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName specifies the table name for OrderItem model
func (OrderItem) TableName() string {
	return "order_items"
}

// BeforeSave keeps the line total in step with volume and price
func (i *OrderItem) BeforeSave(tx *gorm.DB) error {
	i.TotalPrice = i.Volume.Mul(i.UnitPrice).Round(2)
	return nil
}

// OrderPrice is the price snapshot an order was billed with, one per recipe
type OrderPrice struct {
	ID            string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	OrderID       string          `gorm:"not null;uniqueIndex:idx_order_price_recipe" json:"order_id"`
	RecipeID      string          `gorm:"not null;uniqueIndex:idx_order_price_recipe" json:"recipe_id"`
	ClientID      string          `json:"client_id,omitempty"`
	SiteID        string          `json:"site_id,omitempty"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Source        string          `gorm:"not null" json:"source"` // client_site, client, plant
	QuoteDetailID string          `json:"quote_detail_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName specifies the table name for OrderPrice model
func (OrderPrice) TableName() string {
	return "order_prices"
}
