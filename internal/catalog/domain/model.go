package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Product is the catalog entry whose price acts as the floor for invoice lines.
type Product struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	SKU       string          `json:"sku" gorm:"type:varchar(64);not null;uniqueIndex:ux_products_sku"`
	Name      string          `json:"name" gorm:"type:varchar(255);not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(12,2);not null"`
	Active    bool            `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }
