package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Catalog management lives outside the POS core,
// which only reads products.
type Product struct {
	ID            string          `gorm:"primaryKey;size:64" json:"id"`
	Name          string          `gorm:"index;size:200" json:"name"`
	Description   string          `gorm:"size:1024" json:"description,omitempty"`
	SellingPrice  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"sellingPrice"`
	UnitOfMeasure string          `gorm:"size:16;default:UN" json:"unitOfMeasure"`
	MinStockLevel int64           `gorm:"not null;default:0" json:"minStockLevel"`
	Category      string          `gorm:"index;size:100" json:"category,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TableName Specify table name
func (Product) TableName() string {
	return "product"
}

// Unit returns the unit of measure, defaulting to UN.
func (p Product) Unit() string {
	if p.UnitOfMeasure == "" {
		return UnitDefault
	}
	return p.UnitOfMeasure
}

const UnitDefault = "UN"
