package domain

import "time"

// StockEntry holds the current quantity of one product. A product without a
// row counts as quantity 0.
type StockEntry struct {
	ProductID       string    `gorm:"primaryKey;size:64" json:"productId"`
	QuantityCurrent int64     `gorm:"not null;default:0" json:"quantityCurrent"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName Specify table name
func (StockEntry) TableName() string {
	return "stock"
}

const (
	MovementSale     = "sale"
	MovementCourtesy = "courtesy"
	MovementRestock  = "restock"
)

// StockMovement is an append-only audit row, one per stock change.
type StockMovement struct {
	ID            int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	ProductID     string    `gorm:"index;size:64" json:"productId"`
	Delta         int64     `json:"delta"`
	QuantityAfter int64     `json:"quantityAfter"`
	Reason        string    `gorm:"size:32" json:"reason"`
	TabID         int64     `gorm:"index" json:"tabId,string"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

// TableName Specify table name
func (StockMovement) TableName() string {
	return "stock_movement"
}

// LowStockItem is one row of the low stock report.
type LowStockItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Stock         int64  `json:"stock"`
	MinStockLevel int64  `json:"minStockLevel"`
	Unit          string `json:"unit"`
}

// Shortfall is how far the product sits below its minimum level.
func (i LowStockItem) Shortfall() int64 {
	return i.MinStockLevel - i.Stock
}
