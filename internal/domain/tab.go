package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TabStatus is the lifecycle state of a tab.
type TabStatus string

const (
	TabOpen   TabStatus = "OPEN"
	TabClosed TabStatus = "CLOSED"
	TabPaid   TabStatus = "PAID"
)

// Valid reports whether s is a known status.
func (s TabStatus) Valid() bool {
	switch s {
	case TabOpen, TabClosed, TabPaid:
		return true
	}
	return false
}

// Terminal reports whether no further mutation is allowed in this status.
// CLOSED and PAID are treated alike.
func (s TabStatus) Terminal() bool {
	return s == TabClosed || s == TabPaid
}

// PaymentMethod settles a tab.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentDebit  PaymentMethod = "DEBIT"
	PaymentCredit PaymentMethod = "CREDIT"
	PaymentPix    PaymentMethod = "PIX"
)

// PaymentMethods lists the accepted methods in display order.
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentDebit, PaymentCredit, PaymentPix}

// Valid reports whether m is one of the accepted methods. Matching is exact.
func (m PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods {
		if m == v {
			return true
		}
	}
	return false
}

// DefaultServiceChargeRate is the service charge applied over the subtotal.
var DefaultServiceChargeRate = decimal.NewFromFloat(0.10)

// Tab is an open bill ("comanda") attached to a table.
type Tab struct {
	ID            int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Table         string          `gorm:"column:table_label;index;size:64" json:"table"`
	Status        TabStatus       `gorm:"index;size:16" json:"status"`
	Items         []LineItem      `gorm:"foreignKey:TabID" json:"items"`
	Subtotal      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"subtotal"`
	Tip           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tip"`
	Total         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total"`
	WaiterID      string          `gorm:"index;size:64" json:"waiterId"`
	PaymentMethod PaymentMethod   `gorm:"size:16" json:"paymentMethod,omitempty"`
	Version       int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time       `gorm:"index" json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	ClosedAt      *time.Time      `json:"closedAt,omitempty"`
}

// TableName Specify table name
func (Tab) TableName() string {
	return "comanda"
}

// LineItem is one addition to a tab. Name and UnitPrice are snapshots taken
// from the catalog when the item was added.
type LineItem struct {
	ID         int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	TabID      int64           `gorm:"index" json:"-"`
	Seq        int             `gorm:"not null" json:"seq"`
	ProductID  string          `gorm:"index;size:64" json:"productId"`
	Name       string          `gorm:"size:200" json:"name"`
	Quantity   int64           `gorm:"not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unitPrice"`
	IsCourtesy bool            `gorm:"not null;default:false" json:"isCourtesy"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// TableName Specify table name
func (LineItem) TableName() string {
	return "comanda_item"
}

// LineTotal is unit price times quantity; courtesy lines are worth zero.
func (li LineItem) LineTotal() decimal.Decimal {
	if li.IsCourtesy {
		return decimal.Zero
	}
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// Recalculate derives subtotal, tip and total from the item list.
func (t *Tab) Recalculate(rate decimal.Decimal) {
	subtotal := decimal.Zero
	for _, it := range t.Items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	t.Subtotal = subtotal.Round(2)
	t.Tip = t.Subtotal.Mul(rate).Round(2)
	t.Total = t.Subtotal.Add(t.Tip)
}

// Clone returns a copy that shares nothing mutable with t.
func (t Tab) Clone() Tab {
	c := t
	if t.Items != nil {
		c.Items = make([]LineItem, len(t.Items))
		copy(c.Items, t.Items)
	}
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		c.ClosedAt = &closed
	}
	return c
}
