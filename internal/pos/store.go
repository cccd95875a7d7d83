package pos

import (
	"context"
	"time"

	"github.com/pdvbar/comandas/internal/domain"
)

// CatalogReader looks up live catalog data. Implementations never write.
type CatalogReader interface {
	// GetProduct returns the product or a NotFound error.
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// ListProducts returns every product ordered by name.
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// DeductResult describes a successful stock deduction.
type DeductResult struct {
	ProductID     string
	Deducted      int64
	QuantityAfter int64
}

// QuantityBefore is the quantity held right before the deduction.
func (r DeductResult) QuantityBefore() int64 {
	return r.QuantityAfter + r.Deducted
}

// StockLedger tracks current quantity per product.
type StockLedger interface {
	// CheckAvailable reports whether qty units could be deducted right now.
	CheckAvailable(ctx context.Context, productID string, qty int64) (bool, error)

	// TryDeduct atomically subtracts qty when at least qty units are held,
	// and fails with InsufficientStock otherwise. Dropping below the
	// minimum level is allowed.
	TryDeduct(ctx context.Context, productID string, qty int64) (DeductResult, error)

	// IsLowStock reports whether the quantity is at or below the minimum level.
	IsLowStock(ctx context.Context, productID string) (bool, error)

	// Quantity returns the current quantity, 0 when no entry exists.
	Quantity(ctx context.Context, productID string) (int64, error)

	// Restock adds qty units and returns the new quantity.
	Restock(ctx context.Context, productID string, qty int64) (int64, error)

	// LowStock lists products at or below their minimum, largest shortfall
	// first then by name. limit <= 0 returns every match.
	LowStock(ctx context.Context, limit int) ([]domain.LowStockItem, error)

	// CountProducts returns the number of catalog products.
	CountProducts(ctx context.Context) (int64, error)
}

// TabStore persists tabs and their line items.
type TabStore interface {
	// Create opens a new tab with zero totals.
	Create(ctx context.Context, table, staffID string) (*domain.Tab, error)

	// Get returns the tab or a NotFound error.
	Get(ctx context.Context, id int64) (*domain.Tab, error)

	// ListByStatus returns tabs in creation order, ties broken by id.
	ListByStatus(ctx context.Context, status domain.TabStatus) ([]domain.Tab, error)

	// ListClosedSince returns CLOSED or PAID tabs created at or after since.
	ListClosedSince(ctx context.Context, since time.Time) ([]domain.Tab, error)

	// AppendItem adds item to an OPEN tab and recomputes its totals.
	AppendItem(ctx context.Context, id int64, item domain.LineItem) (*domain.Tab, error)

	// Close moves an OPEN tab to PAID with method attached.
	Close(ctx context.Context, id int64, method domain.PaymentMethod) (*domain.Tab, error)
}

// Tx is the set of operations available inside one unit of work. Every write
// made through a Tx is discarded when the unit fails.
type Tx interface {
	// LockTab reads a tab and holds its serialization lock until the unit ends.
	LockTab(ctx context.Context, id int64) (*domain.Tab, error)

	// Product reads the live catalog entry.
	Product(ctx context.Context, productID string) (*domain.Product, error)

	TryDeduct(ctx context.Context, productID string, qty int64) (DeductResult, error)
	AppendItem(ctx context.Context, id int64, item domain.LineItem) (*domain.Tab, error)
	CloseTab(ctx context.Context, id int64, method domain.PaymentMethod) (*domain.Tab, error)

	// RecordMovement appends a stock audit row, committed with the unit.
	RecordMovement(ctx context.Context, m domain.StockMovement) error
}

// Backend bundles the stores over one storage engine.
type Backend interface {
	Tabs() TabStore
	Stock() StockLedger
	Catalog() CatalogReader

	// Atomic runs fn as one unit of work. When fn returns an error nothing
	// it wrote is kept.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}
