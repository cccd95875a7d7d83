package pos

import (
	"context"
	"time"

	"github.com/pdvbar/comandas/internal/domain"
	"github.com/pdvbar/comandas/pkg/common"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBackend stores catalog, stock and tabs in a SQL database. Units of
// work are database transactions; the tab row is locked with SELECT ... FOR
// UPDATE where the dialect supports it and stock is decremented with a
// single conditional UPDATE.
type GormBackend struct {
	db      *gorm.DB
	opts    backendOptions
	tabs    *GormTabStore
	stock   *GormStockLedger
	catalog *GormCatalog
}

var _ Backend = (*GormBackend)(nil)

func NewGormBackend(db *gorm.DB, opts ...BackendOption) *GormBackend {
	o := newBackendOptions(opts)
	return &GormBackend{
		db:      db,
		opts:    o,
		tabs:    &GormTabStore{db: db, opts: o},
		stock:   &GormStockLedger{db: db, opts: o},
		catalog: &GormCatalog{db: db},
	}
}

func (b *GormBackend) Tabs() TabStore         { return b.tabs }
func (b *GormBackend) Stock() StockLedger     { return b.stock }
func (b *GormBackend) Catalog() CatalogReader { return b.catalog }

func (b *GormBackend) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return b.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db, opts: b.opts})
	})
}

type gormTx struct {
	db   *gorm.DB
	opts backendOptions
}

func (tx *gormTx) LockTab(ctx context.Context, id int64) (*domain.Tab, error) {
	return loadTab(tx.db.WithContext(ctx), id, true)
}

func (tx *gormTx) Product(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(tx.db.WithContext(ctx), productID)
}

func (tx *gormTx) TryDeduct(ctx context.Context, productID string, qty int64) (DeductResult, error) {
	return deductStock(tx.db.WithContext(ctx), tx.opts.now().UTC(), productID, qty)
}

func (tx *gormTx) AppendItem(ctx context.Context, id int64, item domain.LineItem) (*domain.Tab, error) {
	return appendItem(tx.db.WithContext(ctx), tx.opts, id, item)
}

func (tx *gormTx) CloseTab(ctx context.Context, id int64, method domain.PaymentMethod) (*domain.Tab, error) {
	return closeTab(tx.db.WithContext(ctx), tx.opts, id, method)
}

func (tx *gormTx) RecordMovement(ctx context.Context, m domain.StockMovement) error {
	if m.ID == 0 {
		m.ID = common.UUIDint64()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = tx.opts.now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return errors.Wrap(tx.db.WithContext(ctx).Create(&m).Error, "record stock movement")
}

// GormCatalog is the SQL CatalogReader.
type GormCatalog struct {
	db *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (r *GormCatalog) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(r.db.WithContext(ctx), productID)
}

func (r *GormCatalog) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := r.db.WithContext(ctx).Order("name ASC, id ASC").Find(&products).Error; err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return products, nil
}

// GormStockLedger is the SQL StockLedger.
type GormStockLedger struct {
	db   *gorm.DB
	opts backendOptions
}

func (r *GormStockLedger) CheckAvailable(ctx context.Context, productID string, qty int64) (bool, error) {
	if qty <= 0 {
		return false, validationError("quantity", "must be greater than zero")
	}
	q, err := stockQuantity(r.db.WithContext(ctx), productID)
	if err != nil {
		return false, err
	}
	return q >= qty, nil
}

func (r *GormStockLedger) TryDeduct(ctx context.Context, productID string, qty int64) (res DeductResult, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err = deductStock(tx, r.opts.now().UTC(), productID, qty)
		return err
	})
	return res, err
}

func (r *GormStockLedger) Quantity(ctx context.Context, productID string) (int64, error) {
	return stockQuantity(r.db.WithContext(ctx), productID)
}

func (r *GormStockLedger) IsLowStock(ctx context.Context, productID string) (bool, error) {
	db := r.db.WithContext(ctx)
	p, err := getProduct(db, productID)
	if err != nil {
		return false, err
	}
	q, err := stockQuantity(db, productID)
	if err != nil {
		return false, err
	}
	return q <= p.MinStockLevel, nil
}

func (r *GormStockLedger) Restock(ctx context.Context, productID string, qty int64) (after int64, err error) {
	if qty <= 0 {
		return 0, validationError("quantity", "must be greater than zero")
	}
	now := r.opts.now().UTC()
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.StockEntry{}).
			Where("product_id = ?", productID).
			Updates(map[string]interface{}{
				"quantity_current": gorm.Expr("quantity_current + ?", qty),
				"updated_at":       now,
			})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "restock %s", productID)
		}
		if res.RowsAffected == 0 {
			entry := domain.StockEntry{ProductID: productID, QuantityCurrent: qty, UpdatedAt: now}
			if err := tx.Create(&entry).Error; err != nil {
				return errors.Wrapf(err, "create stock entry %s", productID)
			}
		}
		if after, err = stockQuantity(tx, productID); err != nil {
			return err
		}
		return errors.Wrap(tx.Create(&domain.StockMovement{
			ID:            common.UUIDint64(),
			ProductID:     productID,
			Delta:         qty,
			QuantityAfter: after,
			Reason:        domain.MovementRestock,
			CreatedAt:     now,
		}).Error, "record stock movement")
	})
	return after, err
}

func (r *GormStockLedger) LowStock(ctx context.Context, limit int) ([]domain.LowStockItem, error) {
	q := r.db.WithContext(ctx).
		Table("product AS p").
		Select("p.id AS id, p.name AS name, COALESCE(s.quantity_current, 0) AS stock, " +
			"p.min_stock_level AS min_stock_level, p.unit_of_measure AS unit").
		Joins("LEFT JOIN stock AS s ON s.product_id = p.id").
		Where("COALESCE(s.quantity_current, 0) <= p.min_stock_level").
		Order("(p.min_stock_level - COALESCE(s.quantity_current, 0)) DESC, p.name ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	items := make([]domain.LowStockItem, 0)
	if err := q.Scan(&items).Error; err != nil {
		return nil, errors.Wrap(err, "query low stock")
	}
	for i := range items {
		if items[i].Unit == "" {
			items[i].Unit = domain.UnitDefault
		}
	}
	return items, nil
}

func (r *GormStockLedger) CountProducts(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Product{}).Count(&count).Error
	return count, errors.Wrap(err, "count products")
}

// PruneMovements deletes audit rows older than before.
func (r *GormStockLedger) PruneMovements(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&domain.StockMovement{})
	return res.RowsAffected, errors.Wrap(res.Error, "prune stock movements")
}

// GormTabStore is the SQL TabStore.
type GormTabStore struct {
	db   *gorm.DB
	opts backendOptions
}

func (r *GormTabStore) Create(ctx context.Context, table, staffID string) (*domain.Tab, error) {
	now := r.opts.now().UTC()
	tab := domain.Tab{
		ID:        common.UUIDint64(),
		Table:     table,
		Status:    domain.TabOpen,
		WaiterID:  staffID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tab.Recalculate(r.opts.rate)
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&tab).Error; err != nil {
		return nil, errors.Wrap(err, "create tab")
	}
	tab.Items = []domain.LineItem{}
	return &tab, nil
}

func (r *GormTabStore) Get(ctx context.Context, id int64) (*domain.Tab, error) {
	return loadTab(r.db.WithContext(ctx), id, false)
}

func (r *GormTabStore) ListByStatus(ctx context.Context, status domain.TabStatus) ([]domain.Tab, error) {
	return listTabs(r.db.WithContext(ctx).Where("status = ?", status))
}

func (r *GormTabStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Tab, error) {
	return listTabs(r.db.WithContext(ctx).
		Where("status IN ?", []domain.TabStatus{domain.TabClosed, domain.TabPaid}).
		Where("created_at >= ?", since.UTC()))
}

func (r *GormTabStore) AppendItem(ctx context.Context, id int64, item domain.LineItem) (tab *domain.Tab, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tab, err = appendItem(tx, r.opts, id, item)
		return err
	})
	return tab, err
}

func (r *GormTabStore) Close(ctx context.Context, id int64, method domain.PaymentMethod) (tab *domain.Tab, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tab, err = closeTab(tx, r.opts, id, method)
		return err
	})
	return tab, err
}

func listTabs(q *gorm.DB) ([]domain.Tab, error) {
	tabs := make([]domain.Tab, 0)
	err := q.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).Order("created_at ASC, id ASC").Find(&tabs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list tabs")
	}
	for i := range tabs {
		if tabs[i].Items == nil {
			tabs[i].Items = []domain.LineItem{}
		}
	}
	return tabs, nil
}

func loadTab(db *gorm.DB, id int64, forUpdate bool) (*domain.Tab, error) {
	q := db
	// sqlite serializes writers on its own and has no row locks
	if forUpdate && db.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var tab domain.Tab
	if err := q.Where("id = ?", id).First(&tab).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tabNotFound(id)
		}
		return nil, errors.Wrapf(err, "query tab %d", id)
	}
	tab.Items = []domain.LineItem{}
	if err := db.Where("tab_id = ?", id).Order("seq ASC").Find(&tab.Items).Error; err != nil {
		return nil, errors.Wrapf(err, "query items of tab %d", id)
	}
	return &tab, nil
}

func appendItem(db *gorm.DB, opts backendOptions, id int64, item domain.LineItem) (*domain.Tab, error) {
	tab, err := loadTab(db, id, true)
	if err != nil {
		return nil, err
	}
	if tab.Status != domain.TabOpen {
		return nil, invalidState(tab.ID, tab.Status)
	}
	now := opts.now().UTC()
	if item.ID == 0 {
		item.ID = common.UUIDint64()
	}
	item.TabID = id
	item.Seq = len(tab.Items) + 1
	item.CreatedAt = now
	if err := db.Create(&item).Error; err != nil {
		return nil, errors.Wrapf(err, "insert item into tab %d", id)
	}

	tab.Items = append(tab.Items, item)
	tab.Recalculate(opts.rate)
	res := db.Model(&domain.Tab{}).
		Where("id = ? AND status = ?", id, domain.TabOpen).
		Updates(map[string]interface{}{
			"subtotal":   tab.Subtotal,
			"tip":        tab.Tip,
			"total":      tab.Total,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "update totals of tab %d", id)
	}
	if res.RowsAffected == 0 {
		return nil, invalidState(id, tab.Status)
	}
	tab.Version++
	tab.UpdatedAt = now
	return tab, nil
}

func closeTab(db *gorm.DB, opts backendOptions, id int64, method domain.PaymentMethod) (*domain.Tab, error) {
	if !method.Valid() {
		return nil, validationError("paymentMethod", "unsupported payment method "+string(method))
	}
	tab, err := loadTab(db, id, true)
	if err != nil {
		return nil, err
	}
	if tab.Status != domain.TabOpen {
		return nil, invalidState(tab.ID, tab.Status)
	}
	now := opts.now().UTC()
	tab.Recalculate(opts.rate)
	res := db.Model(&domain.Tab{}).
		Where("id = ? AND status = ?", id, domain.TabOpen).
		Updates(map[string]interface{}{
			"status":         domain.TabPaid,
			"payment_method": method,
			"closed_at":      now,
			"subtotal":       tab.Subtotal,
			"tip":            tab.Tip,
			"total":          tab.Total,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "close tab %d", id)
	}
	if res.RowsAffected == 0 {
		return nil, invalidState(id, tab.Status)
	}
	tab.Status = domain.TabPaid
	tab.PaymentMethod = method
	tab.ClosedAt = &now
	tab.Version++
	tab.UpdatedAt = now
	return tab, nil
}

func getProduct(db *gorm.DB, productID string) (*domain.Product, error) {
	var p domain.Product
	if err := db.Where("id = ?", productID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, productNotFound(productID)
		}
		return nil, errors.Wrapf(err, "query product %s", productID)
	}
	return &p, nil
}

func stockQuantity(db *gorm.DB, productID string) (int64, error) {
	var entries []domain.StockEntry
	if err := db.Where("product_id = ?", productID).Limit(1).Find(&entries).Error; err != nil {
		return 0, errors.Wrapf(err, "query stock of %s", productID)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[0].QuantityCurrent, nil
}

func deductStock(db *gorm.DB, now time.Time, productID string, qty int64) (DeductResult, error) {
	if qty <= 0 {
		return DeductResult{}, validationError("quantity", "must be greater than zero")
	}
	res := db.Model(&domain.StockEntry{}).
		Where("product_id = ? AND quantity_current >= ?", productID, qty).
		Updates(map[string]interface{}{
			"quantity_current": gorm.Expr("quantity_current - ?", qty),
			"updated_at":       now,
		})
	if res.Error != nil {
		return DeductResult{}, errors.Wrapf(res.Error, "deduct stock of %s", productID)
	}
	if res.RowsAffected == 0 {
		available, err := stockQuantity(db, productID)
		if err != nil {
			return DeductResult{}, err
		}
		return DeductResult{}, insufficientStock(productID, qty, available)
	}
	after, err := stockQuantity(db, productID)
	if err != nil {
		return DeductResult{}, err
	}
	return DeductResult{ProductID: productID, Deducted: qty, QuantityAfter: after}, nil
}
