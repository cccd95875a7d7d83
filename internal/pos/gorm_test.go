package pos

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pdvbar/comandas/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(domain.Tables...))
	return db
}

func newGormFixture(t *testing.T, opts ...BackendOption) (*GormBackend, *gorm.DB) {
	t.Helper()
	db := newSQLiteDB(t)
	ctx := context.Background()
	for _, p := range []domain.Product{
		{ID: "cerveja", Name: "Cerveja Long Neck", SellingPrice: decimal.RequireFromString("10.00"), MinStockLevel: 2},
		{ID: "agua", Name: "Agua Mineral", SellingPrice: decimal.RequireFromString("5.00")},
		{ID: "limao", Name: "Limao", SellingPrice: decimal.RequireFromString("1.00"), MinStockLevel: 10, UnitOfMeasure: "KG"},
	} {
		require.NoError(t, db.Create(&p).Error)
	}
	b := NewGormBackend(db, opts...)
	_, err := b.Stock().Restock(ctx, "cerveja", 5)
	require.NoError(t, err)
	_, err = b.Stock().Restock(ctx, "agua", 10)
	require.NoError(t, err)
	return b, db
}

func TestGormEngineTableFlow(t *testing.T) {
	ctx := context.Background()
	backend, db := newGormFixture(t)
	engine := NewEngine(backend)

	tab, err := engine.CreateTab(ctx, "Mesa 05", "w1")
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 2})
	require.NoError(t, err)
	tab, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "agua", Quantity: 1, Courtesy: true})
	require.NoError(t, err)
	assert.Equal(t, "20.00", tab.Subtotal.StringFixed(2))
	assert.Equal(t, "22.00", tab.Total.StringFixed(2))
	assert.Equal(t, int64(2), tab.Version)

	closed, err := engine.CloseTab(ctx, tab.ID, domain.PaymentPix)
	require.NoError(t, err)
	assert.Equal(t, domain.TabPaid, closed.Status)

	stored, err := engine.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TabPaid, stored.Status)
	assert.Equal(t, domain.PaymentPix, stored.PaymentMethod)
	assert.Equal(t, "22.00", stored.Total.StringFixed(2))
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "Cerveja Long Neck", stored.Items[0].Name)
	assert.True(t, stored.Items[1].IsCourtesy)

	assert.Equal(t, int64(3), quantityOf(t, backend, "cerveja"))
	assert.Equal(t, int64(9), quantityOf(t, backend, "agua"))

	var sales int64
	require.NoError(t, db.Model(&domain.StockMovement{}).Where("tab_id = ?", tab.ID).Count(&sales).Error)
	assert.Equal(t, int64(2), sales)

	again, err := engine.CloseTab(ctx, tab.ID, domain.PaymentPix)
	require.NoError(t, err)
	assert.Equal(t, closed.Version, again.Version)
	_, err = engine.CloseTab(ctx, tab.ID, domain.PaymentCash)
	assert.True(t, errors.Is(err, ErrAlreadyClosed))
}

func TestGormAddItemRollsBack(t *testing.T) {
	ctx := context.Background()
	backend, db := newGormFixture(t)
	engine := NewEngine(backend)
	tab, err := engine.CreateTab(ctx, "Mesa 02", "w1")
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 6})
	var posErr *Error
	require.True(t, errors.As(err, &posErr))
	assert.Equal(t, KindInsufficientStock, posErr.Kind)
	assert.Equal(t, int64(5), posErr.Available)

	var items int64
	require.NoError(t, db.Model(&domain.LineItem{}).Where("tab_id = ?", tab.ID).Count(&items).Error)
	assert.Zero(t, items)
	assert.Equal(t, int64(5), quantityOf(t, backend, "cerveja"))

	// a failure after the deduction must undo it too
	boom := errors.New("boom")
	err = backend.Atomic(ctx, func(tx Tx) error {
		if _, err := tx.TryDeduct(ctx, "cerveja", 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(5), quantityOf(t, backend, "cerveja"))
}

func TestGormAddItemInvalidStateAndNotFound(t *testing.T) {
	ctx := context.Background()
	backend, _ := newGormFixture(t)
	engine := NewEngine(backend)
	tab, err := engine.CreateTab(ctx, "Mesa 03", "w1")
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "vinho", Quantity: 1})
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = engine.AddItem(ctx, 123, ItemRequest{ProductID: "agua", Quantity: 1})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = engine.CloseTab(ctx, tab.ID, domain.PaymentCredit)
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "agua", Quantity: 1})
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, int64(10), quantityOf(t, backend, "agua"))
}

func TestGormConcurrentAddItemSingleWinner(t *testing.T) {
	ctx := context.Background()
	backend, _ := newGormFixture(t)
	engine := NewEngine(backend)
	tabA, err := engine.CreateTab(ctx, "Mesa 11", "w1")
	require.NoError(t, err)
	tabB, err := engine.CreateTab(ctx, "Mesa 12", "w2")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{tabA.ID, tabB.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = engine.AddItem(ctx, id, ItemRequest{ProductID: "cerveja", Quantity: 4})
		}(i, id)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			require.True(t, errors.Is(err, ErrInsufficientStock), err)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, int64(1), quantityOf(t, backend, "cerveja"))
}

func TestGormLowStockQuery(t *testing.T) {
	ctx := context.Background()
	backend, db := newGormFixture(t)
	require.NoError(t, db.Create(&domain.Product{
		ID: "gin", Name: "Gin", SellingPrice: decimal.NewFromInt(30), MinStockLevel: 0,
	}).Error)

	items, err := backend.Stock().LowStock(ctx, 0)
	require.NoError(t, err)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	// limao and gin have no stock entry
	assert.Equal(t, []string{"limao", "gin"}, ids)
	assert.Equal(t, int64(0), items[0].Stock)
	assert.Equal(t, "KG", items[0].Unit)
	assert.Equal(t, domain.UnitDefault, items[1].Unit)

	_, err = backend.Stock().TryDeduct(ctx, "cerveja", 3)
	require.NoError(t, err)
	low, err := backend.Stock().IsLowStock(ctx, "cerveja")
	require.NoError(t, err)
	assert.True(t, low)

	top, err := backend.Stock().LowStock(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "limao", top[0].ID)

	count, err := backend.Stock().CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestGormTabListing(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 7, 3, 18, 0, 0, 0, time.UTC)
	now := base
	backend, _ := newGormFixture(t, WithClock(func() time.Time { return now }))
	store := backend.Tabs()

	var ids []int64
	for i, label := range []string{"Mesa 09", "Mesa 01", "Mesa 04"} {
		now = base.Add(time.Duration(i) * time.Minute)
		tab, err := store.Create(ctx, label, "w1")
		require.NoError(t, err)
		ids = append(ids, tab.ID)
	}
	_, err := store.Close(ctx, ids[0], domain.PaymentCash)
	require.NoError(t, err)

	open, err := store.ListByStatus(ctx, domain.TabOpen)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, ids[1], open[0].ID)
	assert.Equal(t, ids[2], open[1].ID)
	assert.NotNil(t, open[0].Items)

	closed, err := store.ListClosedSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, ids[0], closed[0].ID)

	closed, err = store.ListClosedSince(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestGormPruneMovements(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	backend, db := newGormFixture(t, WithClock(func() time.Time { return now }))

	pruned, err := backend.stock.PruneMovements(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	var left int64
	require.NoError(t, db.Model(&domain.StockMovement{}).Count(&left).Error)
	assert.Zero(t, left)
}
