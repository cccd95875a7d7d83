package pos

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/pdvbar/comandas/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCatalog(t *testing.T, b *MemoryBackend) {
	t.Helper()
	b.PutProduct(domain.Product{
		ID:            "cerveja",
		Name:          "Cerveja Long Neck",
		SellingPrice:  decimal.RequireFromString("10.00"),
		UnitOfMeasure: "UN",
		MinStockLevel: 2,
	})
	b.PutProduct(domain.Product{
		ID:            "agua",
		Name:          "Agua Mineral",
		SellingPrice:  decimal.RequireFromString("5.00"),
		UnitOfMeasure: "UN",
	})
	ctx := context.Background()
	_, err := b.Stock().Restock(ctx, "cerveja", 5)
	require.NoError(t, err)
	_, err = b.Stock().Restock(ctx, "agua", 10)
	require.NoError(t, err)
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *MemoryBackend) {
	t.Helper()
	b := NewMemoryBackend()
	seedCatalog(t, b)
	return NewEngine(b, opts...), b
}

func quantityOf(t *testing.T, b Backend, productID string) int64 {
	t.Helper()
	q, err := b.Stock().Quantity(context.Background(), productID)
	require.NoError(t, err)
	return q
}

func TestEngineTableFlow(t *testing.T) {
	ctx := context.Background()
	engine, backend := newTestEngine(t)

	tab, err := engine.CreateTab(ctx, "  Mesa 05 ", "w1")
	require.NoError(t, err)
	assert.Equal(t, "Mesa 05", tab.Table)
	assert.Equal(t, domain.TabOpen, tab.Status)
	assert.True(t, tab.Total.IsZero())
	assert.Empty(t, tab.Items)

	tab, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, "20.00", tab.Subtotal.StringFixed(2))
	assert.Equal(t, "2.00", tab.Tip.StringFixed(2))
	assert.Equal(t, "22.00", tab.Total.StringFixed(2))
	assert.Equal(t, int64(3), quantityOf(t, backend, "cerveja"))

	tab, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "agua", Quantity: 1, Courtesy: true})
	require.NoError(t, err)
	require.Len(t, tab.Items, 2)
	assert.True(t, tab.Items[1].IsCourtesy)
	assert.Equal(t, "5.00", tab.Items[1].UnitPrice.StringFixed(2))
	assert.Equal(t, "22.00", tab.Total.StringFixed(2))
	assert.Equal(t, int64(9), quantityOf(t, backend, "agua"))

	closed, err := engine.CloseTab(ctx, tab.ID, domain.PaymentPix)
	require.NoError(t, err)
	assert.Equal(t, domain.TabPaid, closed.Status)
	assert.Equal(t, domain.PaymentPix, closed.PaymentMethod)
	assert.Equal(t, "22.00", closed.Total.StringFixed(2))
	require.NotNil(t, closed.ClosedAt)

	open, err := engine.ListOpenTabs(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	moves := backend.Movements()
	var sold []domain.StockMovement
	for _, m := range moves {
		if m.Reason != domain.MovementRestock {
			sold = append(sold, m)
		}
	}
	require.Len(t, sold, 2)
	assert.Equal(t, domain.MovementSale, sold[0].Reason)
	assert.Equal(t, int64(-2), sold[0].Delta)
	assert.Equal(t, domain.MovementCourtesy, sold[1].Reason)
	assert.Equal(t, tab.ID, sold[1].TabID)
}

func TestAddItemRejectsNonPositiveQuantity(t *testing.T) {
	ctx := context.Background()
	engine, backend := newTestEngine(t)
	tab, err := engine.CreateTab(ctx, "Mesa 01", "w1")
	require.NoError(t, err)

	for _, qty := range []int64{0, -1} {
		_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: qty})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	}
	assert.Equal(t, int64(5), quantityOf(t, backend, "cerveja"))
}

func TestAddItemInsufficientStockLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	engine, backend := newTestEngine(t)
	tab, err := engine.CreateTab(ctx, "Mesa 02", "w1")
	require.NoError(t, err)
	movesBefore := len(backend.Movements())

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 6})
	require.Error(t, err)
	var posErr *Error
	require.True(t, errors.As(err, &posErr))
	assert.Equal(t, KindInsufficientStock, posErr.Kind)
	assert.Equal(t, "cerveja", posErr.ProductID)
	assert.Equal(t, int64(6), posErr.Requested)
	assert.Equal(t, int64(5), posErr.Available)

	got, err := engine.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.True(t, got.Total.IsZero())
	assert.Equal(t, int64(5), quantityOf(t, backend, "cerveja"))
	assert.Len(t, backend.Movements(), movesBefore)
}

func TestAddItemDeductsToExactlyZero(t *testing.T) {
	ctx := context.Background()
	engine, backend := newTestEngine(t)
	tab, err := engine.CreateTab(ctx, "Mesa 03", "w1")
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(0), quantityOf(t, backend, "cerveja"))

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 1})
	assert.True(t, errors.Is(err, ErrInsufficientStock))
}

func TestAddItemOnClosedTab(t *testing.T) {
	ctx := context.Background()
	engine, backend := newTestEngine(t)
	tab, err := engine.CreateTab(ctx, "Mesa 04", "w1")
	require.NoError(t, err)
	_, err = engine.CloseTab(ctx, tab.ID, domain.PaymentCash)
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, int64(5), quantityOf(t, backend, "cerveja"))
}

func TestAddItemNotFound(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	tab, err := engine.CreateTab(ctx, "Mesa 06", "w1")
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "vinho", Quantity: 1})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = engine.AddItem(ctx, 42, ItemRequest{ProductID: "cerveja", Quantity: 1})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = engine.GetTab(ctx, 42)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAddItemKeepsPriceSnapshot(t *testing.T) {
	ctx := context.Background()
	engine, backend := newTestEngine(t)
	tab, err := engine.CreateTab(ctx, "Mesa 07", "w1")
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "agua", Quantity: 1})
	require.NoError(t, err)

	backend.PutProduct(domain.Product{ID: "agua", Name: "Agua Mineral", SellingPrice: decimal.RequireFromString("6.50")})

	tab, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "agua", Quantity: 1})
	require.NoError(t, err)
	require.Len(t, tab.Items, 2)
	assert.Equal(t, "5.00", tab.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "6.50", tab.Items[1].UnitPrice.StringFixed(2))
	assert.Equal(t, "11.50", tab.Subtotal.StringFixed(2))
	assert.Equal(t, 1, tab.Items[0].Seq)
	assert.Equal(t, 2, tab.Items[1].Seq)
}

func TestCloseTabIdempotence(t *testing.T) {
	ctx := context.Background()
	bus := EventBus.New()
	var closedEvents []TabClosedEvent
	require.NoError(t, bus.Subscribe(TopicTabClosed, func(evt TabClosedEvent) {
		closedEvents = append(closedEvents, evt)
	}))
	engine, _ := newTestEngine(t, WithEventBus(bus))

	tab, err := engine.CreateTab(ctx, "Mesa 08", "w1")
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 1})
	require.NoError(t, err)

	first, err := engine.CloseTab(ctx, tab.ID, domain.PaymentCash)
	require.NoError(t, err)
	second, err := engine.CloseTab(ctx, tab.ID, domain.PaymentCash)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Total.String(), second.Total.String())
	assert.Equal(t, domain.TabPaid, second.Status)

	_, err = engine.CloseTab(ctx, tab.ID, domain.PaymentDebit)
	require.Error(t, err)
	var posErr *Error
	require.True(t, errors.As(err, &posErr))
	assert.Equal(t, KindAlreadyClosed, posErr.Kind)
	assert.Equal(t, domain.PaymentCash, posErr.Existing)
	assert.Equal(t, domain.PaymentDebit, posErr.Method)

	require.Len(t, closedEvents, 1)
	assert.Equal(t, tab.ID, closedEvents[0].Tab.ID)
}

func TestCloseTabRejectsUnknownMethod(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	tab, err := engine.CreateTab(ctx, "Mesa 09", "w1")
	require.NoError(t, err)

	_, err = engine.CloseTab(ctx, tab.ID, domain.PaymentMethod("BITCOIN"))
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = engine.CloseTab(ctx, 42, domain.PaymentMethod("BITCOIN"))
	assert.True(t, errors.Is(err, ErrValidation))

	got, err := engine.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TabOpen, got.Status)
}

func TestCreateTabValidation(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	_, err := engine.CreateTab(ctx, "   ", "w1")
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = engine.CreateTab(ctx, "Mesa 10", "")
	assert.True(t, errors.Is(err, ErrValidation))

	a, err := engine.CreateTab(ctx, "Mesa 10", "w1")
	require.NoError(t, err)
	b, err := engine.CreateTab(ctx, "Mesa 10", "w2")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestListOpenTabsCreationOrder(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	now := base
	b := NewMemoryBackend(WithClock(func() time.Time { return now }))
	seedCatalog(t, b)
	engine := NewEngine(b)

	var ids []int64
	for i, label := range []string{"Mesa 03", "Mesa 01", "Mesa 02"} {
		now = base.Add(time.Duration(i) * time.Minute)
		tab, err := engine.CreateTab(ctx, label, "w1")
		require.NoError(t, err)
		ids = append(ids, tab.ID)
	}
	_, err := engine.CloseTab(ctx, ids[1], domain.PaymentCredit)
	require.NoError(t, err)

	open, err := engine.ListOpenTabs(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, ids[0], open[0].ID)
	assert.Equal(t, ids[2], open[1].ID)

	paid, err := engine.ListTabs(ctx, domain.TabPaid)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, ids[1], paid[0].ID)

	_, err = engine.ListTabs(ctx, domain.TabStatus("LOST"))
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestConcurrentAddItemSingleWinner(t *testing.T) {
	ctx := context.Background()
	engine, backend := newTestEngine(t)
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

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, int64(1), quantityOf(t, backend, "cerveja"))
}

func TestConcurrentAddItemSameTab(t *testing.T) {
	ctx := context.Background()
	engine, backend := newTestEngine(t)
	_, err := backend.Stock().Restock(ctx, "agua", 90)
	require.NoError(t, err)
	tab, err := engine.CreateTab(ctx, "Mesa 13", "w1")
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "agua", Quantity: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := engine.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, workers)
	seen := make(map[int]bool)
	for _, it := range got.Items {
		seen[it.Seq] = true
	}
	assert.Len(t, seen, workers)
	assert.Equal(t, "250.00", got.Subtotal.StringFixed(2))
	assert.Equal(t, "275.00", got.Total.StringFixed(2))
	assert.Equal(t, int64(workers), got.Version)
	assert.Equal(t, int64(50), quantityOf(t, backend, "agua"))
}

func TestLowStockEventOnCrossing(t *testing.T) {
	ctx := context.Background()
	bus := EventBus.New()
	var events []LowStockEvent
	require.NoError(t, bus.Subscribe(TopicLowStock, func(evt LowStockEvent) {
		events = append(events, evt)
	}))
	engine, _ := newTestEngine(t, WithEventBus(bus))
	tab, err := engine.CreateTab(ctx, "Mesa 14", "w1")
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 2})
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "cerveja", events[0].ProductID)
	assert.Equal(t, int64(2), events[0].Quantity)
	assert.Equal(t, int64(2), events[0].MinStockLevel)

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 1, Courtesy: true})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCourtesyAtLowStockPublishesNothing(t *testing.T) {
	ctx := context.Background()
	bus := EventBus.New()
	published := 0
	require.NoError(t, bus.Subscribe(TopicLowStock, func(LowStockEvent) { published++ }))
	engine, _ := newTestEngine(t, WithEventBus(bus))
	tab, err := engine.CreateTab(ctx, "Mesa 15", "w1")
	require.NoError(t, err)

	_, err = engine.AddItem(ctx, tab.ID, ItemRequest{ProductID: "cerveja", Quantity: 4, Courtesy: true})
	require.NoError(t, err)
	assert.Zero(t, published)
}
