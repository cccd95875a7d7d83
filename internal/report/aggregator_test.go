package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pdvbar/comandas/internal/domain"
	"github.com/pdvbar/comandas/internal/pos"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var brt = time.FixedZone("BRT", -3*3600)

type fixture struct {
	backend *pos.MemoryBackend
	engine  *pos.Engine
	agg     *Aggregator
	now     time.Time
	today   []int64
}

// newFixture builds a week of activity ending Thursday 2026-03-12 15:00 BRT.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{}
	f.backend = pos.NewMemoryBackend(pos.WithClock(func() time.Time { return f.now }))
	f.backend.PutProduct(domain.Product{ID: "cerveja", Name: "Cerveja Long Neck", SellingPrice: decimal.RequireFromString("10.00"), MinStockLevel: 2})
	f.backend.PutProduct(domain.Product{ID: "agua", Name: "Agua Mineral", SellingPrice: decimal.RequireFromString("5.00")})
	f.backend.PutProduct(domain.Product{ID: "limao", Name: "Limao", SellingPrice: decimal.RequireFromString("1.00"), MinStockLevel: 10, UnitOfMeasure: "KG"})
	f.engine = pos.NewEngine(f.backend)

	f.now = time.Date(2026, 3, 1, 12, 0, 0, 0, brt)
	_, err := f.backend.Stock().Restock(ctx, "cerveja", 5)
	require.NoError(t, err)
	_, err = f.backend.Stock().Restock(ctx, "agua", 20)
	require.NoError(t, err)

	sell := func(at time.Time, table, product string, qty int64, method domain.PaymentMethod) int64 {
		f.now = at
		tab, err := f.engine.CreateTab(ctx, table, "w1")
		require.NoError(t, err)
		_, err = f.engine.AddItem(ctx, tab.ID, pos.ItemRequest{ProductID: product, Quantity: qty})
		require.NoError(t, err)
		if method != "" {
			_, err = f.engine.CloseTab(ctx, tab.ID, method)
			require.NoError(t, err)
		}
		return tab.ID
	}

	sell(time.Date(2026, 3, 1, 21, 0, 0, 0, brt), "Mesa 20", "agua", 1, domain.PaymentCash)
	sell(time.Date(2026, 3, 10, 20, 0, 0, 0, brt), "Mesa 02", "agua", 1, domain.PaymentCash)
	sell(time.Date(2026, 3, 11, 23, 30, 0, 0, brt), "Mesa 03", "agua", 1, domain.PaymentDebit)
	f.today = append(f.today,
		sell(time.Date(2026, 3, 12, 12, 0, 0, 0, brt), "Mesa 05", "cerveja", 2, domain.PaymentPix),
		sell(time.Date(2026, 3, 12, 13, 0, 0, 0, brt), "Mesa 06", "agua", 2, domain.PaymentCash),
	)
	sell(time.Date(2026, 3, 12, 14, 0, 0, 0, brt), "Mesa 07", "cerveja", 1, "")

	f.now = time.Date(2026, 3, 12, 15, 0, 0, 0, brt)
	f.agg = NewAggregator(f.backend.Tabs(), f.backend.Stock(), brt, WithNow(func() time.Time { return f.now }))
	return f
}

func TestAggregatorProjections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sales, err := f.agg.TodaySales(ctx)
	require.NoError(t, err)
	assert.Equal(t, "33.00", sales.StringFixed(2))

	active, err := f.agg.ActiveTableCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	low, err := f.agg.LowStockProducts(ctx, 5)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, "limao", low[0].ID)
	assert.Equal(t, "cerveja", low[1].ID)
	assert.Equal(t, int64(2), low[1].Stock)

	byMethod, err := f.agg.SalesByPaymentMethod(ctx)
	require.NoError(t, err)
	require.Len(t, byMethod, 2)
	assert.Equal(t, domain.PaymentCash, byMethod[0].Method)
	assert.Equal(t, "11.00", byMethod[0].Total.StringFixed(2))
	assert.Equal(t, domain.PaymentPix, byMethod[1].Method)
	assert.Equal(t, "22.00", byMethod[1].Total.StringFixed(2))
}

func TestWeeklySalesSeries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	series, err := f.agg.WeeklySalesSeries(ctx)
	require.NoError(t, err)
	require.Len(t, series, 7)

	var names, dates, totals []string
	for _, b := range series {
		names = append(names, b.Name)
		dates = append(dates, b.Date)
		totals = append(totals, b.Vendas.StringFixed(2))
	}
	assert.Equal(t, []string{"Sex", "Sáb", "Dom", "Seg", "Ter", "Qua", "Qui"}, names)
	assert.Equal(t, "2026-03-06", dates[0])
	assert.Equal(t, "2026-03-12", dates[6])
	assert.Equal(t, []string{"0.00", "0.00", "0.00", "0.00", "5.50", "5.50", "33.00"}, totals)
}

func TestStatsCombinesProjections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	s, err := f.agg.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "33.00", s.TodaySales.StringFixed(2))
	assert.Equal(t, 1, s.ActiveTables)
	assert.Equal(t, 2, s.LowStockCount)
	assert.Equal(t, int64(3), s.TotalProducts)
	assert.Equal(t, "16.50", s.AverageTicket.StringFixed(2))
	assert.Len(t, s.ChartData, 7)
	assert.Len(t, s.LowStockItems, 2)
	assert.Len(t, s.SalesByPayment, 2)
}

func TestStatsOnEmptyVenue(t *testing.T) {
	b := pos.NewMemoryBackend()
	agg := NewAggregator(b.Tabs(), b.Stock(), brt)

	s, err := agg.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, s.TodaySales.IsZero())
	assert.True(t, s.AverageTicket.IsZero())
	assert.Zero(t, s.ActiveTables)
	assert.Empty(t, s.LowStockItems)
	assert.Empty(t, s.SalesByPayment)
	for _, bucket := range s.ChartData {
		assert.True(t, bucket.Vendas.IsZero())
	}
}

func TestStatsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.agg.Cached(ctx, time.Minute)
	require.NoError(t, err)
	second, err := f.agg.Cached(ctx, time.Minute)
	require.NoError(t, err)
	assert.Same(t, first, second)

	f.now = f.now.Add(2 * time.Minute)
	third, err := f.agg.Cached(ctx, time.Minute)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	f.agg.Invalidate()
	fourth, err := f.agg.Cached(ctx, time.Minute)
	require.NoError(t, err)
	assert.NotSame(t, third, fourth)
}

func TestClosedTabsOnAndCSV(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tabs, err := f.agg.ClosedTabsOn(ctx, time.Date(2026, 3, 12, 9, 0, 0, 0, brt))
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	assert.Equal(t, f.today[0], tabs[0].ID)

	var buf bytes.Buffer
	require.NoError(t, WriteSalesCSV(&buf, tabs, brt))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "id,mesa,status,pagamento,itens,subtotal,servico,total"))
	assert.Contains(t, lines[1], "Mesa 05")
	assert.Contains(t, lines[1], "22.00")
	assert.Contains(t, lines[1], "PIX")
	assert.Contains(t, lines[2], "2026-03-12T13:00:00-03:00")

	previous, err := f.agg.ClosedTabsOn(ctx, time.Date(2026, 3, 11, 9, 0, 0, 0, brt))
	require.NoError(t, err)
	require.Len(t, previous, 1)
	assert.Equal(t, "Mesa 03", previous[0].Table)
}

func TestReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tab, err := f.engine.CreateTab(ctx, "Mesa 09", "w1")
	require.NoError(t, err)
	_, err = f.engine.AddItem(ctx, tab.ID, pos.ItemRequest{ProductID: "agua", Quantity: 2})
	require.NoError(t, err)
	_, err = f.engine.AddItem(ctx, tab.ID, pos.ItemRequest{ProductID: "agua", Quantity: 1, Courtesy: true})
	require.NoError(t, err)
	closed, err := f.engine.CloseTab(ctx, tab.ID, domain.PaymentCredit)
	require.NoError(t, err)

	text := Receipt(*closed, brt)
	assert.Contains(t, text, "COMANDA Mesa 09")
	assert.Contains(t, text, "2 x Agua Mineral")
	assert.Contains(t, text, "1 x Agua Mineral (cortesia)")
	assert.Contains(t, text, "Pagamento: CREDIT")
	assert.Contains(t, text, "11")
	assert.Contains(t, text, "12/03/2026 15:00")
}

func TestWeekdayShort(t *testing.T) {
	assert.Equal(t, "Dom", WeekdayShort(time.Sunday))
	assert.Equal(t, "Sáb", WeekdayShort(time.Saturday))
}
