package report

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pdvbar/comandas/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// LowStockPreview is how many low stock rows the dashboard shows.
const LowStockPreview = 5

// TabReader is the read side of the tab store.
type TabReader interface {
	ListByStatus(ctx context.Context, status domain.TabStatus) ([]domain.Tab, error)
	ListClosedSince(ctx context.Context, since time.Time) ([]domain.Tab, error)
}

// StockReader is the read side of the stock ledger.
type StockReader interface {
	LowStock(ctx context.Context, limit int) ([]domain.LowStockItem, error)
	CountProducts(ctx context.Context) (int64, error)
}

// DayBucket is one point of the weekly sales chart.
type DayBucket struct {
	Date   string          `json:"date"`
	Name   string          `json:"name"`
	Vendas decimal.Decimal `json:"vendas"`
}

// PaymentTotal is the amount settled with one payment method.
type PaymentTotal struct {
	Method domain.PaymentMethod `json:"method"`
	Count  int                  `json:"count"`
	Total  decimal.Decimal      `json:"total"`
}

// Stats is the manager dashboard payload.
type Stats struct {
	TodaySales     decimal.Decimal       `json:"todaySales"`
	ActiveTables   int                   `json:"activeTables"`
	LowStockCount  int                   `json:"lowStockCount"`
	TotalProducts  int64                 `json:"totalProducts"`
	AverageTicket  decimal.Decimal       `json:"averageTicket"`
	SalesByPayment []PaymentTotal        `json:"salesByPayment"`
	ChartData      []DayBucket           `json:"chartData"`
	LowStockItems  []domain.LowStockItem `json:"lowStockItems"`
	GeneratedAt    time.Time             `json:"generatedAt"`
}

// Aggregator computes read-only projections over tabs and stock. It never
// writes and never takes writer locks.
type Aggregator struct {
	tabs  TabReader
	stock StockReader
	loc   *time.Location
	now   func() time.Time

	cached atomic.Pointer[Stats]
}

type Option func(*Aggregator)

// WithNow replaces time.Now, for tests.
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator builds an aggregator whose day boundaries follow loc.
func NewAggregator(tabs TabReader, stock StockReader, loc *time.Location, opts ...Option) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	a := &Aggregator{tabs: tabs, stock: stock, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Location() *time.Location {
	return a.loc
}

func (a *Aggregator) startOfDay(t time.Time) time.Time {
	t = t.In(a.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.loc)
}

// TodaySales sums the totals of CLOSED or PAID tabs created today.
func (a *Aggregator) TodaySales(ctx context.Context) (decimal.Decimal, error) {
	tabs, err := a.closedToday(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return sumTotals(tabs), nil
}

// ActiveTableCount counts OPEN tabs.
func (a *Aggregator) ActiveTableCount(ctx context.Context) (int, error) {
	open, err := a.tabs.ListByStatus(ctx, domain.TabOpen)
	if err != nil {
		return 0, err
	}
	return len(open), nil
}

// LowStockProducts lists products at or below minimum, most severe first.
func (a *Aggregator) LowStockProducts(ctx context.Context, limit int) ([]domain.LowStockItem, error) {
	return a.stock.LowStock(ctx, limit)
}

// WeeklySalesSeries returns seven daily buckets ending today, oldest first.
// Days without sales are present with zero.
func (a *Aggregator) WeeklySalesSeries(ctx context.Context) ([]DayBucket, error) {
	today := a.startOfDay(a.now())
	start := today.AddDate(0, 0, -6)
	tabs, err := a.tabs.ListClosedSince(ctx, start)
	if err != nil {
		return nil, err
	}
	return a.weekly(today, tabs), nil
}

// SalesByPaymentMethod groups today's closed tabs by payment method.
func (a *Aggregator) SalesByPaymentMethod(ctx context.Context) ([]PaymentTotal, error) {
	tabs, err := a.closedToday(ctx)
	if err != nil {
		return nil, err
	}
	return byPaymentMethod(tabs), nil
}

// ClosedTabsOn returns CLOSED or PAID tabs created on the given local day.
func (a *Aggregator) ClosedTabsOn(ctx context.Context, day time.Time) ([]domain.Tab, error) {
	start := a.startOfDay(day)
	end := start.AddDate(0, 0, 1)
	tabs, err := a.tabs.ListClosedSince(ctx, start)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Tab, 0, len(tabs))
	for _, t := range tabs {
		if t.CreatedAt.Before(end) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Stats computes every dashboard projection concurrently.
func (a *Aggregator) Stats(ctx context.Context) (*Stats, error) {
	now := a.now()
	today := a.startOfDay(now)
	start := today.AddDate(0, 0, -6)

	var (
		week     []domain.Tab
		open     []domain.Tab
		lowStock []domain.LowStockItem
		products int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		week, err = a.tabs.ListClosedSince(gctx, start)
		return err
	})
	g.Go(func() (err error) {
		open, err = a.tabs.ListByStatus(gctx, domain.TabOpen)
		return err
	})
	g.Go(func() (err error) {
		lowStock, err = a.stock.LowStock(gctx, 0)
		return err
	})
	g.Go(func() (err error) {
		products, err = a.stock.CountProducts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	todayTabs := make([]domain.Tab, 0)
	for _, t := range week {
		if !t.CreatedAt.Before(today) {
			todayTabs = append(todayTabs, t)
		}
	}
	preview := lowStock
	if len(preview) > LowStockPreview {
		preview = preview[:LowStockPreview]
	}

	return &Stats{
		TodaySales:     sumTotals(todayTabs),
		ActiveTables:   len(open),
		LowStockCount:  len(lowStock),
		TotalProducts:  products,
		AverageTicket:  averageTicket(todayTabs),
		SalesByPayment: byPaymentMethod(todayTabs),
		ChartData:      a.weekly(today, week),
		LowStockItems:  preview,
		GeneratedAt:    now,
	}, nil
}

// Refresh recomputes the stats and keeps them for Cached.
func (a *Aggregator) Refresh(ctx context.Context) (*Stats, error) {
	s, err := a.Stats(ctx)
	if err != nil {
		return nil, err
	}
	a.cached.Store(s)
	return s, nil
}

// Cached returns the last stats computed within maxAge, refreshing when they
// are older or missing.
func (a *Aggregator) Cached(ctx context.Context, maxAge time.Duration) (*Stats, error) {
	if s := a.cached.Load(); s != nil && a.now().Sub(s.GeneratedAt) < maxAge {
		return s, nil
	}
	return a.Refresh(ctx)
}

// Invalidate drops the cached stats.
func (a *Aggregator) Invalidate() {
	a.cached.Store(nil)
}

func (a *Aggregator) closedToday(ctx context.Context) ([]domain.Tab, error) {
	return a.ClosedTabsOn(ctx, a.now())
}

func (a *Aggregator) weekly(today time.Time, tabs []domain.Tab) []DayBucket {
	buckets := make([]DayBucket, 7)
	index := make(map[string]int, 7)
	for i := 0; i < 7; i++ {
		day := today.AddDate(0, 0, i-6)
		key := day.Format("2006-01-02")
		buckets[i] = DayBucket{Date: key, Name: WeekdayShort(day.Weekday()), Vendas: decimal.Zero}
		index[key] = i
	}
	for _, t := range tabs {
		if !t.Status.Terminal() {
			continue
		}
		key := t.CreatedAt.In(a.loc).Format("2006-01-02")
		if i, ok := index[key]; ok {
			buckets[i].Vendas = buckets[i].Vendas.Add(t.Total)
		}
	}
	return buckets
}

var weekdaysPtBR = [...]string{"Dom", "Seg", "Ter", "Qua", "Qui", "Sex", "Sáb"}

// WeekdayShort is the pt-BR abbreviated weekday name.
func WeekdayShort(d time.Weekday) string {
	return weekdaysPtBR[d]
}

func sumTotals(tabs []domain.Tab) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range tabs {
		sum = sum.Add(t.Total)
	}
	return sum
}

func averageTicket(tabs []domain.Tab) decimal.Decimal {
	totals := make(stats.Float64Data, 0, len(tabs))
	for _, t := range tabs {
		f, _ := t.Total.Float64()
		totals = append(totals, f)
	}
	mean, err := stats.Mean(totals)
	if err != nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(mean).Round(2)
}

func byPaymentMethod(tabs []domain.Tab) []PaymentTotal {
	acc := make(map[domain.PaymentMethod]*PaymentTotal)
	for _, t := range tabs {
		p, ok := acc[t.PaymentMethod]
		if !ok {
			p = &PaymentTotal{Method: t.PaymentMethod, Total: decimal.Zero}
			acc[t.PaymentMethod] = p
		}
		p.Count++
		p.Total = p.Total.Add(t.Total)
	}
	out := make([]PaymentTotal, 0, len(acc))
	for _, p := range acc {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Method < out[j].Method
	})
	return out
}
