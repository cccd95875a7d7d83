package pos

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/pdvbar/comandas/internal/domain"
	"github.com/pdvbar/comandas/pkg/common"
)

// MemoryBackend keeps catalog, stock and tabs in process memory.
//
// Writers of one tab are serialized by a per-tab mutex; readers load
// immutable snapshots through atomic pointers and walk a copy-on-write
// creation index, so reporting never waits on a writer. Stock counters are
// per-product atomics decremented with a CAS loop.
type MemoryBackend struct {
	opts    backendOptions
	catalog *memoryCatalog
	stock   *memoryLedger
	tabs    *memoryTabStore

	movMu     sync.Mutex
	movements []domain.StockMovement
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend(opts ...BackendOption) *MemoryBackend {
	o := newBackendOptions(opts)
	b := &MemoryBackend{opts: o}
	b.catalog = &memoryCatalog{products: make(map[string]domain.Product)}
	b.stock = &memoryLedger{catalog: b.catalog, record: b.appendMovements, now: o.now}
	b.tabs = newMemoryTabStore(o)
	return b
}

func (b *MemoryBackend) Tabs() TabStore         { return b.tabs }
func (b *MemoryBackend) Stock() StockLedger     { return b.stock }
func (b *MemoryBackend) Catalog() CatalogReader { return b.catalog }

// PutProduct inserts or replaces a catalog entry.
func (b *MemoryBackend) PutProduct(p domain.Product) {
	b.catalog.put(p)
}

// Movements returns a copy of the stock audit trail.
func (b *MemoryBackend) Movements() []domain.StockMovement {
	b.movMu.Lock()
	defer b.movMu.Unlock()
	out := make([]domain.StockMovement, len(b.movements))
	copy(out, b.movements)
	return out
}

func (b *MemoryBackend) appendMovements(ms ...domain.StockMovement) {
	if len(ms) == 0 {
		return
	}
	b.movMu.Lock()
	b.movements = append(b.movements, ms...)
	b.movMu.Unlock()
}

func (b *MemoryBackend) Atomic(ctx context.Context, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{b: b, locked: make(map[int64]*tabEntry)}
	defer func() {
		for _, e := range tx.locked {
			e.mu.Unlock()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()
	if err = fn(tx); err != nil {
		tx.rollback()
		return err
	}
	b.appendMovements(tx.movements...)
	return nil
}

type memoryTx struct {
	b         *MemoryBackend
	locked    map[int64]*tabEntry
	undo      []func()
	movements []domain.StockMovement
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.movements = nil
}

func (tx *memoryTx) lock(id int64) (*tabEntry, error) {
	if e, ok := tx.locked[id]; ok {
		return e, nil
	}
	e, err := tx.b.tabs.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	tx.locked[id] = e
	return e, nil
}

func (tx *memoryTx) LockTab(_ context.Context, id int64) (*domain.Tab, error) {
	e, err := tx.lock(id)
	if err != nil {
		return nil, err
	}
	t := e.snap.Load().Clone()
	return &t, nil
}

func (tx *memoryTx) Product(ctx context.Context, productID string) (*domain.Product, error) {
	return tx.b.catalog.GetProduct(ctx, productID)
}

func (tx *memoryTx) TryDeduct(ctx context.Context, productID string, qty int64) (DeductResult, error) {
	res, err := tx.b.stock.TryDeduct(ctx, productID, qty)
	if err != nil {
		return res, err
	}
	tx.undo = append(tx.undo, func() { tx.b.stock.refund(productID, qty) })
	return res, nil
}

func (tx *memoryTx) AppendItem(_ context.Context, id int64, item domain.LineItem) (*domain.Tab, error) {
	e, err := tx.lock(id)
	if err != nil {
		return nil, err
	}
	prev := e.snap.Load()
	t, err := tx.b.tabs.appendLocked(e, item)
	if err != nil {
		return nil, err
	}
	tx.undo = append(tx.undo, func() { e.snap.Store(prev) })
	return t, nil
}

func (tx *memoryTx) CloseTab(_ context.Context, id int64, method domain.PaymentMethod) (*domain.Tab, error) {
	e, err := tx.lock(id)
	if err != nil {
		return nil, err
	}
	prev := e.snap.Load()
	t, err := tx.b.tabs.closeLocked(e, method)
	if err != nil {
		return nil, err
	}
	tx.undo = append(tx.undo, func() { e.snap.Store(prev) })
	return t, nil
}

func (tx *memoryTx) RecordMovement(_ context.Context, m domain.StockMovement) error {
	if m.ID == 0 {
		m.ID = common.UUIDint64()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = tx.b.opts.now()
	}
	tx.movements = append(tx.movements, m)
	return nil
}

// catalog

type memoryCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func (c *memoryCatalog) put(p domain.Product) {
	c.mu.Lock()
	c.products[p.ID] = p
	c.mu.Unlock()
}

func (c *memoryCatalog) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	c.mu.RLock()
	p, ok := c.products[productID]
	c.mu.RUnlock()
	if !ok {
		return nil, productNotFound(productID)
	}
	return &p, nil
}

func (c *memoryCatalog) ListProducts(_ context.Context) ([]domain.Product, error) {
	c.mu.RLock()
	out := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c *memoryCatalog) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

// stock ledger

type memoryLedger struct {
	catalog  *memoryCatalog
	counters sync.Map // product id -> *atomic.Int64
	record   func(...domain.StockMovement)
	now      func() time.Time
}

func (l *memoryLedger) counter(productID string) *atomic.Int64 {
	v, ok := l.counters.Load(productID)
	if !ok {
		return nil
	}
	return v.(*atomic.Int64)
}

func (l *memoryLedger) counterOrCreate(productID string) *atomic.Int64 {
	v, _ := l.counters.LoadOrStore(productID, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (l *memoryLedger) Quantity(_ context.Context, productID string) (int64, error) {
	c := l.counter(productID)
	if c == nil {
		return 0, nil
	}
	return c.Load(), nil
}

func (l *memoryLedger) CheckAvailable(ctx context.Context, productID string, qty int64) (bool, error) {
	if qty <= 0 {
		return false, validationError("quantity", "must be greater than zero")
	}
	q, err := l.Quantity(ctx, productID)
	if err != nil {
		return false, err
	}
	return q >= qty, nil
}

func (l *memoryLedger) TryDeduct(_ context.Context, productID string, qty int64) (DeductResult, error) {
	if qty <= 0 {
		return DeductResult{}, validationError("quantity", "must be greater than zero")
	}
	c := l.counter(productID)
	if c == nil {
		return DeductResult{}, insufficientStock(productID, qty, 0)
	}
	for {
		cur := c.Load()
		if cur < qty {
			return DeductResult{}, insufficientStock(productID, qty, cur)
		}
		if c.CompareAndSwap(cur, cur-qty) {
			return DeductResult{ProductID: productID, Deducted: qty, QuantityAfter: cur - qty}, nil
		}
	}
}

func (l *memoryLedger) refund(productID string, qty int64) {
	l.counterOrCreate(productID).Add(qty)
}

func (l *memoryLedger) Restock(_ context.Context, productID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, validationError("quantity", "must be greater than zero")
	}
	after := l.counterOrCreate(productID).Add(qty)
	l.record(domain.StockMovement{
		ID:            common.UUIDint64(),
		ProductID:     productID,
		Delta:         qty,
		QuantityAfter: after,
		Reason:        domain.MovementRestock,
		CreatedAt:     l.now(),
	})
	return after, nil
}

func (l *memoryLedger) IsLowStock(ctx context.Context, productID string) (bool, error) {
	p, err := l.catalog.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	q, err := l.Quantity(ctx, productID)
	if err != nil {
		return false, err
	}
	return q <= p.MinStockLevel, nil
}

func (l *memoryLedger) LowStock(ctx context.Context, limit int) ([]domain.LowStockItem, error) {
	products, err := l.catalog.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]domain.LowStockItem, 0)
	for _, p := range products {
		q, _ := l.Quantity(ctx, p.ID)
		if q > p.MinStockLevel {
			continue
		}
		items = append(items, domain.LowStockItem{
			ID:            p.ID,
			Name:          p.Name,
			Stock:         q,
			MinStockLevel: p.MinStockLevel,
			Unit:          p.Unit(),
		})
	}
	sortBySeverity(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (l *memoryLedger) CountProducts(_ context.Context) (int64, error) {
	return int64(l.catalog.count()), nil
}

func sortBySeverity(items []domain.LowStockItem) {
	sort.SliceStable(items, func(i, j int) bool {
		si, sj := items[i].Shortfall(), items[j].Shortfall()
		if si != sj {
			return si > sj
		}
		return items[i].Name < items[j].Name
	})
}

// tab store

type tabEntry struct {
	mu   sync.Mutex
	snap atomic.Pointer[domain.Tab]
}

type tabKey struct {
	createdAt time.Time
	id        int64
}

func tabKeyLess(a, b tabKey) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.id < b.id
}

type memoryTabStore struct {
	opts    backendOptions
	entries sync.Map // tab id -> *tabEntry

	indexMu sync.Mutex
	index   atomic.Pointer[btree.BTreeG[tabKey]]
}

func newMemoryTabStore(opts backendOptions) *memoryTabStore {
	s := &memoryTabStore{opts: opts}
	s.index.Store(btree.NewG[tabKey](32, tabKeyLess))
	return s
}

func (s *memoryTabStore) entry(id int64) (*tabEntry, error) {
	v, ok := s.entries.Load(id)
	if !ok {
		return nil, tabNotFound(id)
	}
	return v.(*tabEntry), nil
}

func (s *memoryTabStore) Create(_ context.Context, table, staffID string) (*domain.Tab, error) {
	now := s.opts.now()
	tab := &domain.Tab{
		ID:        common.UUIDint64(),
		Table:     table,
		Status:    domain.TabOpen,
		Items:     []domain.LineItem{},
		WaiterID:  staffID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tab.Recalculate(s.opts.rate)

	e := &tabEntry{}
	e.snap.Store(tab)
	s.entries.Store(tab.ID, e)

	s.indexMu.Lock()
	next := s.index.Load().Clone()
	next.ReplaceOrInsert(tabKey{createdAt: now, id: tab.ID})
	s.index.Store(next)
	s.indexMu.Unlock()

	out := tab.Clone()
	return &out, nil
}

func (s *memoryTabStore) Get(_ context.Context, id int64) (*domain.Tab, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	t := e.snap.Load().Clone()
	return &t, nil
}

func (s *memoryTabStore) ListByStatus(_ context.Context, status domain.TabStatus) ([]domain.Tab, error) {
	out := make([]domain.Tab, 0)
	s.index.Load().Ascend(func(k tabKey) bool {
		if t := s.snapshot(k.id); t != nil && t.Status == status {
			out = append(out, t.Clone())
		}
		return true
	})
	return out, nil
}

func (s *memoryTabStore) ListClosedSince(_ context.Context, since time.Time) ([]domain.Tab, error) {
	out := make([]domain.Tab, 0)
	s.index.Load().AscendGreaterOrEqual(tabKey{createdAt: since, id: math.MinInt64}, func(k tabKey) bool {
		if t := s.snapshot(k.id); t != nil && t.Status.Terminal() {
			out = append(out, t.Clone())
		}
		return true
	})
	return out, nil
}

func (s *memoryTabStore) snapshot(id int64) *domain.Tab {
	v, ok := s.entries.Load(id)
	if !ok {
		return nil
	}
	return v.(*tabEntry).snap.Load()
}

func (s *memoryTabStore) AppendItem(_ context.Context, id int64, item domain.LineItem) (*domain.Tab, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.appendLocked(e, item)
}

func (s *memoryTabStore) Close(_ context.Context, id int64, method domain.PaymentMethod) (*domain.Tab, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.closeLocked(e, method)
}

// appendLocked and closeLocked require e.mu to be held.
func (s *memoryTabStore) appendLocked(e *tabEntry, item domain.LineItem) (*domain.Tab, error) {
	cur := e.snap.Load()
	if cur.Status != domain.TabOpen {
		return nil, invalidState(cur.ID, cur.Status)
	}
	now := s.opts.now()
	next := cur.Clone()
	if item.ID == 0 {
		item.ID = common.UUIDint64()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.TabID = cur.ID
	item.Seq = len(next.Items) + 1
	next.Items = append(next.Items, item)
	next.Recalculate(s.opts.rate)
	next.Version++
	next.UpdatedAt = now
	e.snap.Store(&next)

	out := next.Clone()
	return &out, nil
}

func (s *memoryTabStore) closeLocked(e *tabEntry, method domain.PaymentMethod) (*domain.Tab, error) {
	if !method.Valid() {
		return nil, validationError("paymentMethod", "unsupported payment method "+string(method))
	}
	cur := e.snap.Load()
	if cur.Status != domain.TabOpen {
		return nil, invalidState(cur.ID, cur.Status)
	}
	now := s.opts.now()
	next := cur.Clone()
	next.Status = domain.TabPaid
	next.PaymentMethod = method
	next.ClosedAt = &now
	next.Recalculate(s.opts.rate)
	next.Version++
	next.UpdatedAt = now
	e.snap.Store(&next)

	out := next.Clone()
	return &out, nil
}
