package pos

import (
	"context"
	"strings"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/pdvbar/comandas/internal/domain"
	"go.uber.org/zap"
)

// Event topics published by the engine after a successful commit.
const (
	TopicLowStock  = "stock:low"
	TopicTabClosed = "tab:closed"
)

// LowStockEvent is published when a sale takes a product to or below its
// minimum level.
type LowStockEvent struct {
	ProductID     string
	Name          string
	Unit          string
	Quantity      int64
	MinStockLevel int64
	TabID         int64
}

// TabClosedEvent is published once per tab, on the OPEN to PAID transition.
type TabClosedEvent struct {
	Tab domain.Tab
}

// ItemRequest asks for quantity units of a product on a tab.
type ItemRequest struct {
	ProductID string
	Quantity  int64
	Courtesy  bool
}

// Engine runs the tab lifecycle against a storage backend.
type Engine struct {
	backend Backend
	bus     EventBus.Bus
}

type EngineOption func(*Engine)

// WithEventBus publishes stock and tab events on bus.
func WithEventBus(bus EventBus.Bus) EngineOption {
	return func(e *Engine) {
		e.bus = bus
	}
}

func NewEngine(backend Backend, opts ...EngineOption) *Engine {
	e := &Engine{backend: backend}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Backend() Backend {
	return e.backend
}

// CreateTab opens a tab for a table. Opening a second tab with the label of
// an open one is allowed.
func (e *Engine) CreateTab(ctx context.Context, table, staffID string) (*domain.Tab, error) {
	table = strings.TrimSpace(table)
	staffID = strings.TrimSpace(staffID)
	if table == "" {
		return nil, validationError("table", "must not be empty")
	}
	if staffID == "" {
		return nil, validationError("staffId", "must not be empty")
	}

	if open, err := e.backend.Tabs().ListByStatus(ctx, domain.TabOpen); err == nil {
		for _, t := range open {
			if strings.EqualFold(t.Table, table) {
				zap.L().Warn("opening another tab for a table with an open tab",
					zap.String("table", table),
					zap.Int64("open_tab_id", t.ID))
				break
			}
		}
	}

	tab, err := e.backend.Tabs().Create(ctx, table, staffID)
	if err != nil {
		zap.L().Error("create tab failed", zap.String("table", table), zap.Error(err))
		return nil, err
	}
	zap.L().Info("tab opened",
		zap.Int64("tab_id", tab.ID),
		zap.String("table", tab.Table),
		zap.String("staff_id", staffID))
	return tab, nil
}

// AddItem prices req against the live catalog, deducts stock and appends the
// item, all in one unit of work.
func (e *Engine) AddItem(ctx context.Context, tabID int64, req ItemRequest) (*domain.Tab, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.Quantity <= 0 {
		return nil, validationError("quantity", "must be greater than zero")
	}
	if req.ProductID == "" {
		return nil, validationError("productId", "must not be empty")
	}

	var (
		tab      *domain.Tab
		product  *domain.Product
		deducted DeductResult
	)
	err := e.backend.Atomic(ctx, func(tx Tx) error {
		cur, err := tx.LockTab(ctx, tabID)
		if err != nil {
			return err
		}
		if cur.Status != domain.TabOpen {
			return invalidState(cur.ID, cur.Status)
		}
		if product, err = tx.Product(ctx, req.ProductID); err != nil {
			return err
		}
		if deducted, err = tx.TryDeduct(ctx, product.ID, req.Quantity); err != nil {
			return err
		}
		tab, err = tx.AppendItem(ctx, tabID, domain.LineItem{
			ProductID:  product.ID,
			Name:       product.Name,
			Quantity:   req.Quantity,
			UnitPrice:  product.SellingPrice,
			IsCourtesy: req.Courtesy,
		})
		if err != nil {
			return err
		}
		reason := domain.MovementSale
		if req.Courtesy {
			reason = domain.MovementCourtesy
		}
		return tx.RecordMovement(ctx, domain.StockMovement{
			ProductID:     product.ID,
			Delta:         -req.Quantity,
			QuantityAfter: deducted.QuantityAfter,
			Reason:        reason,
			TabID:         tabID,
		})
	})
	if err != nil {
		logRejected("add item rejected", err,
			zap.Int64("tab_id", tabID),
			zap.String("product_id", req.ProductID),
			zap.Int64("quantity", req.Quantity))
		return nil, err
	}

	zap.L().Info("item added",
		zap.Int64("tab_id", tabID),
		zap.String("product_id", product.ID),
		zap.Int64("quantity", req.Quantity),
		zap.Bool("courtesy", req.Courtesy),
		zap.String("total", tab.Total.StringFixed(2)))

	if !req.Courtesy && crossedMinimum(deducted, product.MinStockLevel) {
		e.publish(TopicLowStock, LowStockEvent{
			ProductID:     product.ID,
			Name:          product.Name,
			Unit:          product.Unit(),
			Quantity:      deducted.QuantityAfter,
			MinStockLevel: product.MinStockLevel,
			TabID:         tabID,
		})
	}
	return tab, nil
}

func crossedMinimum(r DeductResult, minimum int64) bool {
	return r.QuantityAfter <= minimum && r.QuantityBefore() > minimum
}

// CloseTab settles an OPEN tab. Repeating the call with the same method
// returns the stored tab unchanged.
func (e *Engine) CloseTab(ctx context.Context, tabID int64, method domain.PaymentMethod) (*domain.Tab, error) {
	if !method.Valid() {
		return nil, validationError("paymentMethod", "unsupported payment method "+string(method))
	}

	var (
		tab         *domain.Tab
		transitions bool
	)
	err := e.backend.Atomic(ctx, func(tx Tx) error {
		cur, err := tx.LockTab(ctx, tabID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			if cur.PaymentMethod == method {
				tab = cur
				return nil
			}
			return alreadyClosed(cur.ID, cur.PaymentMethod, method)
		}
		if tab, err = tx.CloseTab(ctx, tabID, method); err != nil {
			return err
		}
		transitions = true
		return nil
	})
	if err != nil {
		logRejected("close tab rejected", err,
			zap.Int64("tab_id", tabID),
			zap.String("payment_method", string(method)))
		return nil, err
	}

	if transitions {
		zap.L().Info("tab closed",
			zap.Int64("tab_id", tab.ID),
			zap.String("table", tab.Table),
			zap.String("payment_method", string(method)),
			zap.String("total", tab.Total.StringFixed(2)))
		e.publish(TopicTabClosed, TabClosedEvent{Tab: tab.Clone()})
	}
	return tab, nil
}

// ListOpenTabs returns OPEN tabs in creation order.
func (e *Engine) ListOpenTabs(ctx context.Context) ([]domain.Tab, error) {
	return e.backend.Tabs().ListByStatus(ctx, domain.TabOpen)
}

// ListTabs returns tabs with the given status in creation order.
func (e *Engine) ListTabs(ctx context.Context, status domain.TabStatus) ([]domain.Tab, error) {
	if !status.Valid() {
		return nil, validationError("status", "unknown status "+string(status))
	}
	return e.backend.Tabs().ListByStatus(ctx, status)
}

func (e *Engine) GetTab(ctx context.Context, tabID int64) (*domain.Tab, error) {
	return e.backend.Tabs().Get(ctx, tabID)
}

func (e *Engine) publish(topic string, evt interface{}) {
	if e.bus == nil || !e.bus.HasCallback(topic) {
		return
	}
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error("event handler panic:", err)
		}
	}()
	e.bus.Publish(topic, evt)
}

// logRejected logs domain rejections at info and anything else as an error.
func logRejected(msg string, err error, fields ...zap.Field) {
	kind := KindOf(err)
	if kind == 0 {
		zap.L().Error(msg, append(fields, zap.Error(err))...)
		return
	}
	zap.L().Info(msg, append(fields, zap.String("reason", kind.String()), zap.String("detail", err.Error()))...)
}
