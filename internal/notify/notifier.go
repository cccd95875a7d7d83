package notify

import (
	"fmt"
	"strings"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/panjf2000/ants/v2"
	"github.com/pdvbar/comandas/internal/pos"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Mailer sends e-mail messages. *gomail.Dialer satisfies it.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Notifier reacts to engine events. Handlers run on a bounded worker pool so
// publishing never waits on SMTP.
type Notifier struct {
	pool       *ants.Pool
	mailer     Mailer
	from       string
	recipients []string
}

type Option func(*Notifier)

// WithMailer sends low stock alerts from sender to recipients.
func WithMailer(m Mailer, from string, recipients []string) Option {
	return func(n *Notifier) {
		n.mailer = m
		n.from = from
		n.recipients = recipients
	}
}

// NewNotifier starts a worker pool of the given size.
func NewNotifier(workers int, opts ...Option) (*Notifier, error) {
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true), ants.WithPanicHandler(func(p interface{}) {
		zap.S().Error("notify worker panic:", p)
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create notify pool")
	}
	n := &Notifier{pool: pool}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Subscribe registers the notifier handlers on bus.
func (n *Notifier) Subscribe(bus EventBus.Bus) error {
	if err := bus.Subscribe(pos.TopicLowStock, n.OnLowStock); err != nil {
		return err
	}
	return bus.Subscribe(pos.TopicTabClosed, n.OnTabClosed)
}

// Unsubscribe removes the handlers registered by Subscribe.
func (n *Notifier) Unsubscribe(bus EventBus.Bus) {
	_ = bus.Unsubscribe(pos.TopicLowStock, n.OnLowStock)
	_ = bus.Unsubscribe(pos.TopicTabClosed, n.OnTabClosed)
}

func (n *Notifier) OnLowStock(evt pos.LowStockEvent) {
	zap.L().Warn("product reached minimum stock",
		zap.String("product_id", evt.ProductID),
		zap.String("name", evt.Name),
		zap.Int64("quantity", evt.Quantity),
		zap.Int64("min_stock_level", evt.MinStockLevel),
		zap.Int64("tab_id", evt.TabID))

	if n.mailer == nil || len(n.recipients) == 0 {
		return
	}
	msg := lowStockMessage(n.from, n.recipients, evt)
	if err := n.pool.Submit(func() {
		if err := n.mailer.DialAndSend(msg); err != nil {
			zap.L().Error("send low stock alert failed",
				zap.String("product_id", evt.ProductID),
				zap.Error(err))
		}
	}); err != nil {
		zap.L().Warn("low stock alert dropped", zap.String("product_id", evt.ProductID), zap.Error(err))
	}
}

func (n *Notifier) OnTabClosed(evt pos.TabClosedEvent) {
	zap.L().Debug("tab settled",
		zap.Int64("tab_id", evt.Tab.ID),
		zap.String("table", evt.Tab.Table),
		zap.String("payment_method", string(evt.Tab.PaymentMethod)),
		zap.Int("items", len(evt.Tab.Items)))
}

// Running reports how many alerts are being delivered.
func (n *Notifier) Running() int {
	return n.pool.Running()
}

func (n *Notifier) Release() {
	n.pool.Release()
}

func lowStockMessage(from string, to []string, evt pos.LowStockEvent) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", fmt.Sprintf("Estoque baixo: %s", evt.Name))
	var body strings.Builder
	fmt.Fprintf(&body, "O produto %s (%s) chegou a %d %s.\n", evt.Name, evt.ProductID, evt.Quantity, evt.Unit)
	fmt.Fprintf(&body, "Estoque minimo configurado: %d %s.\n", evt.MinStockLevel, evt.Unit)
	m.SetBody("text/plain", body.String())
	return m
}

// NewSMTPMailer returns a gomail dialer for the given server.
func NewSMTPMailer(host string, port int, user, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, user, password)
}
