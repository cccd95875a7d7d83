package pos

import (
	"time"

	"github.com/pdvbar/comandas/internal/domain"
	"github.com/shopspring/decimal"
)

type backendOptions struct {
	rate decimal.Decimal
	now  func() time.Time
}

// BackendOption configures a storage backend.
type BackendOption func(*backendOptions)

// WithServiceChargeRate sets the service charge applied over the subtotal.
func WithServiceChargeRate(rate decimal.Decimal) BackendOption {
	return func(o *backendOptions) {
		o.rate = rate
	}
}

// WithClock replaces time.Now as the source of timestamps.
func WithClock(now func() time.Time) BackendOption {
	return func(o *backendOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func newBackendOptions(opts []BackendOption) backendOptions {
	o := backendOptions{
		rate: domain.DefaultServiceChargeRate,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
