package pos

import (
	"errors"
	"fmt"

	"github.com/pdvbar/comandas/internal/domain"
)

// Kind classifies a rejected operation.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalidState
	KindInsufficientStock
	KindAlreadyClosed
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindInvalidState:
		return "INVALID_STATE"
	case KindInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case KindAlreadyClosed:
		return "ALREADY_CLOSED"
	case KindValidation:
		return "VALIDATION_ERROR"
	}
	return "UNKNOWN"
}

// Error is the error returned for every rejected request. Only the fields
// relevant to Kind are set.
type Error struct {
	Kind    Kind
	Message string

	TabID     int64
	ProductID string
	Status    domain.TabStatus

	Requested int64
	Available int64

	Existing domain.PaymentMethod
	Method   domain.PaymentMethod

	Field string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrAlreadyClosed     = &Error{Kind: KindAlreadyClosed}
	ErrValidation        = &Error{Kind: KindValidation}
)

// KindOf returns the kind of err, or 0 when err is not a POS error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func tabNotFound(id int64) *Error {
	return &Error{Kind: KindNotFound, TabID: id, Message: fmt.Sprintf("tab %d not found", id)}
}

func productNotFound(id string) *Error {
	return &Error{Kind: KindNotFound, ProductID: id, Message: fmt.Sprintf("product %s not found", id)}
}

func invalidState(id int64, status domain.TabStatus) *Error {
	return &Error{
		Kind:    KindInvalidState,
		TabID:   id,
		Status:  status,
		Message: fmt.Sprintf("tab %d is %s, expected %s", id, status, domain.TabOpen),
	}
}

func insufficientStock(productID string, requested, available int64) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		ProductID: productID,
		Requested: requested,
		Available: available,
		Message:   fmt.Sprintf("insufficient stock for %s: requested %d, available %d", productID, requested, available),
	}
}

func alreadyClosed(id int64, existing, requested domain.PaymentMethod) *Error {
	return &Error{
		Kind:     KindAlreadyClosed,
		TabID:    id,
		Existing: existing,
		Method:   requested,
		Message:  fmt.Sprintf("tab %d already closed with %s", id, existing),
	}
}

func validationError(field, reason string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf("%s: %s", field, reason)}
}
