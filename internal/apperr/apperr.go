// Package apperr defines the machine-distinguishable failure kinds surfaced by
// the checkout core.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindAccountDisabled      Kind = "account_disabled"
	KindAlreadyRegistered    Kind = "already_registered"
	KindProductNotFound      Kind = "product_not_found"
	KindInsufficientStock    Kind = "insufficient_stock"
	KindOrderPlacementFailed Kind = "order_placement_failed"
	KindMergeFailed          Kind = "merge_failed"
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindInternal             Kind = "internal_error"
)

// Error carries a Kind plus optional product context for stock failures.
type Error struct {
	Kind      Kind
	Message   string
	ProductID int64
	Stock     int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrInsufficientStock) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrAccountDisabled      = &Error{Kind: KindAccountDisabled}
	ErrAlreadyRegistered    = &Error{Kind: KindAlreadyRegistered}
	ErrProductNotFound      = &Error{Kind: KindProductNotFound}
	ErrInsufficientStock    = &Error{Kind: KindInsufficientStock}
	ErrOrderPlacementFailed = &Error{Kind: KindOrderPlacementFailed}
	ErrMergeFailed          = &Error{Kind: KindMergeFailed}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized}
	ErrNotFound             = &Error{Kind: KindNotFound}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func AccountDisabled() *Error {
	return &Error{Kind: KindAccountDisabled, Message: "the account for this phone number is disabled"}
}

func AlreadyRegistered(err error) *Error {
	return &Error{Kind: KindAlreadyRegistered, Message: "this phone number is already registered, please log in", Err: err}
}

func ProductNotFound(productID int64) *Error {
	return &Error{
		Kind:      KindProductNotFound,
		Message:   fmt.Sprintf("product %d does not exist", productID),
		ProductID: productID,
	}
}

func InsufficientStock(productID int64, name string, stock int) *Error {
	label := name
	if label == "" {
		label = fmt.Sprintf("%d", productID)
	}
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for product %s, current stock: %d", label, stock),
		ProductID: productID,
		Stock:     stock,
	}
}

func OrderPlacementFailed(err error) *Error {
	return &Error{Kind: KindOrderPlacementFailed, Message: "order placement failed", Err: err}
}

func MergeFailed(message string, err error) *Error {
	return &Error{Kind: KindMergeFailed, Message: message, Err: err}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the status code the API responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindAccountDisabled:
		return http.StatusForbidden
	case KindProductNotFound, KindNotFound:
		return http.StatusNotFound
	case KindAlreadyRegistered, KindInsufficientStock, KindMergeFailed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
