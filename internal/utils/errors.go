// internal/utils/errors.go
package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindAuthentication    ErrorKind = "authentication"
	KindAuthorization     ErrorKind = "authorization"
	KindConflict          ErrorKind = "conflict"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindNotEligible       ErrorKind = "not_eligible"
	KindPayment           ErrorKind = "payment"
	KindInternal          ErrorKind = "internal"
)

// AppError is the error type services return when the caller needs to know
// what went wrong, not only that something did.
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindValidation, KindInsufficientStock, KindNotEligible:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindPayment:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func newAppError(kind ErrorKind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

func NewValidationError(message string, details interface{}) *AppError {
	e := newAppError(KindValidation, "VALIDATION_ERROR", message)
	e.Details = details
	return e
}

func NewNotFoundError(resource string) *AppError {
	return newAppError(KindNotFound, "NOT_FOUND", resource+" not found")
}

func NewAuthenticationError(message string) *AppError {
	return newAppError(KindAuthentication, "UNAUTHORIZED", message)
}

func NewAuthorizationError(message string) *AppError {
	return newAppError(KindAuthorization, "FORBIDDEN", message)
}

func NewConflictError(message string) *AppError {
	return newAppError(KindConflict, "CONFLICT", message)
}

// StockShortage is returned as error details so clients can adjust the cart.
type StockShortage struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

func NewInsufficientStockError(s StockShortage) *AppError {
	e := newAppError(KindInsufficientStock, "INSUFFICIENT_STOCK",
		fmt.Sprintf("insufficient stock for %s: %d available", s.ProductName, s.Available))
	e.Details = s
	return e
}

func NewProductNotFoundError(productID string) *AppError {
	e := newAppError(KindValidation, "PRODUCT_NOT_FOUND", "product not found or inactive")
	e.Details = map[string]string{"product_id": productID}
	return e
}

func NewNotEligibleError(message string) *AppError {
	return newAppError(KindNotEligible, "ORDER_NOT_ELIGIBLE", message)
}

func NewInvalidTransitionError(from, to string) *AppError {
	e := newAppError(KindNotEligible, "INVALID_STATUS_TRANSITION",
		fmt.Sprintf("cannot move order from %s to %s", from, to))
	e.Details = map[string]string{"from": from, "to": to}
	return e
}

func NewPaymentError(message string, err error) *AppError {
	e := newAppError(KindPayment, "PAYMENT_ERROR", message)
	e.Err = err
	return e
}

func NewInternalError(message string, err error) *AppError {
	e := newAppError(KindInternal, "INTERNAL_ERROR", message)
	e.Err = err
	return e
}

// AsAppError unwraps err into an AppError, treating anything else as internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("internal server error", err)
}

func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}
