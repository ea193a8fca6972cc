package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned by a Store when the database aborted the
	// transaction because of lock contention: serialization failure,
	// deadlock or lock timeout.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrIdempotencyKeyTaken is returned by Writer.ClaimIdempotencyKey.
	ErrIdempotencyKeyTaken = errors.New("idempotency key already used")
)

// ValidationError reports a malformed checkout request. Field uses the wire
// names, e.g. "items.0.qty".
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CustomerNotFoundError indicates the referenced customer does not exist.
type CustomerNotFoundError struct {
	CustomerID int64
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %d not found", e.CustomerID)
}

// ProductNotFoundError indicates a requested product does not exist. Index
// is the position of the offending item in the cart.
type ProductNotFoundError struct {
	ProductID int64
	Index     int
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InsufficientStockError is returned for the first cart item whose
// requested quantity exceeds the available stock. Requested includes
// earlier lines for the same product.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product: %s", e.ProductName)
}

// ConcurrencyConflictError means the checkout lost a race for stock or
// locks. Nothing was committed and the request may be retried as is.
type ConcurrencyConflictError struct {
	ProductID int64
	Err       error
}

func (e *ConcurrencyConflictError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("concurrent stock update on product %d: %v", e.ProductID, e.Err)
	}
	return fmt.Sprintf("concurrent update: %v", e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// IdempotencyKeyReusedError is returned when an Idempotency-Key is replayed
// with a different cart.
type IdempotencyKeyReusedError struct {
	Key string
}

func (e *IdempotencyKeyReusedError) Error() string {
	return fmt.Sprintf("idempotency key %q was used for a different request", e.Key)
}

// InternalError wraps an unexpected storage failure. The transaction it
// happened in has been rolled back.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// wrapStorage turns a storage error into a ConcurrencyConflictError or an
// InternalError. Domain errors pass through.
func wrapStorage(op string, err error) error {
	var (
		conflict *ConcurrencyConflictError
		internal *InternalError
	)
	switch {
	case errors.As(err, &conflict), errors.As(err, &internal):
		return err
	case errors.Is(err, ErrConflict):
		return &ConcurrencyConflictError{Err: err}
	default:
		return &InternalError{Op: op, Err: err}
	}
}
