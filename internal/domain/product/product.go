package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for sale.
type Product struct {
	ID        int64
	Code      string
	Name      string
	Price     decimal.Decimal
	Stock     int
	ImagePath string
}

// StockShortageError is returned by a conditional stock decrement when the
// row holds fewer units than requested. Stock is left untouched.
type StockShortageError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("product %d: %d in stock, %d requested", e.ProductID, e.Available, e.Requested)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	// GetByIDs returns the products that exist among ids. Missing ids are
	// simply absent from the result.
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
}

// StockLocker is the catalog view available inside a checkout transaction.
type StockLocker interface {
	// LockByIDs reads and row-locks the given products in ascending id order.
	LockByIDs(ctx context.Context, ids []int64) ([]Product, error)
	// TryDecrementStock atomically subtracts qty when at least qty units are
	// in stock and returns the new stock level. Otherwise it returns a
	// *StockShortageError and changes nothing.
	TryDecrementStock(ctx context.Context, id int64, qty int) (int, error)
}
