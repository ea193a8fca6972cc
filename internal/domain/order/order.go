package order

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/customer"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

// Order is a committed sale: the header totals plus the lines it was priced
// from. Subtotal - Discount = FinalTotal always holds.
type Order struct {
	ID         int64
	CustomerID int64
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	FinalTotal decimal.Decimal
	CreatedAt  time.Time

	// Customer and Lines[i].Product are populated on hydrated reads.
	Customer *customer.Customer
	Lines    []Line
}

// Line is one cart entry of an order. UnitPrice is the product price
// captured when the order was placed, not the current catalog price.
type Line struct {
	ID        int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	Product   *product.Product
}

// Subtotal returns UnitPrice * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Item is a requested cart entry.
type Item struct {
	ProductID int64
	Quantity  int
}

// IdempotencyRecord binds a client supplied Idempotency-Key to the order it
// produced.
type IdempotencyRecord struct {
	Key         string
	Fingerprint string
	OrderID     int64
}

// ListParams filters and paginates order listings.
type ListParams struct {
	// Search matches the order id or the customer name.
	Search  string
	Page    int
	PerPage int
}

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
	// MaxPage bounds Page so that Offset cannot overflow.
	MaxPage = math.MaxInt32
)

// Normalize clamps page and page size to sane bounds.
func (p ListParams) Normalize() ListParams {
	switch {
	case p.Page < 1:
		p.Page = 1
	case p.Page > MaxPage:
		p.Page = MaxPage
	}
	switch {
	case p.PerPage < 1:
		p.PerPage = DefaultPerPage
	case p.PerPage > MaxPerPage:
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset returns the number of rows to skip for the page.
func (p ListParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Page is one page of hydrated orders, newest first.
type Page struct {
	Orders  []Order
	Total   int
	Page    int
	PerPage int
}

// LastPage returns the number of the final page, at least 1.
func (p *Page) LastPage() int {
	if p.PerPage <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// From returns the 1-based position of the first order on the page, or 0
// when the page is empty.
func (p *Page) From() int {
	if len(p.Orders) == 0 {
		return 0
	}
	return (p.Page-1)*p.PerPage + 1
}

// To returns the 1-based position of the last order on the page, or 0 when
// the page is empty.
func (p *Page) To() int {
	if len(p.Orders) == 0 {
		return 0
	}
	return p.From() + len(p.Orders) - 1
}

// HasMore reports whether pages follow this one.
func (p *Page) HasMore() bool {
	return p.Page < p.LastPage()
}

// Store is the persistence boundary of the order coordinator.
type Store interface {
	// Begin opens a scoped transaction. Nothing written through it is
	// visible to others until Commit.
	Begin(ctx context.Context) (Tx, error)
	// GetByID returns the hydrated order or ErrNotFound.
	GetByID(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, params ListParams) (*Page, error)
	// FindIdempotencyKey returns the record for key or ErrNotFound.
	FindIdempotencyKey(ctx context.Context, key string) (*IdempotencyRecord, error)
}

// Tx is a unit of work spanning stock decrements and order writes.
type Tx interface {
	Catalog() product.StockLocker
	Orders() Writer
	Commit(ctx context.Context) error
	// Rollback discards the transaction. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// Writer persists orders inside a Tx.
type Writer interface {
	// Create inserts the order header and its lines, assigning ID,
	// CreatedAt and line IDs.
	Create(ctx context.Context, o *Order) error
	// ClaimIdempotencyKey binds key to orderID. It returns
	// ErrIdempotencyKeyTaken when another order already holds the key.
	ClaimIdempotencyKey(ctx context.Context, rec IdempotencyRecord) error
}
