package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer is the buyer an order is recorded against.
type Customer struct {
	ID    int64
	Name  string
	Phone string
	Email string
}

// Directory resolves customer references.
type Directory interface {
	Get(ctx context.Context, id int64) (*Customer, error)
}
