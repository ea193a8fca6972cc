package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/customer"
)

const (
	customerColumns = `id, name, COALESCE(phone, ''), COALESCE(email, '')`

	getCustomerSQL = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	// $1 is the escaped search term; an empty term matches everything.
	listCustomersSQL = `SELECT ` + customerColumns + ` FROM customers
		WHERE $1::text = '' OR name ILIKE '%' || $1 || '%'
			OR phone ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
		ORDER BY id
		LIMIT $2`

	upsertCustomerSQL = `INSERT INTO customers (name, phone, email)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			updated_at = now()
		RETURNING id`
)

var _ customer.Directory = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Directory backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// Get returns the customer with the given id or customer.ErrNotFound.
func (r *CustomerRepository) Get(ctx context.Context, id int64) (*customer.Customer, error) {
	rows, err := r.pool.Query(ctx, getCustomerSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting customer %d: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %d: %w", id, err)
	}
	return &c, nil
}

// List returns up to MaxListRows customers whose name, phone or email
// contains search, ordered by id.
func (r *CustomerRepository) List(ctx context.Context, search string) ([]customer.Customer, error) {
	rows, err := r.pool.Query(ctx, listCustomersSQL, escapeLike(strings.TrimSpace(search)), MaxListRows)
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	return pgx.CollectRows(rows, scanCustomer)
}

// Upsert inserts c or updates the customer with the same email, setting c.ID.
func (r *CustomerRepository) Upsert(ctx context.Context, c *customer.Customer) error {
	if c.Email == "" {
		return errors.New("customer email is required for upsert")
	}
	if err := r.pool.QueryRow(ctx, upsertCustomerSQL, c.Name, c.Phone, c.Email).Scan(&c.ID); err != nil {
		return fmt.Errorf("upserting customer %q: %w", c.Email, err)
	}
	return nil
}

func scanCustomer(row pgx.CollectableRow) (customer.Customer, error) {
	var c customer.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email)
	return c, err
}
