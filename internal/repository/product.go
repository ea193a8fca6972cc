package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

const (
	productColumns = `id, code, name, price, stock, COALESCE(image_path, '')`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	// $1 is the escaped search term; an empty term matches everything.
	listProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE $1::text = '' OR name ILIKE '%' || $1 || '%' OR code ILIKE '%' || $1 || '%'
		ORDER BY id
		LIMIT $2`

	// Rows are locked in id order so concurrent checkouts queue up instead
	// of deadlocking.
	lockProductsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	// The outer SELECT reads the pre-update snapshot, so the second column
	// is the stock seen by the conditional update. The first column is NULL
	// when the condition failed.
	decrementStockSQL = `WITH upd AS (
			UPDATE products SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND stock >= $2
			RETURNING stock
		)
		SELECT (SELECT stock FROM upd), (SELECT stock FROM products WHERE id = $1)`

	upsertProductSQL = `INSERT INTO products (code, name, price, stock, image_path)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			image_path = EXCLUDED.image_path,
			updated_at = now()
		RETURNING id`
)

var (
	_ product.Repository  = (*ProductRepository)(nil)
	_ product.StockLocker = (*stockLocker)(nil)
)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs, ordered by ID.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// List returns up to MaxListRows products whose name or code contains
// search, ordered by id.
func (r *ProductRepository) List(ctx context.Context, search string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL, escapeLike(strings.TrimSpace(search)), MaxListRows)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts p or updates the product with the same code, setting p.ID.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	err := r.pool.QueryRow(ctx, upsertProductSQL, p.Code, p.Name, p.Price, p.Stock, p.ImagePath).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.Code, err)
	}
	return nil
}

// stockLocker is the catalog view of a checkout transaction.
type stockLocker struct {
	q querier
}

func (l *stockLocker) LockByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := l.q.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", classify(err))
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", classify(err))
	}
	return products, nil
}

func (l *stockLocker) TryDecrementStock(ctx context.Context, id int64, qty int) (int, error) {
	var updated, current *int
	if err := l.q.QueryRow(ctx, decrementStockSQL, id, qty).Scan(&updated, &current); err != nil {
		return 0, fmt.Errorf("decrementing stock of product %d: %w", id, classify(err))
	}
	switch {
	case current == nil:
		return 0, product.ErrNotFound
	case updated == nil:
		return 0, &product.StockShortageError{ProductID: id, Available: *current, Requested: qty}
	default:
		return *updated, nil
	}
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Stock, &p.ImagePath)
	return p, err
}
