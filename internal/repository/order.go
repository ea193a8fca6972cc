package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/customer"
	"github.com/xenking/pos-checkout/internal/domain/order"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/outbox"
)

const (
	setLockTimeoutSQL = `SELECT set_config('lock_timeout', $1, true)`

	createOrderSQL = `INSERT INTO transactions (customer_id, total, discount, final_total)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	createOrderLineSQL = `INSERT INTO transaction_details (transaction_id, product_id, qty, price_at_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	orderColumns = `t.id, t.customer_id, t.total, t.discount, t.final_total, t.created_at,
		c.id, c.name, COALESCE(c.phone, ''), COALESCE(c.email, '')`

	getOrderSQL = `SELECT ` + orderColumns + `
		FROM transactions t JOIN customers c ON c.id = t.customer_id
		WHERE t.id = $1`

	// $1 is the escaped search term; an empty term matches everything.
	orderSearchFilter = `($1::text = '' OR t.id::text LIKE '%' || $1 || '%' OR c.name ILIKE '%' || $1 || '%')`

	listOrdersSQL = `SELECT ` + orderColumns + `
		FROM transactions t JOIN customers c ON c.id = t.customer_id
		WHERE ` + orderSearchFilter + `
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2 OFFSET $3`

	countOrdersSQL = `SELECT count(*)
		FROM transactions t JOIN customers c ON c.id = t.customer_id
		WHERE ` + orderSearchFilter

	getOrderLinesSQL = `SELECT d.id, d.transaction_id, d.product_id, d.qty, d.price_at_time,
		p.id, p.code, p.name, p.price, p.stock, COALESCE(p.image_path, '')
		FROM transaction_details d JOIN products p ON p.id = d.product_id
		WHERE d.transaction_id = ANY($1)
		ORDER BY d.transaction_id, d.id`

	getIdempotencyKeySQL = `SELECT idempotency_key, fingerprint, transaction_id
		FROM checkout_idempotency WHERE idempotency_key = $1`

	claimIdempotencyKeySQL = `INSERT INTO checkout_idempotency (idempotency_key, fingerprint, transaction_id)
		VALUES ($1, $2, $3)`
)

var (
	_ order.Store  = (*OrderStore)(nil)
	_ order.Tx     = (*orderTx)(nil)
	_ order.Writer = (*orderWriter)(nil)
)

// OrderStoreOption configures an OrderStore.
type OrderStoreOption func(*OrderStore)

// WithLockTimeout bounds how long a checkout waits for product row locks.
// Zero leaves the server setting in place.
func WithLockTimeout(d time.Duration) OrderStoreOption {
	return func(s *OrderStore) { s.lockTimeout = d }
}

// WithOutboxTopic makes every created order enqueue an order.committed event
// for topic in the same transaction. Empty disables the outbox.
func WithOutboxTopic(topic string) OrderStoreOption {
	return func(s *OrderStore) { s.outboxTopic = topic }
}

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	outboxTopic string
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool, opts ...OrderStoreOption) *OrderStore {
	s := &OrderStore{pool: pool}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Begin starts a READ COMMITTED transaction. Row locks taken by
// Catalog().LockByIDs serialise competing checkouts.
func (s *OrderStore) Begin(ctx context.Context) (order.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", classify(err))
	}

	if s.lockTimeout > 0 {
		timeout := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
		if _, err := tx.Exec(ctx, setLockTimeoutSQL, timeout); err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("setting lock timeout: %w", err)
		}
	}

	return &orderTx{
		tx:      tx,
		catalog: &stockLocker{q: tx},
		writer:  &orderWriter{q: tx, outboxTopic: s.outboxTopic},
	}, nil
}

// GetByID returns the order with its customer, lines and line products.
func (s *OrderStore) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := s.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	orders := []order.Order{o}
	if err := s.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// List returns hydrated orders newest first. Search matches a substring of
// the order id or, case-insensitively, of the customer name.
func (s *OrderStore) List(ctx context.Context, params order.ListParams) (*order.Page, error) {
	params = params.Normalize()
	search := escapeLike(strings.TrimSpace(params.Search))

	var total int
	if err := s.pool.QueryRow(ctx, countOrdersSQL, search).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}

	page := &order.Page{Total: total, Page: params.Page, PerPage: params.PerPage}
	if total == 0 {
		return page, nil
	}

	rows, err := s.pool.Query(ctx, listOrdersSQL, search, params.PerPage, params.Offset())
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := s.attachLines(ctx, orders); err != nil {
		return nil, err
	}

	page.Orders = orders
	return page, nil
}

// FindIdempotencyKey returns the record stored for key or order.ErrNotFound.
func (s *OrderStore) FindIdempotencyKey(ctx context.Context, key string) (*order.IdempotencyRecord, error) {
	var rec order.IdempotencyRecord
	err := s.pool.QueryRow(ctx, getIdempotencyKeySQL, key).Scan(&rec.Key, &rec.Fingerprint, &rec.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding idempotency key: %w", err)
	}
	return &rec, nil
}

func (s *OrderStore) attachLines(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := s.pool.Query(ctx, getOrderLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("getting order lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, scanOrderLine)
	if err != nil {
		return fmt.Errorf("getting order lines: %w", err)
	}
	for _, l := range lines {
		i := index[l.orderID]
		orders[i].Lines = append(orders[i].Lines, l.Line)
	}
	return nil
}

type orderTx struct {
	tx      pgx.Tx
	catalog *stockLocker
	writer  *orderWriter
}

func (t *orderTx) Catalog() product.StockLocker { return t.catalog }
func (t *orderTx) Orders() order.Writer         { return t.writer }

func (t *orderTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", classify(err))
	}
	return nil
}

func (t *orderTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

type orderWriter struct {
	q           querier
	outboxTopic string
}

func (w *orderWriter) Create(ctx context.Context, o *order.Order) error {
	err := w.q.QueryRow(ctx, createOrderSQL, o.CustomerID, o.Subtotal, o.Discount, o.FinalTotal).
		Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating order: %w", classify(err))
	}

	batch := &pgx.Batch{}
	for _, l := range o.Lines {
		batch.Queue(createOrderLineSQL, o.ID, l.ProductID, l.Quantity, l.UnitPrice)
	}
	br := w.q.SendBatch(ctx, batch)
	for i := range o.Lines {
		if err := br.QueryRow().Scan(&o.Lines[i].ID); err != nil {
			_ = br.Close()
			return fmt.Errorf("creating order line %d: %w", i, classify(err))
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("creating order lines: %w", classify(err))
	}

	if w.outboxTopic != "" {
		if err := enqueueOutbox(ctx, w.q, outbox.OrderCommitted(w.outboxTopic, o)); err != nil {
			return err
		}
	}
	return nil
}

func (w *orderWriter) ClaimIdempotencyKey(ctx context.Context, rec order.IdempotencyRecord) error {
	if _, err := w.q.Exec(ctx, claimIdempotencyKeySQL, rec.Key, rec.Fingerprint, rec.OrderID); err != nil {
		if isUniqueViolation(err) {
			return order.ErrIdempotencyKeyTaken
		}
		return fmt.Errorf("claiming idempotency key: %w", classify(err))
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o order.Order
		c customer.Customer
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Subtotal, &o.Discount, &o.FinalTotal, &o.CreatedAt,
		&c.ID, &c.Name, &c.Phone, &c.Email,
	)
	o.Customer = &c
	return o, err
}

type orderLine struct {
	order.Line
	orderID int64
}

func scanOrderLine(row pgx.CollectableRow) (orderLine, error) {
	var (
		l orderLine
		p product.Product
	)
	err := row.Scan(
		&l.ID, &l.orderID, &l.ProductID, &l.Quantity, &l.UnitPrice,
		&p.ID, &p.Code, &p.Name, &p.Price, &p.Stock, &p.ImagePath,
	)
	l.Product = &p
	return l, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes LIKE wildcards in user input match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
