package order

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xenking/pos-checkout/internal/domain/customer"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

// memStore is an in-memory Store. Transactions are serialised by txMu,
// which stands in for the row locks taken by the PostgreSQL store.
type memStore struct {
	txMu sync.Mutex

	mu       sync.Mutex
	products map[int64]product.Product
	orders   map[int64]Order
	keys     map[string]IdempotencyRecord
	nextID   int64

	beginErr  error
	createErr error
	commitErr error
	// decrementErr, when set, is returned by TryDecrementStock.
	decrementErr func(id int64) error
	// afterCreate runs inside the transaction after Create.
	afterCreate func()
}

func newMemStore(products ...product.Product) *memStore {
	s := &memStore{
		products: make(map[int64]product.Product, len(products)),
		orders:   make(map[int64]Order),
		keys:     make(map[string]IdempotencyRecord),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *memStore) stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) setPrice(id int64, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.Price = d(price)
	s.products[id] = p
}

func (s *memStore) Begin(_ context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.txMu.Lock()
	return &memTx{store: s, stock: make(map[int64]int)}, nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *memStore) List(_ context.Context, params ListParams) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Order
	for _, o := range s.orders {
		if params.Search != "" &&
			!strings.Contains(strconv.FormatInt(o.ID, 10), params.Search) &&
			!strings.Contains(strings.ToLower(o.Customer.Name), strings.ToLower(params.Search)) {
			continue
		}
		matched = append(matched, o)
	}
	slices.SortFunc(matched, func(a, b Order) int { return int(b.ID - a.ID) })

	page := &Page{Total: len(matched), Page: params.Page, PerPage: params.PerPage}
	if off := params.Offset(); off < len(matched) {
		page.Orders = matched[off:min(off+params.PerPage, len(matched))]
	}
	return page, nil
}

func (s *memStore) FindIdempotencyKey(_ context.Context, key string) (*IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

type memTx struct {
	store  *memStore
	stock  map[int64]int
	orders []Order
	keys   []IdempotencyRecord
	done   bool
}

func (t *memTx) Catalog() product.StockLocker { return t }
func (t *memTx) Orders() Writer               { return t }

func (t *memTx) current(id int64) (product.Product, bool) {
	t.store.mu.Lock()
	p, ok := t.store.products[id]
	t.store.mu.Unlock()
	if staged, ok := t.stock[id]; ok {
		p.Stock = staged
	}
	return p, ok
}

func (t *memTx) LockByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	var out []product.Product
	for _, id := range sorted {
		if p, ok := t.current(id); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) TryDecrementStock(_ context.Context, id int64, qty int) (int, error) {
	if t.store.decrementErr != nil {
		if err := t.store.decrementErr(id); err != nil {
			return 0, err
		}
	}
	p, ok := t.current(id)
	if !ok {
		return 0, product.ErrNotFound
	}
	if p.Stock < qty {
		return 0, &product.StockShortageError{ProductID: id, Available: p.Stock, Requested: qty}
	}
	t.stock[id] = p.Stock - qty
	return t.stock[id], nil
}

func (t *memTx) Create(_ context.Context, o *Order) error {
	if t.store.createErr != nil {
		return t.store.createErr
	}

	t.store.mu.Lock()
	t.store.nextID++
	o.ID = t.store.nextID
	for i := range o.Lines {
		t.store.nextID++
		o.Lines[i].ID = t.store.nextID
	}
	t.store.mu.Unlock()

	o.CreatedAt = time.Now()
	t.orders = append(t.orders, *o)

	if t.store.afterCreate != nil {
		t.store.afterCreate()
	}
	return nil
}

func (t *memTx) ClaimIdempotencyKey(_ context.Context, rec IdempotencyRecord) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.keys[rec.Key]; ok {
		return ErrIdempotencyKeyTaken
	}
	t.keys = append(t.keys, rec)
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	if t.store.commitErr != nil {
		return t.store.commitErr
	}

	t.store.mu.Lock()
	for id, stock := range t.stock {
		p := t.store.products[id]
		p.Stock = stock
		t.store.products[id] = p
	}
	for _, o := range t.orders {
		t.store.orders[o.ID] = o
	}
	for _, k := range t.keys {
		t.store.keys[k.Key] = k
	}
	t.store.mu.Unlock()

	t.done = true
	t.store.txMu.Unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

// memCatalog exposes committed catalog rows as a product.Repository.
type memCatalog struct {
	store *memStore
}

func (c memCatalog) GetByID(_ context.Context, id int64) (*product.Product, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	p, ok := c.store.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (c memCatalog) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	var out []product.Product
	for _, id := range ids {
		if p, ok := c.store.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type memDirectory map[int64]customer.Customer

func (m memDirectory) Get(_ context.Context, id int64) (*customer.Customer, error) {
	c, ok := m[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return &c, nil
}
