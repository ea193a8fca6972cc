package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/customer"
	"github.com/xenking/pos-checkout/internal/domain/pricing"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

const (
	instrumentationName = "github.com/xenking/pos-checkout/internal/domain/order"

	// DefaultMaxItems bounds the number of lines in one checkout.
	DefaultMaxItems = 100

	// MaxQuantity bounds a single line. With at most maxItems lines the
	// per-product sums stay far below the int range.
	MaxQuantity = math.MaxInt32
)

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	CustomerID int64
	Items      []Item
	// IdempotencyKey is optional. Repeating a request with the same key and
	// cart returns the original order instead of placing a new one.
	IdempotencyKey string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order *Order
	// Replayed is set when Order was committed by an earlier request with
	// the same idempotency key.
	Replayed bool
}

// QuoteLine is a priced cart entry of a Quote.
type QuoteLine struct {
	Product   product.Product
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// Quote is a side-effect free pricing of a cart at current catalog prices.
type Quote struct {
	pricing.Quote
	Lines []QuoteLine
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithMaxItems overrides DefaultMaxItems.
func WithMaxItems(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// Service coordinates checkout: it validates a cart, verifies stock, prices
// it and commits the order together with the stock decrements.
type Service struct {
	customers customer.Directory
	products  product.Repository
	orders    Store
	maxItems  int

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	placed         metric.Int64Counter
	duration       metric.Float64Histogram
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	customers customer.Directory,
	products product.Repository,
	orders Store,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		customers:      customers,
		products:       products,
		orders:         orders,
		maxItems:       DefaultMaxItems,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.placed, err = meter.Int64Counter("pos.checkout.orders",
		metric.WithDescription("Checkout attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}
	if s.duration, err = meter.Float64Histogram("pos.checkout.duration",
		metric.WithDescription("Checkout duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}

	return s, nil
}

// PlaceOrder validates the cart, locks the referenced products, checks stock,
// prices the cart and commits the order, its lines and the stock decrements
// in one transaction. Either all of it persists or none of it does.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (res *PlaceOrderResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder", trace.WithAttributes(
		attribute.Int64("pos.customer_id", req.CustomerID),
		attribute.Int("pos.items", len(req.Items)),
	))
	defer func() {
		outcome := outcomeOf(res, err)
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		s.placed.Add(ctx, 1, attrs)
		s.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	if req.CustomerID <= 0 {
		return nil, &ValidationError{Field: "customer_id", Message: "The customer id field is required."}
	}
	if err := s.validateItems(req.Items); err != nil {
		return nil, err
	}

	var fingerprint string
	if req.IdempotencyKey != "" {
		fingerprint = Fingerprint(req.CustomerID, req.Items)
		replayed, ok, err := s.replay(ctx, req.IdempotencyKey, fingerprint)
		if err != nil || ok {
			return replayed, err
		}
	}

	cust, err := s.customers.Get(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return nil, &CustomerNotFoundError{CustomerID: req.CustomerID}
		}
		return nil, wrapStorage("get customer", err)
	}

	o, err := s.commit(ctx, cust, req, fingerprint)
	if errors.Is(err, ErrIdempotencyKeyTaken) {
		// A concurrent request with the same key committed first.
		replayed, ok, rerr := s.replay(ctx, req.IdempotencyKey, fingerprint)
		if rerr != nil {
			return nil, rerr
		}
		if !ok {
			return nil, &ConcurrencyConflictError{Err: err}
		}
		return replayed, nil
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("pos.order_id", o.ID))
	zctx.From(ctx).Info("Order placed",
		zap.Int64("order_id", o.ID),
		zap.Int64("customer_id", o.CustomerID),
		zap.Int("lines", len(o.Lines)),
		zap.Stringer("subtotal", o.Subtotal),
		zap.Stringer("discount", o.Discount),
		zap.Stringer("final_total", o.FinalTotal),
	)

	return &PlaceOrderResult{Order: o}, nil
}

func (s *Service) commit(ctx context.Context, cust *customer.Customer, req PlaceOrderRequest, fingerprint string) (*Order, error) {
	tx, err := s.orders.Begin(ctx)
	if err != nil {
		return nil, wrapStorage("begin transaction", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	catalog := tx.Catalog()

	byID, err := resolveProducts(ctx, catalog.LockByIDs, req.Items)
	if err != nil {
		return nil, err
	}
	if err := checkStock(req.Items, byID); err != nil {
		var short *InsufficientStockError
		if errors.As(err, &short) {
			zctx.From(ctx).Warn("Insufficient stock",
				zap.Int64("product_id", short.ProductID),
				zap.Int("available", short.Available),
				zap.Int("requested", short.Requested),
			)
		}
		return nil, err
	}

	subtotal := decimal.Zero
	lines := make([]Line, len(req.Items))
	for i, item := range req.Items {
		lines[i] = Line{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: byID[item.ProductID].Price,
		}
		subtotal = subtotal.Add(lines[i].Subtotal())
	}
	quote := pricing.QuoteFor(subtotal)

	for _, d := range aggregateDemand(req.Items) {
		left, err := catalog.TryDecrementStock(ctx, d.ProductID, d.Quantity)
		if err != nil {
			var short *product.StockShortageError
			if errors.As(err, &short) || errors.Is(err, product.ErrNotFound) {
				return nil, &ConcurrencyConflictError{ProductID: d.ProductID, Err: err}
			}
			return nil, wrapStorage("decrement stock", err)
		}
		p := byID[d.ProductID]
		p.Stock = left
		byID[d.ProductID] = p
	}

	for i := range lines {
		p := byID[lines[i].ProductID]
		lines[i].Product = &p
	}

	o := &Order{
		CustomerID: cust.ID,
		Subtotal:   quote.Subtotal,
		Discount:   quote.Discount,
		FinalTotal: quote.FinalTotal,
		Customer:   cust,
		Lines:      lines,
	}
	if err := tx.Orders().Create(ctx, o); err != nil {
		return nil, wrapStorage("create order", err)
	}

	if req.IdempotencyKey != "" {
		err := tx.Orders().ClaimIdempotencyKey(ctx, IdempotencyRecord{
			Key:         req.IdempotencyKey,
			Fingerprint: fingerprint,
			OrderID:     o.ID,
		})
		if err != nil {
			if errors.Is(err, ErrIdempotencyKeyTaken) {
				return nil, err
			}
			return nil, wrapStorage("claim idempotency key", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapStorage("commit", err)
	}
	return o, nil
}

// replay looks up an earlier order placed with key. ok is false when the key
// is unused.
func (s *Service) replay(ctx context.Context, key, fingerprint string) (res *PlaceOrderResult, ok bool, err error) {
	rec, err := s.orders.FindIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, wrapStorage("find idempotency key", err)
	}
	if rec.Fingerprint != fingerprint {
		return nil, false, &IdempotencyKeyReusedError{Key: key}
	}

	o, err := s.orders.GetByID(ctx, rec.OrderID)
	if err != nil {
		return nil, false, wrapStorage("get replayed order", err)
	}

	zctx.From(ctx).Info("Order replayed", zap.Int64("order_id", o.ID))
	return &PlaceOrderResult{Order: o, Replayed: true}, true, nil
}

// Quote prices items at current catalog prices and checks them against
// current stock without locking or writing anything.
func (s *Service) Quote(ctx context.Context, items []Item) (*Quote, error) {
	ctx, span := s.tracer.Start(ctx, "order.Quote", trace.WithAttributes(
		attribute.Int("pos.items", len(items)),
	))
	defer span.End()

	if err := s.validateItems(items); err != nil {
		return nil, err
	}

	byID, err := resolveProducts(ctx, s.products.GetByIDs, items)
	if err != nil {
		return nil, err
	}
	if err := checkStock(items, byID); err != nil {
		return nil, err
	}

	q := &Quote{Lines: make([]QuoteLine, len(items))}
	subtotal := decimal.Zero
	for i, item := range items {
		p := byID[item.ProductID]
		total := pricing.LineTotal(p.Price, item.Quantity)
		q.Lines[i] = QuoteLine{
			Product:   p,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
			Total:     total,
		}
		subtotal = subtotal.Add(total)
	}
	q.Quote = pricing.QuoteFor(subtotal)

	return q, nil
}

// GetOrder returns the hydrated order or ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapStorage("get order", err)
	}
	return o, nil
}

// ListOrders returns one page of orders, newest first.
func (s *Service) ListOrders(ctx context.Context, params ListParams) (*Page, error) {
	page, err := s.orders.List(ctx, params.Normalize())
	if err != nil {
		return nil, wrapStorage("list orders", err)
	}
	return page, nil
}

func (s *Service) validateItems(items []Item) error {
	if len(items) == 0 {
		return &ValidationError{Field: "items", Message: "The items field is required."}
	}
	if len(items) > s.maxItems {
		return &ValidationError{
			Field:   "items",
			Message: "The items field must not have more than " + strconv.Itoa(s.maxItems) + " items.",
		}
	}
	for i, item := range items {
		prefix := "items." + strconv.Itoa(i)
		if item.ProductID <= 0 {
			return &ValidationError{Field: prefix + ".product_id", Message: "The product id field is required."}
		}
		if item.Quantity < 1 {
			return &ValidationError{Field: prefix + ".qty", Message: "The qty field must be at least 1."}
		}
		if item.Quantity > MaxQuantity {
			return &ValidationError{Field: prefix + ".qty", Message: "The qty field is too large."}
		}
	}
	return nil
}

type fetchFunc func(ctx context.Context, ids []int64) ([]product.Product, error)

// resolveProducts fetches every referenced product once, in ascending id
// order, and fails on the first cart item whose product is missing.
func resolveProducts(ctx context.Context, fetch fetchFunc, items []Item) (map[int64]product.Product, error) {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	fetched, err := fetch(ctx, ids)
	if err != nil {
		return nil, wrapStorage("get products", err)
	}

	byID := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}
	for i, item := range items {
		if _, ok := byID[item.ProductID]; !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID, Index: i}
		}
	}
	return byID, nil
}

// checkStock walks the cart in order and reports the first item whose
// cumulative demand exceeds stock.
func checkStock(items []Item, byID map[int64]product.Product) error {
	requested := make(map[int64]int, len(items))
	for _, item := range items {
		requested[item.ProductID] += item.Quantity
		p := byID[item.ProductID]
		if requested[item.ProductID] > p.Stock {
			return &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Stock,
				Requested:   requested[item.ProductID],
			}
		}
	}
	return nil
}

// aggregateDemand sums quantities per product, sorted by product id.
func aggregateDemand(items []Item) []Item {
	total := make(map[int64]int, len(items))
	for _, item := range items {
		total[item.ProductID] += item.Quantity
	}
	out := make([]Item, 0, len(total))
	for id, qty := range total {
		out = append(out, Item{ProductID: id, Quantity: qty})
	}
	slices.SortFunc(out, func(a, b Item) int {
		switch {
		case a.ProductID < b.ProductID:
			return -1
		case a.ProductID > b.ProductID:
			return 1
		}
		return 0
	})
	return out
}

// Fingerprint identifies a checkout request for idempotent replays. Item
// order is significant since it determines line order.
func Fingerprint(customerID int64, items []Item) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(customerID, 10))
	for _, item := range items {
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(item.ProductID, 10))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(item.Quantity))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func outcomeOf(res *PlaceOrderResult, err error) string {
	var (
		validation *ValidationError
		unknown    *CustomerNotFoundError
		missing    *ProductNotFoundError
		short      *InsufficientStockError
		conflict   *ConcurrencyConflictError
		reused     *IdempotencyKeyReusedError
	)
	switch {
	case err == nil && res != nil && res.Replayed:
		return "replayed"
	case err == nil:
		return "committed"
	case errors.As(err, &validation), errors.As(err, &reused):
		return "invalid"
	case errors.As(err, &unknown), errors.As(err, &missing):
		return "not_found"
	case errors.As(err, &short):
		return "insufficient_stock"
	case errors.As(err, &conflict):
		return "conflict"
	default:
		return "error"
	}
}
