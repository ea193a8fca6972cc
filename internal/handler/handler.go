package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xenking/pos-checkout/internal/domain/customer"
	"github.com/xenking/pos-checkout/internal/domain/order"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

// DefaultMaxBodyBytes limits request bodies when HandlerConfig leaves it unset.
const DefaultMaxBodyBytes = 1 << 20

// OrderService is the subset of *order.Service used by the HTTP layer.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Quote(ctx context.Context, items []order.Item) (*order.Quote, error)
	GetOrder(ctx context.Context, id int64) (*order.Order, error)
	ListOrders(ctx context.Context, params order.ListParams) (*order.Page, error)
}

var _ OrderService = (*order.Service)(nil)

// ProductCatalog serves the catalog a POS client builds carts from.
type ProductCatalog interface {
	GetByID(ctx context.Context, id int64) (*product.Product, error)
	List(ctx context.Context, search string) ([]product.Product, error)
}

// CustomerDirectory serves customer lookups for the checkout screen.
type CustomerDirectory interface {
	Get(ctx context.Context, id int64) (*customer.Customer, error)
	List(ctx context.Context, search string) ([]customer.Customer, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
	// MaxBodyBytes caps the size of JSON request bodies.
	MaxBodyBytes int64
}

// Handler serves the transaction API on top of the order service, plus
// read access to products and customers.
type Handler struct {
	orders       OrderService
	products     ProductCatalog
	customers    CustomerDirectory
	imageBaseURL string
	maxBodyBytes int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, orders OrderService, products ProductCatalog, customers CustomerDirectory) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		orders:       orders,
		products:     products,
		customers:    customers,
		imageBaseURL: cfg.ImageBaseURL,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/transactions", h.CreateTransaction).Methods(http.MethodPost).Name("createTransaction")
	r.HandleFunc("/transactions/quote", h.QuoteTransaction).Methods(http.MethodPost).Name("quoteTransaction")
	r.HandleFunc("/transactions", h.ListTransactions).Methods(http.MethodGet).Name("listTransactions")
	r.HandleFunc("/transactions/{id:[0-9]+}", h.GetTransaction).Methods(http.MethodGet).Name("getTransaction")

	r.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet).Name("listProducts")
	r.HandleFunc("/products/{id:[0-9]+}", h.GetProduct).Methods(http.MethodGet).Name("getProduct")
	r.HandleFunc("/customers", h.ListCustomers).Methods(http.MethodGet).Name("listCustomers")
	r.HandleFunc("/customers/{id:[0-9]+}", h.GetCustomer).Methods(http.MethodGet).Name("getCustomer")
}

// NewRouter returns a router serving h under /api. Unknown routes and
// methods are answered with the JSON error envelope.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	h.Register(r.PathPrefix("/api").Subrouter())
	return r
}
