package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/customer"
	"github.com/xenking/pos-checkout/internal/domain/order"
	"github.com/xenking/pos-checkout/internal/domain/pricing"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*order.PlaceOrderResult)
	return res, args.Error(1)
}

func (m *mockOrderService) Quote(ctx context.Context, items []order.Item) (*order.Quote, error) {
	args := m.Called(ctx, items)
	q, _ := args.Get(0).(*order.Quote)
	return q, args.Error(1)
}

func (m *mockOrderService) GetOrder(ctx context.Context, id int64) (*order.Order, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(*order.Order)
	return o, args.Error(1)
}

func (m *mockOrderService) ListOrders(ctx context.Context, params order.ListParams) (*order.Page, error) {
	args := m.Called(ctx, params)
	p, _ := args.Get(0).(*order.Page)
	return p, args.Error(1)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testOrder() *order.Order {
	laptop := &product.Product{ID: 1, Code: "PRD-001", Name: "Laptop", Price: d("600000"), Stock: 8, ImagePath: "products/laptop.png"}
	return &order.Order{
		ID:         42,
		CustomerID: 1,
		Customer:   &customer.Customer{ID: 1, Name: "Budi Santoso", Phone: "081234567890", Email: "budi@example.com"},
		Subtotal:   d("1200000"),
		Discount:   d("180000"),
		FinalTotal: d("1020000"),
		CreatedAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Lines: []order.Line{
			{ID: 7, ProductID: 1, Quantity: 2, UnitPrice: d("600000"), Product: laptop},
		},
	}
}

func newTestRouter(svc OrderService) http.Handler {
	return NewRouter(NewHandler(HandlerConfig{ImageBaseURL: "https://cdn.example.com/"}, svc, new(mockCatalog), new(mockDirectory)))
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateTransaction_Created(t *testing.T) {
	svc := new(mockOrderService)
	svc.On("PlaceOrder", mock.Anything, order.PlaceOrderRequest{
		CustomerID:     1,
		Items:          []order.Item{{ProductID: 1, Quantity: 2}},
		IdempotencyKey: "abc",
	}).Return(&order.PlaceOrderResult{Order: testOrder()}, nil)

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions",
		`{"customer_id":1,"items":[{"product_id":1,"qty":2}]}`, "Idempotency-Key", "abc")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))

	raw := rec.Body.String()
	assert.Contains(t, raw, `"subtotal":1200000.00`)
	assert.Contains(t, raw, `"discount":180000.00`)
	assert.Contains(t, raw, `"final_total":1020000.00`)
	assert.Contains(t, raw, `"price_at_time":600000.00`)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Transaction created successfully", body["message"])

	data := body["data"].(map[string]any)
	assert.EqualValues(t, 42, data["id"])
	assert.Equal(t, "2025-03-01T10:00:00Z", data["created_at"])
	assert.Equal(t, "Budi Santoso", data["customer"].(map[string]any)["name"])

	details := data["details"].([]any)
	require.Len(t, details, 1)
	line := details[0].(map[string]any)
	assert.EqualValues(t, 2, line["qty"])
	assert.EqualValues(t, 1200000, line["subtotal"])
	prod := line["product"].(map[string]any)
	assert.Equal(t, "PRD-001", prod["code"])
	assert.Equal(t, "https://cdn.example.com/products/laptop.png", prod["image_path"])

	svc.AssertExpectations(t)
}

func TestCreateTransaction_Replayed(t *testing.T) {
	svc := new(mockOrderService)
	svc.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(&order.PlaceOrderResult{Order: testOrder(), Replayed: true}, nil)

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions",
		`{"customer_id":1,"items":[{"product_id":1,"qty":2}]}`, "Idempotency-Key", "abc")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
}

func TestCreateTransaction_MalformedJSON(t *testing.T) {
	for _, body := range []string{
		``,
		`{`,
		`[1,2]`,
		`{"customer_id":1,"items":[}`,
		`{"customer_id":1} trailing`,
	} {
		t.Run(body, func(t *testing.T) {
			svc := new(mockOrderService)
			rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, decodeBody(t, rec)["success"])
			svc.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateTransaction_TypeErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"customer id string", `{"customer_id":"x","items":[]}`, "customer_id"},
		{"customer id fraction", `{"customer_id":1.5,"items":[]}`, "customer_id"},
		{"items object", `{"customer_id":1,"items":{}}`, "items"},
		{"item not object", `{"customer_id":1,"items":[3]}`, "items.0"},
		{"product id string", `{"customer_id":1,"items":[{"product_id":1,"qty":1},{"product_id":"a","qty":1}]}`, "items.1.product_id"},
		{"qty bool", `{"customer_id":1,"items":[{"product_id":1,"qty":true}]}`, "items.0.qty"},
		{"qty overflow", `{"customer_id":1,"items":[{"product_id":1,"qty":99999999999}]}`, "items.0.qty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockOrderService)
			rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions", tt.body)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.Equal(t, "Validation failed", body["message"])
			assert.Contains(t, body["errors"], tt.field)
			svc.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateTransaction_NullsReachService(t *testing.T) {
	svc := new(mockOrderService)
	svc.On("PlaceOrder", mock.Anything, order.PlaceOrderRequest{}).
		Return(nil, &order.ValidationError{Field: "customer_id", Message: "The customer id field is required."})

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions",
		`{"customer_id":null,"items":null,"note":"ignored"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errs := decodeBody(t, rec)["errors"].(map[string]any)
	assert.Equal(t, []any{"The customer id field is required."}, errs["customer_id"])
}

func TestCreateTransaction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
		field   string
	}{
		{
			name:    "unknown customer",
			err:     &order.CustomerNotFoundError{CustomerID: 9},
			status:  http.StatusUnprocessableEntity,
			message: "Validation failed",
			field:   "customer_id",
		},
		{
			name:    "unknown product",
			err:     &order.ProductNotFoundError{ProductID: 99, Index: 1},
			status:  http.StatusUnprocessableEntity,
			message: "Validation failed",
			field:   "items.1.product_id",
		},
		{
			name:    "key reused",
			err:     &order.IdempotencyKeyReusedError{Key: "abc"},
			status:  http.StatusUnprocessableEntity,
			message: "Validation failed",
			field:   "idempotency_key",
		},
		{
			name:    "conflict",
			err:     &order.ConcurrencyConflictError{ProductID: 1, Err: order.ErrConflict},
			status:  http.StatusConflict,
			message: "The transaction conflicted with a concurrent update, please retry",
		},
		{
			name:    "internal",
			err:     &order.InternalError{Op: "commit", Err: errors.New("connection reset by peer")},
			status:  http.StatusInternalServerError,
			message: "Failed to create transaction",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockOrderService)
			svc.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions",
				`{"customer_id":1,"items":[{"product_id":1,"qty":1}]}`)

			require.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.message, body["message"])
			if tt.field != "" {
				assert.Contains(t, body["errors"], tt.field)
			}
			assert.NotContains(t, rec.Body.String(), "connection reset")
		})
	}
}

func TestCreateTransaction_ConflictRetryAfter(t *testing.T) {
	svc := new(mockOrderService)
	svc.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(nil, &order.ConcurrencyConflictError{Err: order.ErrConflict})

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions",
		`{"customer_id":1,"items":[{"product_id":1,"qty":1}]}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCreateTransaction_InsufficientStock(t *testing.T) {
	svc := new(mockOrderService)
	svc.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, &order.InsufficientStockError{
		ProductID:   3,
		ProductName: "Mouse",
		Available:   2,
		Requested:   5,
	})

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions",
		`{"customer_id":1,"items":[{"product_id":3,"qty":5}]}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Insufficient stock for product: Mouse", body["message"])
	assert.EqualValues(t, 3, body["product_id"])
	assert.EqualValues(t, 2, body["available_stock"])
	assert.EqualValues(t, 5, body["requested_qty"])
}

func TestCreateTransaction_IdempotencyKeyTooLong(t *testing.T) {
	svc := new(mockOrderService)
	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions",
		`{"customer_id":1,"items":[{"product_id":1,"qty":1}]}`,
		"Idempotency-Key", strings.Repeat("k", maxIdempotencyKeyLen+1))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	svc.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestCreateTransaction_BodyTooLarge(t *testing.T) {
	svc := new(mockOrderService)
	r := NewRouter(NewHandler(HandlerConfig{MaxBodyBytes: 16}, svc, new(mockCatalog), new(mockDirectory)))

	rec := do(t, r, http.MethodPost, "/api/transactions",
		`{"customer_id":1,"items":[{"product_id":1,"qty":1}]}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestQuoteTransaction(t *testing.T) {
	mouse := product.Product{ID: 3, Code: "PRD-003", Name: "Mouse", Price: d("150000"), Stock: 10}
	svc := new(mockOrderService)
	svc.On("Quote", mock.Anything, []order.Item{{ProductID: 3, Quantity: 4}}).Return(&order.Quote{
		Quote: pricing.QuoteFor(d("600000")),
		Lines: []order.QuoteLine{{Product: mouse, Quantity: 4, UnitPrice: mouse.Price, Total: d("600000")}},
	}, nil)

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions/quote",
		`{"items":[{"product_id":3,"qty":4}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	raw := rec.Body.String()
	assert.Contains(t, raw, `"discount_rate":0.1`)
	assert.Contains(t, raw, `"discount":60000.00`)
	assert.Contains(t, raw, `"final_total":540000.00`)

	data := decodeBody(t, rec)["data"].(map[string]any)
	items := data["items"].([]any)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].(map[string]any)["product"].(map[string]any)["image_path"])
}

func TestQuoteTransaction_InsufficientStock(t *testing.T) {
	svc := new(mockOrderService)
	svc.On("Quote", mock.Anything, mock.Anything).Return(nil, &order.InsufficientStockError{
		ProductID: 3, ProductName: "Mouse", Available: 1, Requested: 4,
	})

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/transactions/quote",
		`{"items":[{"product_id":3,"qty":4}]}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["available_stock"])
}

func TestGetTransaction(t *testing.T) {
	svc := new(mockOrderService)
	svc.On("GetOrder", mock.Anything, int64(42)).Return(testOrder(), nil)
	svc.On("GetOrder", mock.Anything, int64(7)).Return(nil, order.ErrNotFound)
	svc.On("GetOrder", mock.Anything, int64(8)).Return(nil, &order.InternalError{Op: "get order", Err: errors.New("boom")})
	r := newTestRouter(svc)

	rec := do(t, r, http.MethodGet, "/api/transactions/42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Transaction retrieved successfully", decodeBody(t, rec)["message"])

	rec = do(t, r, http.MethodGet, "/api/transactions/7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Transaction not found", decodeBody(t, rec)["message"])

	rec = do(t, r, http.MethodGet, "/api/transactions/8", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to retrieve transaction", decodeBody(t, rec)["message"])

	rec = do(t, r, http.MethodGet, "/api/transactions/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route not found", decodeBody(t, rec)["message"])
}

func TestListTransactions(t *testing.T) {
	o := testOrder()
	svc := new(mockOrderService)
	svc.On("ListOrders", mock.Anything, order.ListParams{Search: "budi", Page: 2, PerPage: 1}).
		Return(&order.Page{Orders: []order.Order{*o}, Total: 3, Page: 2, PerPage: 1}, nil)

	rec := do(t, newTestRouter(svc), http.MethodGet, "/api/transactions?search=+budi+&page=2&per_page=1", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "Transactions retrieved successfully", body["message"])
	assert.Len(t, body["data"], 1)
	assert.Equal(t, map[string]any{
		"total":        float64(3),
		"per_page":     float64(1),
		"current_page": float64(2),
		"last_page":    float64(3),
		"from":         float64(2),
		"to":           float64(2),
		"has_more":     true,
	}, body["pagination"])
}

func TestListTransactions_EmptyPage(t *testing.T) {
	svc := new(mockOrderService)
	svc.On("ListOrders", mock.Anything, order.ListParams{}).
		Return(&order.Page{Total: 0, Page: 1, PerPage: 10}, nil)

	rec := do(t, newTestRouter(svc), http.MethodGet, "/api/transactions?page=-3&per_page=abc", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{}, body["data"])
	pagination := body["pagination"].(map[string]any)
	assert.Nil(t, pagination["from"])
	assert.Nil(t, pagination["to"])
	assert.Equal(t, false, pagination["has_more"])
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	rec := do(t, newTestRouter(new(mockOrderService)), http.MethodDelete, "/api/transactions/1", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}
