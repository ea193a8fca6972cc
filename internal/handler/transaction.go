package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-checkout/internal/domain/order"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

// CreateTransaction handles POST /api/transactions.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readCheckoutBody(w, r)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		writeValidation(w, &order.ValidationError{
			Field:   "idempotency_key",
			Message: "The idempotency key must not be greater than " + strconv.Itoa(maxIdempotencyKeyLen) + " characters.",
		})
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		CustomerID:     body.CustomerID,
		Items:          body.Items,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeCheckoutError(w, r, err, "Failed to create transaction")
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		w.Header().Set(headerReplayed, "true")
	}
	writeSuccess(w, status, "Transaction created successfully", func(e *jx.Encoder) {
		h.encodeOrder(e, res.Order)
	})
}

// QuoteTransaction handles POST /api/transactions/quote. It prices a cart
// without reserving stock.
func (h *Handler) QuoteTransaction(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readCheckoutBody(w, r)
	if !ok {
		return
	}

	q, err := h.orders.Quote(r.Context(), body.Items)
	if err != nil {
		h.writeCheckoutError(w, r, err, "Failed to calculate quote")
		return
	}
	writeSuccess(w, http.StatusOK, "Quote calculated successfully", func(e *jx.Encoder) {
		h.encodeQuote(e, q)
	})
}

// GetTransaction handles GET /api/transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFailure(w, http.StatusNotFound, "Transaction not found")
		return
	}

	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "Transaction not found")
			return
		}
		h.writeInternal(w, r, err, "Failed to retrieve transaction")
		return
	}
	writeSuccess(w, http.StatusOK, "Transaction retrieved successfully", func(e *jx.Encoder) {
		h.encodeOrder(e, o)
	})
}

// ListTransactions handles GET /api/transactions?search=&page=&per_page=.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := order.ListParams{
		Search:  strings.TrimSpace(q.Get("search")),
		Page:    queryInt(q.Get("page")),
		PerPage: queryInt(q.Get("per_page")),
	}

	page, err := h.orders.ListOrders(r.Context(), params)
	if err != nil {
		h.writeInternal(w, r, err, "Failed to retrieve transactions")
		return
	}
	writeSuccess(w, http.StatusOK, "Transactions retrieved successfully",
		func(e *jx.Encoder) {
			e.ArrStart()
			for i := range page.Orders {
				h.encodeOrder(e, &page.Orders[i])
			}
			e.ArrEnd()
		},
		func(e *jx.Encoder) { encodePagination(e, page) },
	)
}

// readCheckoutBody decodes the request body, answering 400 or 422 itself
// when it cannot.
func (h *Handler) readCheckoutBody(w http.ResponseWriter, r *http.Request) (checkoutBody, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return checkoutBody{}, false
		}
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return checkoutBody{}, false
	}

	body, err := decodeCheckoutBody(data)
	if err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			writeValidation(w, verr)
			return checkoutBody{}, false
		}
		writeFailure(w, http.StatusBadRequest, "Malformed JSON")
		return checkoutBody{}, false
	}
	return body, true
}

// queryInt parses a positive integer query value. Anything else reads as
// zero and falls back to the default.
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
