package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/order"
)

// conflictRetryAfter is the Retry-After hint, in seconds, sent with 409.
const conflictRetryAfter = 1

// writeCheckoutError maps errors returned by PlaceOrder and Quote.
// Anything unrecognised is logged and answered with fallback.
func (h *Handler) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		verr     *order.ValidationError
		custErr  *order.CustomerNotFoundError
		prodErr  *order.ProductNotFoundError
		stockErr *order.InsufficientStockError
		keyErr   *order.IdempotencyKeyReusedError
		conflict *order.ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr)
	case errors.As(err, &custErr):
		writeValidation(w, &order.ValidationError{
			Field:   "customer_id",
			Message: "The selected customer id is invalid.",
		})
	case errors.As(err, &prodErr):
		writeValidation(w, &order.ValidationError{
			Field:   "items." + strconv.Itoa(prodErr.Index) + ".product_id",
			Message: "The selected product id is invalid.",
		})
	case errors.As(err, &stockErr):
		writeFailure(w, http.StatusUnprocessableEntity, "Insufficient stock for product: "+stockErr.ProductName,
			func(e *jx.Encoder) {
				e.Field("product_id", func(e *jx.Encoder) { e.Int64(stockErr.ProductID) })
				e.Field("available_stock", func(e *jx.Encoder) { e.Int(stockErr.Available) })
				e.Field("requested_qty", func(e *jx.Encoder) { e.Int(stockErr.Requested) })
			},
		)
	case errors.As(err, &keyErr):
		writeValidation(w, &order.ValidationError{
			Field:   "idempotency_key",
			Message: "The idempotency key has already been used for a different request.",
		})
	case errors.As(err, &conflict):
		zctx.From(r.Context()).Warn("Checkout conflict", zap.Error(err))
		w.Header().Set("Retry-After", strconv.Itoa(conflictRetryAfter))
		writeFailure(w, http.StatusConflict, "The transaction conflicted with a concurrent update, please retry")
	default:
		h.writeInternal(w, r, err, fallback)
	}
}

// writeInternal logs err and answers 500 without exposing it.
func (h *Handler) writeInternal(w http.ResponseWriter, r *http.Request, err error, message string) {
	zctx.From(r.Context()).Error(message, zap.Error(err))
	writeFailure(w, http.StatusInternalServerError, message)
}

func writeValidation(w http.ResponseWriter, verr *order.ValidationError) {
	writeFailure(w, http.StatusUnprocessableEntity, "Validation failed", func(e *jx.Encoder) {
		e.Field("errors", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field(verr.Field, func(e *jx.Encoder) {
					e.ArrStart()
					e.Str(verr.Message)
					e.ArrEnd()
				})
			})
		})
	})
}
