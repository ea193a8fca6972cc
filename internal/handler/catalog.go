package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/gorilla/mux"

	"github.com/xenking/pos-checkout/internal/domain/customer"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

// ListProducts handles GET /api/products?search=.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("search")))
	if err != nil {
		h.writeInternal(w, r, errors.Wrap(err, "list products"), "Failed to retrieve products")
		return
	}
	writeSuccess(w, http.StatusOK, "Products retrieved successfully", func(e *jx.Encoder) {
		e.ArrStart()
		for i := range products {
			h.encodeCatalogProduct(e, &products[i])
		}
		e.ArrEnd()
	})
}

// GetProduct handles GET /api/products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFailure(w, http.StatusNotFound, "Product not found")
		return
	}

	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "Product not found")
			return
		}
		h.writeInternal(w, r, errors.Wrap(err, "get product"), "Failed to retrieve product")
		return
	}
	writeSuccess(w, http.StatusOK, "Product retrieved successfully", func(e *jx.Encoder) {
		h.encodeCatalogProduct(e, p)
	})
}

// ListCustomers handles GET /api/customers?search=.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.customers.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("search")))
	if err != nil {
		h.writeInternal(w, r, errors.Wrap(err, "list customers"), "Failed to retrieve customers")
		return
	}
	writeSuccess(w, http.StatusOK, "Customers retrieved successfully", func(e *jx.Encoder) {
		e.ArrStart()
		for i := range customers {
			encodeCustomer(e, &customers[i])
		}
		e.ArrEnd()
	})
}

// GetCustomer handles GET /api/customers/{id}.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFailure(w, http.StatusNotFound, "Customer not found")
		return
	}

	c, err := h.customers.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "Customer not found")
			return
		}
		h.writeInternal(w, r, errors.Wrap(err, "get customer"), "Failed to retrieve customer")
		return
	}
	writeSuccess(w, http.StatusOK, "Customer retrieved successfully", func(e *jx.Encoder) {
		encodeCustomer(e, c)
	})
}

// pathID reads the positive {id} route variable.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// encodeCatalogProduct is encodeProduct plus the current stock level.
func (h *Handler) encodeCatalogProduct(e *jx.Encoder, p *product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(p.Code) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, p.Price) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("image_path", func(e *jx.Encoder) { encodeOptionalStr(e, h.imageURL(p.ImagePath)) })
	})
}
