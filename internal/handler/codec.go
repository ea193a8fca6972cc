package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/customer"
	"github.com/xenking/pos-checkout/internal/domain/order"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

// errMalformedBody is returned for request bodies that are not a JSON object.
var errMalformedBody = errors.New("malformed JSON body")

type checkoutBody struct {
	CustomerID int64
	Items      []order.Item
}

// decodeCheckoutBody parses {customer_id, items:[{product_id, qty}]}.
// Well-formed JSON with values of the wrong type yields an
// *order.ValidationError naming the offending field.
func decodeCheckoutBody(data []byte) (checkoutBody, error) {
	var body checkoutBody

	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return body, errMalformedBody
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "customer_id":
			id, err := decodeInt(d, "customer_id", "The customer id field must be an integer.")
			body.CustomerID = id
			return err
		case "items":
			items, err := decodeItems(d)
			body.Items = items
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			return body, verr
		}
		return body, errors.Wrap(errMalformedBody, err.Error())
	}
	if d.Next() != jx.Invalid {
		return body, errors.Wrap(errMalformedBody, "trailing data")
	}
	return body, nil
}

func decodeItems(d *jx.Decoder) ([]order.Item, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.Array:
	default:
		if err := d.Skip(); err != nil {
			return nil, err
		}
		return nil, &order.ValidationError{Field: "items", Message: "The items field must be an array."}
	}

	var items []order.Item
	err := d.Arr(func(d *jx.Decoder) error {
		prefix := "items." + strconv.Itoa(len(items))
		if d.Next() != jx.Object {
			if err := d.Skip(); err != nil {
				return err
			}
			return &order.ValidationError{Field: prefix, Message: "The " + prefix + " field must be an object."}
		}

		var item order.Item
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "product_id":
				id, err := decodeInt(d, prefix+".product_id", "The product id field must be an integer.")
				item.ProductID = id
				return err
			case "qty":
				qty, err := decodeInt(d, prefix+".qty", "The qty field must be an integer.")
				if err != nil {
					return err
				}
				if qty > order.MaxQuantity {
					return &order.ValidationError{Field: prefix + ".qty", Message: "The qty field is too large."}
				}
				item.Quantity = int(qty)
				return nil
			default:
				return d.Skip()
			}
		})
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// decodeInt reads an integer. Null reads as zero so that required-field
// checks downstream report it.
func decodeInt(d *jx.Decoder, field, msg string) (int64, error) {
	switch d.Next() {
	case jx.Null:
		return 0, d.Null()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return 0, err
		}
		if !n.IsInt() {
			return 0, &order.ValidationError{Field: field, Message: msg}
		}
		v, err := n.Int64()
		if err != nil {
			return 0, &order.ValidationError{Field: field, Message: msg}
		}
		return v, nil
	default:
		if err := d.Skip(); err != nil {
			return 0, err
		}
		return 0, &order.ValidationError{Field: field, Message: msg}
	}
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeSuccess writes {success:true, message, data} plus any extra fields.
func writeSuccess(w http.ResponseWriter, status int, message string, data func(e *jx.Encoder), extra ...func(e *jx.Encoder)) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
			e.Field("data", data)
			for _, fn := range extra {
				fn(e)
			}
		})
	})
}

func writeFailure(w http.ResponseWriter, status int, message string, extra ...func(e *jx.Encoder)) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
			for _, fn := range extra {
				fn(e)
			}
		})
	})
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeOptionalStr(e *jx.Encoder, s string) {
	if s == "" {
		e.Null()
		return
	}
	e.Str(s)
}

func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" {
		return path
	}
	return h.imageBaseURL + path
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	if p == nil {
		e.Null()
		return
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(p.Code) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, p.Price) })
		e.Field("image_path", func(e *jx.Encoder) { encodeOptionalStr(e, h.imageURL(p.ImagePath)) })
	})
}

func encodeCustomer(e *jx.Encoder, c *customer.Customer) {
	if c == nil {
		e.Null()
		return
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
		e.Field("phone", func(e *jx.Encoder) { encodeOptionalStr(e, c.Phone) })
		e.Field("email", func(e *jx.Encoder) { encodeOptionalStr(e, c.Email) })
	})
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Int64(o.CustomerID) })
		e.Field("customer", func(e *jx.Encoder) { encodeCustomer(e, o.Customer) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, o.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, o.Discount) })
		e.Field("final_total", func(e *jx.Encoder) { encodeMoney(e, o.FinalTotal) })
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("details", func(e *jx.Encoder) {
			e.ArrStart()
			for i := range o.Lines {
				h.encodeLine(e, &o.Lines[i])
			}
			e.ArrEnd()
		})
	})
}

func (h *Handler) encodeLine(e *jx.Encoder, l *order.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(l.ID) })
		e.Field("product_id", func(e *jx.Encoder) { e.Int64(l.ProductID) })
		e.Field("qty", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("price_at_time", func(e *jx.Encoder) { encodeMoney(e, l.UnitPrice) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, l.Subtotal()) })
		e.Field("product", func(e *jx.Encoder) { h.encodeProduct(e, l.Product) })
	})
}

func (h *Handler) encodeQuote(e *jx.Encoder, q *order.Quote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, q.Subtotal) })
		e.Field("discount_rate", func(e *jx.Encoder) { e.Num(jx.Num(q.Rate.String())) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, q.Discount) })
		e.Field("final_total", func(e *jx.Encoder) { encodeMoney(e, q.FinalTotal) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for i := range q.Lines {
				l := &q.Lines[i]
				e.Obj(func(e *jx.Encoder) {
					e.Field("product_id", func(e *jx.Encoder) { e.Int64(l.Product.ID) })
					e.Field("qty", func(e *jx.Encoder) { e.Int(l.Quantity) })
					e.Field("price", func(e *jx.Encoder) { encodeMoney(e, l.UnitPrice) })
					e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, l.Total) })
					e.Field("product", func(e *jx.Encoder) { h.encodeProduct(e, &l.Product) })
				})
			}
			e.ArrEnd()
		})
	})
}

func encodePagination(e *jx.Encoder, p *order.Page) {
	e.FieldStart("pagination")
	e.Obj(func(e *jx.Encoder) {
		e.Field("total", func(e *jx.Encoder) { e.Int(p.Total) })
		e.Field("per_page", func(e *jx.Encoder) { e.Int(p.PerPage) })
		e.Field("current_page", func(e *jx.Encoder) { e.Int(p.Page) })
		e.Field("last_page", func(e *jx.Encoder) { e.Int(p.LastPage()) })
		e.Field("from", func(e *jx.Encoder) { encodeBound(e, p.From()) })
		e.Field("to", func(e *jx.Encoder) { encodeBound(e, p.To()) })
		e.Field("has_more", func(e *jx.Encoder) { e.Bool(p.HasMore()) })
	})
}

// encodeBound writes null for an empty page.
func encodeBound(e *jx.Encoder, n int) {
	if n == 0 {
		e.Null()
		return
	}
	e.Int(n)
}
