// Package outbox relays order events committed to the outbox table to Kafka.
//
// Events are written in the same database transaction as the order they
// describe, so an event exists if and only if the order was committed.
// Delivery is at-least-once: consumers deduplicate by the event_id header.
package outbox

import (
	"strconv"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/pos-checkout/internal/domain/order"
)

// EventOrderCommitted is the type of the event emitted for every new order.
const EventOrderCommitted = "order.committed"

// Message is a pending outbox record.
type Message struct {
	ID        int64
	EventID   string
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// OrderCommitted builds the outbox message for a freshly created order. The
// order must already carry its ID and line IDs.
func OrderCommitted(topic string, o *order.Order) Message {
	eventID := uuid.NewString()
	return Message{
		EventID: eventID,
		Topic:   topic,
		Key:     strconv.FormatInt(o.ID, 10),
		Payload: encodeOrderCommitted(eventID, o),
	}
}

func encodeOrderCommitted(eventID string, o *order.Order) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(EventOrderCommitted) })
		e.Field("event_id", func(e *jx.Encoder) { e.Str(eventID) })
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Int64(o.CustomerID) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(o.Subtotal.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.StringFixed(2)) })
		e.Field("final_total", func(e *jx.Encoder) { e.Str(o.FinalTotal.StringFixed(2)) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(l.ProductID) })
						e.Field("qty", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(l.UnitPrice.StringFixed(2)) })
					})
				}
			})
		})
	})

	// The encoder goes back to the pool, so hand out a copy.
	return append([]byte(nil), e.Bytes()...)
}
