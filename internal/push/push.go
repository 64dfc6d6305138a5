// Package push hands order events to the push channel. Delivery to clients is
// the channel's concern; publishers here only emit.
package push

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// Encode renders an event as the JSON payload published on the channel:
//
//	{"type":"order.statusChanged","orderId":"...","ownerId":"...",
//	 "status":"shipped","total":"985.00","occurredAt":"...","patch":{...}}
func Encode(ev order.Event) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(ev.Type) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(ev.OrderID) })
		e.Field("ownerId", func(e *jx.Encoder) { e.Str(ev.OwnerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(ev.Status)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(ev.Total.StringFixed(2)) })
		e.Field("occurredAt", func(e *jx.Encoder) { e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		if len(ev.Patch) > 0 {
			e.Field("patch", func(e *jx.Encoder) { encodePatch(e, ev.Patch) })
		}
	})
	return e.Bytes()
}

// encodePatch writes the patch with keys sorted, so equal patches encode
// identically.
func encodePatch(e *jx.Encoder, patch map[string]any) {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.Obj(func(e *jx.Encoder) {
		for _, k := range keys {
			e.Field(k, func(e *jx.Encoder) { encodeValue(e, patch[k]) })
		}
	})
}

func encodeValue(e *jx.Encoder, v any) {
	switch v := v.(type) {
	case nil:
		e.Null()
	case string:
		e.Str(v)
	case bool:
		e.Bool(v)
	case int:
		e.Int(v)
	case int64:
		e.Int64(v)
	case float64:
		e.Float64(v)
	case decimal.Decimal:
		e.Str(v.StringFixed(2))
	case time.Time:
		e.Str(v.UTC().Format(time.RFC3339Nano))
	case fmt.Stringer:
		e.Str(v.String())
	default:
		e.Str(fmt.Sprint(v))
	}
}
