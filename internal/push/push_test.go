package push

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/kart-orders/internal/domain/order"
)

func testEvent() order.Event {
	return order.Event{
		Type:       order.EventStatusChanged,
		OrderID:    "o1",
		OwnerID:    "u1",
		Status:     order.StatusShipped,
		Total:      decimal.RequireFromString("985"),
		Patch:      map[string]any{"status": "shipped", "trackingNumber": "TRK-1", "count": 2},
		OccurredAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEncode(t *testing.T) {
	var got map[string]any
	require.NoError(t, json.Unmarshal(Encode(testEvent()), &got))

	assert.Equal(t, "order.statusChanged", got["type"])
	assert.Equal(t, "o1", got["orderId"])
	assert.Equal(t, "u1", got["ownerId"])
	assert.Equal(t, "shipped", got["status"])
	assert.Equal(t, "985.00", got["total"])
	assert.Equal(t, "2025-03-01T10:00:00Z", got["occurredAt"])
	assert.Equal(t, map[string]any{
		"status":         "shipped",
		"trackingNumber": "TRK-1",
		"count":          float64(2),
	}, got["patch"])
}

func TestEncode_NoPatch(t *testing.T) {
	ev := testEvent()
	ev.Patch = nil

	var got map[string]any
	require.NoError(t, json.Unmarshal(Encode(ev), &got))
	assert.NotContains(t, got, "patch")
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(0, f.err)
}

func TestRedisPublisher(t *testing.T) {
	fake := &fakeRedis{}
	p := &RedisPublisher{client: fake, channel: "orders.events"}

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	assert.Equal(t, "orders.events", fake.channel)
	assert.Equal(t, Encode(testEvent()), fake.payload)

	fake.err = errors.New("connection refused")
	require.ErrorIs(t, p.Publish(context.Background(), testEvent()), fake.err)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	require.NoError(t, LogPublisher{}.Publish(ctx, testEvent()))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "o1", logs.All()[0].ContextMap()["order_id"])
}
