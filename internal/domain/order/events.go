package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Event types emitted for push collaborators.
const (
	EventCreated       = "order.created"
	EventStatusChanged = "order.statusChanged"
	EventUpdated       = "order.updated"
)

// Event is a fire-and-forget notification about an order.
type Event struct {
	Type       string
	OrderID    string
	OwnerID    string
	Status     Status
	Total      decimal.Decimal
	Patch      map[string]any
	OccurredAt time.Time
}

// Publisher hands events to the push channel. Delivery is the channel's
// responsibility; a publish error never fails the operation that emitted it.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// AuditEntry records an administrative change to an order.
type AuditEntry struct {
	OrderID string
	Actor   string
	Action  string
	Changes map[string]any
	At      time.Time
}

// AuditLog stores audit entries.
type AuditLog interface {
	Record(ctx context.Context, e AuditEntry) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type nopAuditLog struct{}

func (nopAuditLog) Record(context.Context, AuditEntry) error { return nil }
