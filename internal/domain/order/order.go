package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusPreparing  Status = "preparing"
	StatusReady      Status = "ready"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"

	// statusReserving marks a draft whose stock reservation is in flight.
	statusReserving Status = "reserving"
	// statusFailed marks a draft whose reservation was rolled back.
	statusFailed Status = "failed"
)

// Statuses lists every status an order can be observed in.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

// ParseStatus converts s to a public status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

// DraftStatuses lists the statuses of orders that have not passed the commit
// point. Storage implementations exclude them from listings.
func DraftStatuses() []Status {
	return []Status{statusReserving, statusFailed}
}

// Terminal reports whether no further progress is expected from this status.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusDelivered
}

// internal reports whether the status belongs to the creation saga.
func (s Status) internal() bool {
	return s == statusReserving || s == statusFailed
}

// PaymentMethod is an opaque payment tag. Payments are never processed here.
type PaymentMethod string

const (
	PaymentCOD        PaymentMethod = "cod"
	PaymentCard       PaymentMethod = "card"
	PaymentUPI        PaymentMethod = "upi"
	PaymentNetBanking PaymentMethod = "netbanking"
)

// ParsePaymentMethod converts s to a known payment tag.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch pm := PaymentMethod(s); pm {
	case PaymentCOD, PaymentCard, PaymentUPI, PaymentNetBanking:
		return pm, nil
	}
	return "", ErrInvalidPaymentMethod
}

// Item is a line item with the unit price captured at order time.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is the persisted order aggregate.
type Order struct {
	ID      string
	OwnerID string
	Items   []Item

	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal

	Status  Status
	History History

	DeliveryAddress   string
	Notes             string
	PaymentMethod     PaymentMethod
	TrackingNumber    string
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	AdminNotes        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Visible reports whether the order has passed its commit point. Drafts that
// are still reserving stock, or whose reservation failed, are never returned
// to callers.
func (o *Order) Visible() bool {
	return !o.Status.internal()
}

// SetStatus assigns status and appends the matching history entry. Moving to
// delivered stamps ActualDelivery with the entry time unless it is already
// set; moving anywhere else clears it.
func (o *Order) SetStatus(status Status, actor, notes string, now time.Time) {
	entry := o.History.Append(HistoryEntry{
		Status:    status,
		Timestamp: now,
		Actor:     actor,
		Notes:     notes,
	})
	o.Status = status
	o.UpdatedAt = entry.Timestamp

	if status == StatusDelivered {
		if o.ActualDelivery == nil {
			at := entry.Timestamp
			o.ActualDelivery = &at
		}
		return
	}
	o.ActualDelivery = nil
}

// ListFilter narrows an admin listing.
type ListFilter struct {
	Status Status
	Offset int
	Limit  int
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists a new order.
	Create(ctx context.Context, o *Order) error
	// Update loads the order, applies fn and persists the result atomically
	// with respect to other updates of the same order. History entries
	// appended by fn are stored; existing entries are never rewritten. When
	// fn returns an error nothing is persisted.
	Update(ctx context.Context, id string, fn func(o *Order) error) (*Order, error)
	// GetByID returns the order, including drafts. Missing orders yield ErrNotFound.
	GetByID(ctx context.Context, id string) (*Order, error)
	// ListByOwner returns the owner's visible orders, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	// List returns a page of visible orders across owners, newest first,
	// together with the number of orders matching the filter.
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
}
