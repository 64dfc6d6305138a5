package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// ActorSystem is recorded in history entries written by the service itself.
const ActorSystem = "system"

const instrumentationName = "github.com/xenking/kart-orders/internal/domain/order"

// ItemRequest is a requested line item before pricing.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	// Items to order. When empty, the owner's cart is used.
	Items           []ItemRequest
	Total           decimal.Decimal
	DeliveryAddress string
	Notes           string
	PaymentMethod   string
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Catalog  product.Catalog
	Reserver *inventory.Reserver
	Pricing  *pricing.Engine
	Orders   Repository
	Carts    cart.Snapshot
	Events   Publisher
	Audit    AuditLog

	Clock          func() time.Time
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service implements order creation, lifecycle changes and authorized reads.
type Service struct {
	catalog  product.Catalog
	reserver *inventory.Reserver
	pricing  *pricing.Engine
	orders   Repository
	carts    cart.Snapshot
	events   Publisher
	audit    AuditLog
	clock    func() time.Time
	tracer   trace.Tracer

	created    metric.Int64Counter
	rejected   metric.Int64Counter
	overridden metric.Int64Counter
}

// NewService creates an order Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("catalog is required")
	case deps.Reserver == nil:
		return nil, errors.New("reserver is required")
	case deps.Pricing == nil:
		return nil, errors.New("pricing engine is required")
	case deps.Orders == nil:
		return nil, errors.New("order repository is required")
	case deps.Carts == nil:
		return nil, errors.New("cart snapshot is required")
	}

	s := &Service{
		catalog:  deps.Catalog,
		reserver: deps.Reserver,
		pricing:  deps.Pricing,
		orders:   deps.Orders,
		carts:    deps.Carts,
		events:   deps.Events,
		audit:    deps.Audit,
		clock:    deps.Clock,
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.audit == nil {
		s.audit = nopAuditLog{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	tp := deps.TracerProvider
	if tp == nil {
		tp = nooptrace.NewTracerProvider()
	}
	s.tracer = tp.Tracer(instrumentationName)

	mp := deps.MeterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders that passed the commit point"),
	); err != nil {
		return nil, errors.Wrap(err, "create orders.created counter")
	}
	if s.rejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order creations rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "create orders.rejected counter")
	}
	if s.overridden, err = meter.Int64Counter("orders.overrides",
		metric.WithDescription("Admin overrides applied"),
	); err != nil {
		return nil, errors.Wrap(err, "create orders.overrides counter")
	}
	return s, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// Create turns a request (or the owner's cart) into a pending order.
//
// Every business check runs before any stock is touched. The order is stored
// as a draft, stock is reserved all-or-nothing, and only then is the order
// finalized to pending. That finalization is the commit point: before it every
// effect is compensated on failure, after it the order is final.
func (s *Service) Create(ctx context.Context, p auth.Principal, req CreateRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectReason(rerr))))
		}
	}()

	if p.ID == "" {
		return nil, auth.ErrUnauthorized
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	payment, err := ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	requested, err := s.requestedItems(ctx, p.ID, req.Items)
	if err != nil {
		return nil, err
	}
	items, snapshot, err := s.priceItems(ctx, requested)
	if err != nil {
		return nil, err
	}

	lines := make([]pricing.Line, len(items))
	reserve := make([]inventory.Line, len(items))
	for i, it := range items {
		lines[i] = pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
		reserve[i] = inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	breakdown, err := s.pricing.Verify(lines, req.Total)
	if err != nil {
		return nil, err
	}
	if err := inventory.Check(reserve, snapshot); err != nil {
		return nil, err
	}

	now := s.now()
	draft := &Order{
		ID:              uuid.New().String(),
		OwnerID:         p.ID,
		Items:           items,
		Subtotal:        breakdown.Subtotal,
		Tax:             breakdown.Tax,
		Shipping:        breakdown.Shipping,
		Discount:        decimal.Zero,
		Total:           breakdown.Total,
		Status:          statusReserving,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		Notes:           strings.TrimSpace(req.Notes),
		PaymentMethod:   payment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.orders.Create(ctx, draft); err != nil {
		return nil, persistence("create draft order", err)
	}

	lg := zctx.From(ctx).With(zap.String("order_id", draft.ID))

	reservation, err := s.reserver.ReserveAll(ctx, reserve)
	if err != nil {
		s.markFailed(ctx, lg, draft.ID)
		var stockErr *inventory.InsufficientStockError
		if errors.As(err, &stockErr) && !isCompensationError(err) {
			return nil, stockErr
		}
		return nil, &PersistenceError{Op: "reserve stock", Err: err}
	}

	o, err := s.orders.Update(ctx, draft.ID, func(o *Order) error {
		if o.Status != statusReserving {
			return errors.Errorf("finalize order in status %q", o.Status)
		}
		o.SetStatus(StatusPending, ActorSystem, "", s.now())
		return nil
	})
	if err != nil {
		if relErr := s.reserver.Release(ctx, reservation); relErr != nil {
			lg.Error("Release reservation after failed finalize", zap.Error(relErr))
		}
		s.markFailed(ctx, lg, draft.ID)
		return nil, &PersistenceError{Op: "finalize order", Err: err}
	}

	// Committed. Nothing below may fail the request.
	s.created.Add(ctx, 1)
	if err := s.carts.Clear(ctx, p.ID); err != nil {
		lg.Warn("Clear cart", zap.Error(err))
	}
	s.publish(ctx, lg, Event{
		Type:       EventCreated,
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		Status:     o.Status,
		Total:      o.Total,
		OccurredAt: o.UpdatedAt,
	})
	lg.Info("Order created",
		zap.String("owner_id", o.OwnerID),
		zap.String("total", o.Total.StringFixed(2)),
		zap.Int("items", len(o.Items)),
	)
	return o, nil
}

func validateCreate(req CreateRequest) error {
	if strings.TrimSpace(req.DeliveryAddress) == "" {
		return &ValidationError{Field: "deliveryAddress", Reason: "required"}
	}
	if req.PaymentMethod == "" {
		return &ValidationError{Field: "paymentMethod", Reason: "required"}
	}
	if !req.Total.IsPositive() {
		return &ValidationError{Field: "total", Reason: "must be greater than 0"}
	}
	return nil
}

// requestedItems returns the request's items, or the cart's when the request
// names none.
func (s *Service) requestedItems(ctx context.Context, ownerID string, items []ItemRequest) ([]ItemRequest, error) {
	if len(items) == 0 {
		cartItems, err := s.carts.Read(ctx, ownerID)
		if err != nil {
			return nil, persistence("read cart", err)
		}
		for _, ci := range cartItems {
			items = append(items, ItemRequest{ProductID: ci.ProductID, Quantity: ci.Quantity})
		}
	}
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	// Quantities of one product are summed at reservation, so the bound
	// applies to the sum as well as to each line.
	perProduct := make(map[string]int, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, &ValidationError{Field: "items.product", Reason: "required"}
		}
		if it.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: it.ProductID}
		}
		if it.Quantity > product.MaxQuantity-perProduct[it.ProductID] {
			return nil, &ValidationError{
				Field:  "items.quantity",
				Reason: fmt.Sprintf("total for product %s must not exceed %d", it.ProductID, product.MaxQuantity),
			}
		}
		perProduct[it.ProductID] += it.Quantity
	}
	return items, nil
}

// priceItems fetches the products in a single batch and snapshots their
// current prices onto the line items.
func (s *Service) priceItems(ctx context.Context, req []ItemRequest) ([]Item, map[string]product.Product, error) {
	ids := make([]string, len(req))
	for i, it := range req {
		ids[i] = it.ProductID
	}

	fetched, err := s.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, persistence("get products", err)
	}
	snapshot := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		snapshot[p.ID] = p
	}

	items := make([]Item, len(req))
	for i, it := range req {
		p, ok := snapshot[it.ProductID]
		if !ok {
			return nil, nil, &ProductNotFoundError{ProductID: it.ProductID}
		}
		items[i] = Item{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		}
	}
	return items, snapshot, nil
}

// markFailed moves a draft to failed. The draft stays invisible either way,
// so a failure here is only logged.
func (s *Service) markFailed(ctx context.Context, lg *zap.Logger, id string) {
	ctx = context.WithoutCancel(ctx)
	_, err := s.orders.Update(ctx, id, func(o *Order) error {
		o.Status = statusFailed
		o.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		lg.Error("Mark draft order failed", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, lg *zap.Logger, e Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		lg.Warn("Publish order event", zap.String("event", e.Type), zap.Error(err))
	}
}

// update applies fn through the repository, keeping errors returned by fn
// distinct from storage failures.
func (s *Service) update(ctx context.Context, op, id string, fn func(o *Order) error) (*Order, error) {
	var fnErr error
	o, err := s.orders.Update(ctx, id, func(o *Order) error {
		if !o.Visible() {
			fnErr = ErrNotFound
			return fnErr
		}
		fnErr = fn(o)
		return fnErr
	})
	if err != nil {
		if fnErr != nil {
			return nil, fnErr
		}
		return nil, persistence(op, err)
	}
	return o, nil
}

func isCompensationError(err error) bool {
	var ce *inventory.CompensationError
	return errors.As(err, &ce)
}

func rejectReason(err error) string {
	var (
		mismatch *pricing.TotalMismatchError
		stock    *inventory.InsufficientStockError
		pe       *PersistenceError
	)
	switch {
	case errors.As(err, &mismatch):
		return "total_mismatch"
	case errors.As(err, &pe):
		return "persistence"
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.Is(err, auth.ErrUnauthorized):
		return "unauthorized"
	default:
		return "validation"
	}
}
