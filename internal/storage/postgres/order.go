package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const orderColumns = `id, owner_id, items, subtotal, tax, shipping, discount, total, status,
	delivery_address, notes, payment_method, tracking_number, estimated_delivery,
	actual_delivery, admin_notes, created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	updateOrderSQL = `UPDATE orders SET items = $2, subtotal = $3, tax = $4, shipping = $5,
		discount = $6, total = $7, status = $8, delivery_address = $9, notes = $10,
		payment_method = $11, tracking_number = $12, estimated_delivery = $13,
		actual_delivery = $14, admin_notes = $15, updated_at = $16
		WHERE id = $1`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersByOwnerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE owner_id = $1 AND status <> ALL($2)
		ORDER BY created_at DESC, id`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status <> ALL($1) AND ($2::text = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`

	countOrdersSQL = `SELECT count(*) FROM orders
		WHERE status <> ALL($1) AND ($2::text = '' OR status = $2)`

	listHistorySQL = `SELECT order_id, status, at, actor, notes FROM order_status_history
		WHERE order_id = ANY($1) ORDER BY order_id, seq`

	insertHistorySQL = `INSERT INTO order_status_history (order_id, seq, status, actor, notes, at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Status
// history lives in its own table and is only ever inserted into.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order together with its history entries.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.OwnerID, itemsJSON, o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total,
			string(o.Status), o.DeliveryAddress, o.Notes, string(o.PaymentMethod), o.TrackingNumber,
			o.EstimatedDelivery, o.ActualDelivery, o.AdminNotes, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}
		return insertHistory(ctx, tx, o.ID, 0, o.History.Entries())
	})
}

// Update locks the order row, applies fn and writes the result in the same
// transaction. Only history entries appended by fn are inserted.
func (r *OrderRepository) Update(ctx context.Context, id string, fn func(o *order.Order) error) (*order.Order, error) {
	var updated *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		o, err := getOrder(ctx, tx, lockOrderSQL, id)
		if err != nil {
			return err
		}
		n := o.History.Len()
		if err := fn(o); err != nil {
			return err
		}

		itemsJSON, err := json.Marshal(o.Items)
		if err != nil {
			return fmt.Errorf("marshaling order items: %w", err)
		}
		_, err = tx.Exec(ctx, updateOrderSQL,
			o.ID, itemsJSON, o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total,
			string(o.Status), o.DeliveryAddress, o.Notes, string(o.PaymentMethod), o.TrackingNumber,
			o.EstimatedDelivery, o.ActualDelivery, o.AdminNotes, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("updating order %q: %w", id, err)
		}
		if err := insertHistory(ctx, tx, o.ID, n, o.History.Since(n)); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetByID returns an order with its history, drafts included.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.pool, getOrderSQL, id)
}

// ListByOwner returns the owner's committed orders, newest first.
func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByOwnerSQL, ownerID, draftStatuses())
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", ownerID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", ownerID, err)
	}
	if err := loadHistories(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// List returns a page of committed orders and the number matching f.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, int, error) {
	drafts := draftStatuses()

	var total int
	if err := r.pool.QueryRow(ctx, countOrdersSQL, drafts, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	rows, err := r.pool.Query(ctx, listOrdersSQL, drafts, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	if err := loadHistories(ctx, r.pool, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func getOrder(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := loadHistories(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// loadHistories fills the history of every order with a single query.
func loadHistories(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}

	rows, err := q.Query(ctx, listHistorySQL, ids)
	if err != nil {
		return fmt.Errorf("loading order history: %w", err)
	}
	byOrder := make(map[string][]order.HistoryEntry, len(orders))
	var (
		orderID, status string
		e               order.HistoryEntry
	)
	_, err = pgx.ForEachRow(rows, []any{&orderID, &status, &e.Timestamp, &e.Actor, &e.Notes}, func() error {
		e.Status = order.Status(status)
		e.Timestamp = e.Timestamp.UTC()
		byOrder[orderID] = append(byOrder[orderID], e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading order history: %w", err)
	}

	for i := range orders {
		orders[i].History = order.RestoreHistory(byOrder[orders[i].ID])
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID string, seq int, entries []order.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for i, e := range entries {
		b.Queue(insertHistorySQL, orderID, seq+i, string(e.Status), e.Actor, e.Notes, e.Timestamp)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("appending history of order %q: %w", orderID, err)
	}
	return nil
}

func draftStatuses() []string {
	drafts := order.DraftStatuses()
	out := make([]string, len(drafts))
	for i, s := range drafts {
		out[i] = string(s)
	}
	return out
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		itemsJSON     []byte
		status        string
		paymentMethod string
	)
	err := row.Scan(
		&o.ID, &o.OwnerID, &itemsJSON, &o.Subtotal, &o.Tax, &o.Shipping, &o.Discount, &o.Total,
		&status, &o.DeliveryAddress, &o.Notes, &paymentMethod, &o.TrackingNumber,
		&o.EstimatedDelivery, &o.ActualDelivery, &o.AdminNotes, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}
