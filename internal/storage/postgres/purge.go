package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	scanOrderItemsSQL = `SELECT id, items FROM orders WHERE id > $1 ORDER BY id LIMIT $2`

	replaceOrderItemsSQL = `UPDATE orders SET items = $2 WHERE id = $1`
)

// OrderItems is the line items of one order, as read by the purge job.
type OrderItems struct {
	OrderID string
	Items   []order.Item
}

// ScanItems returns up to limit orders with ids greater than afterID, in id
// order. Pass the last id of a page to read the next one.
func (r *OrderRepository) ScanItems(ctx context.Context, afterID string, limit int) ([]OrderItems, error) {
	rows, err := r.pool.Query(ctx, scanOrderItemsSQL, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("scanning order items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (OrderItems, error) {
		var (
			oi        OrderItems
			itemsJSON []byte
		)
		if err := row.Scan(&oi.OrderID, &itemsJSON); err != nil {
			return oi, err
		}
		if err := json.Unmarshal(itemsJSON, &oi.Items); err != nil {
			return oi, fmt.Errorf("unmarshaling items of order %q: %w", oi.OrderID, err)
		}
		return oi, nil
	})
}

// ReplaceItems overwrites the line items of an order. Prices, totals and
// history are left as they were.
func (r *OrderRepository) ReplaceItems(ctx context.Context, orderID string, items []order.Item) error {
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	if _, err := r.pool.Exec(ctx, replaceOrderItemsSQL, orderID, itemsJSON); err != nil {
		return fmt.Errorf("replacing items of order %q: %w", orderID, err)
	}
	return nil
}
