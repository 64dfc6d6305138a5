package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	insertAuditSQL = `INSERT INTO order_audit_log (order_id, actor, action, changes, at)
		VALUES ($1, $2, $3, $4, $5)`

	listAuditSQL = `SELECT order_id, actor, action, changes, at FROM order_audit_log
		WHERE order_id = $1 ORDER BY at, id`
)

var _ order.AuditLog = (*AuditRepository)(nil)

// AuditRepository stores admin override audit entries.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository returns an AuditRepository that uses the given pool.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Record inserts an audit entry.
func (r *AuditRepository) Record(ctx context.Context, e order.AuditEntry) error {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("marshaling audit changes: %w", err)
	}
	if _, err := r.pool.Exec(ctx, insertAuditSQL, e.OrderID, e.Actor, e.Action, changes, e.At); err != nil {
		return fmt.Errorf("recording audit entry for order %q: %w", e.OrderID, err)
	}
	return nil
}

// ListByOrder returns the audit trail of an order, oldest first.
func (r *AuditRepository) ListByOrder(ctx context.Context, orderID string) ([]order.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, listAuditSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries of %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.AuditEntry, error) {
		var (
			e       order.AuditEntry
			changes []byte
		)
		if err := row.Scan(&e.OrderID, &e.Actor, &e.Action, &changes, &e.At); err != nil {
			return e, err
		}
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return e, fmt.Errorf("unmarshaling audit changes: %w", err)
		}
		return e, nil
	})
}
