package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/xenking/kart-orders/internal/domain/order"
)

var _ order.AuditLog = (*AuditLog)(nil)

// AuditLog keeps audit entries in memory.
type AuditLog struct {
	mu      sync.Mutex
	entries []order.AuditEntry
}

// NewAuditLog creates an empty AuditLog.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Record appends an entry.
func (l *AuditLog) Record(_ context.Context, e order.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Changes = maps.Clone(e.Changes)
	l.entries = append(l.entries, e)
	return nil
}

// ListByOrder returns the audit trail of an order, oldest first.
func (l *AuditLog) ListByOrder(_ context.Context, orderID string) ([]order.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []order.AuditEntry
	for _, e := range l.entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}
