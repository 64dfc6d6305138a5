package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

// Admin order actions and the status each one assigns.
var orderActions = map[string]Status{
	"confirm": StatusConfirmed,
	"prepare": StatusPreparing,
	"ready":   StatusReady,
	"process": StatusProcessing,
	"ship":    StatusShipped,
	"deliver": StatusDelivered,
	"cancel":  StatusCancelled,
}

// Patch is an admin override. Nil fields are left untouched.
type Patch struct {
	Status            *string
	OrderAction       *string
	Discount          *decimal.Decimal
	TrackingNumber    *string
	EstimatedDelivery *string
	AdminNotes        *string
	StatusChangeNotes *string
}

// validPatch is a Patch whose fields have been parsed.
type validPatch struct {
	status            Status
	discount          *decimal.Decimal
	trackingNumber    string
	estimatedDelivery *time.Time
	adminNotes        *string
	notes             string
}

// ChangeStatus assigns a status on behalf of the order's owner or an admin.
// Owners may only cancel their orders; admins may assign any status.
func (s *Service) ChangeStatus(ctx context.Context, p auth.Principal, id, status, notes string) (*Order, error) {
	if p.ID == "" {
		return nil, auth.ErrUnauthorized
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	o, err := s.update(ctx, "change order status", id, func(o *Order) error {
		if !p.IsAdmin {
			if o.OwnerID != p.ID {
				return ErrForbidden
			}
			if st != StatusCancelled {
				return ErrForbidden
			}
		}
		o.SetStatus(st, p.Actor(), strings.TrimSpace(notes), s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)
	changes := map[string]any{"status": string(o.Status)}
	if p.IsAdmin {
		if err := s.audit.Record(context.WithoutCancel(ctx), AuditEntry{
			OrderID: o.ID,
			Actor:   p.Actor(),
			Action:  "admin.status",
			Changes: changes,
			At:      o.UpdatedAt,
		}); err != nil {
			lg.Error("Record audit entry", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	s.publish(ctx, lg, Event{
		Type:       EventStatusChanged,
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		Status:     o.Status,
		Total:      o.Total,
		Patch:      changes,
		OccurredAt: o.UpdatedAt,
	})
	return o, nil
}

// AdminSetStatus is the status-only admin override.
func (s *Service) AdminSetStatus(ctx context.Context, p auth.Principal, id, status, notes string) (*Order, error) {
	patch := Patch{Status: &status}
	if notes != "" {
		patch.StatusChangeNotes = &notes
	}
	return s.ApplyOverride(ctx, p, id, patch)
}

// ApplyOverride applies an admin patch. The patch is validated as a whole
// before anything changes: a single invalid field rejects all of them.
func (s *Service) ApplyOverride(ctx context.Context, p auth.Principal, id string, patch Patch) (*Order, error) {
	if p.ID == "" {
		return nil, auth.ErrUnauthorized
	}
	if !p.IsAdmin {
		return nil, ErrForbidden
	}
	vp, err := parsePatch(patch)
	if err != nil {
		return nil, err
	}

	var changes map[string]any
	o, err := s.update(ctx, "apply order override", id, func(o *Order) error {
		if err := checkPatch(o, vp); err != nil {
			return err
		}
		changes = s.applyPatch(o, vp, p.Actor())
		return nil
	})
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("actor", p.Actor()))
	s.overridden.Add(ctx, 1)

	if err := s.audit.Record(context.WithoutCancel(ctx), AuditEntry{
		OrderID: o.ID,
		Actor:   p.Actor(),
		Action:  "admin.override",
		Changes: changes,
		At:      o.UpdatedAt,
	}); err != nil {
		lg.Error("Record audit entry", zap.Error(err))
	}

	eventType := EventUpdated
	if vp.status != "" {
		eventType = EventStatusChanged
	}
	s.publish(ctx, lg, Event{
		Type:       eventType,
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		Status:     o.Status,
		Total:      o.Total,
		Patch:      changes,
		OccurredAt: o.UpdatedAt,
	})
	lg.Info("Order override applied", zap.Any("changes", changes))
	return o, nil
}

// parsePatch validates the fields that do not depend on the order.
func parsePatch(patch Patch) (validPatch, error) {
	var vp validPatch

	if patch.Status != nil {
		st, err := ParseStatus(strings.TrimSpace(*patch.Status))
		if err != nil {
			return validPatch{}, err
		}
		vp.status = st
	}
	if patch.OrderAction != nil {
		st, ok := orderActions[strings.ToLower(strings.TrimSpace(*patch.OrderAction))]
		if !ok {
			return validPatch{}, errors.Wrapf(ErrInvalidStatus, "unknown order action %q", *patch.OrderAction)
		}
		if vp.status != "" && vp.status != st {
			return validPatch{}, errors.Wrapf(ErrInvalidStatus, "order action %q conflicts with status %q", *patch.OrderAction, vp.status)
		}
		vp.status = st
	}
	if patch.Discount != nil {
		if patch.Discount.IsNegative() {
			return validPatch{}, ErrInvalidDiscount
		}
		d := patch.Discount.Round(2)
		vp.discount = &d
	}
	if patch.TrackingNumber != nil {
		tn := strings.TrimSpace(*patch.TrackingNumber)
		if tn == "" {
			return validPatch{}, &ValidationError{Field: "trackingNumber", Reason: "must not be empty"}
		}
		vp.trackingNumber = tn
	}
	if patch.EstimatedDelivery != nil {
		t, err := parseDate(*patch.EstimatedDelivery)
		if err != nil {
			return validPatch{}, err
		}
		vp.estimatedDelivery = &t
	}
	if patch.AdminNotes != nil {
		notes := strings.TrimSpace(*patch.AdminNotes)
		vp.adminNotes = &notes
	}
	if patch.StatusChangeNotes != nil {
		vp.notes = strings.TrimSpace(*patch.StatusChangeNotes)
	}
	return vp, nil
}

// checkPatch validates the fields that depend on the current order.
func checkPatch(o *Order, vp validPatch) error {
	if vp.discount != nil && vp.discount.GreaterThan(o.Subtotal) {
		return ErrInvalidDiscount
	}
	if vp.trackingNumber != "" && o.TrackingNumber != "" && o.TrackingNumber != vp.trackingNumber {
		return ErrTrackingNumberImmutable
	}
	return nil
}

// applyPatch mutates o and returns the fields that were set.
func (s *Service) applyPatch(o *Order, vp validPatch, actor string) map[string]any {
	changes := make(map[string]any)
	now := s.now()

	if vp.discount != nil {
		// Total already carries the old discount; swap it for the new one.
		o.Total = o.Total.Add(o.Discount).Sub(*vp.discount)
		o.Discount = *vp.discount
		changes["discount"] = o.Discount.StringFixed(2)
		changes["total"] = o.Total.StringFixed(2)
	}
	if vp.trackingNumber != "" && o.TrackingNumber == "" {
		o.TrackingNumber = vp.trackingNumber
		changes["trackingNumber"] = o.TrackingNumber
	}
	if vp.estimatedDelivery != nil {
		o.EstimatedDelivery = vp.estimatedDelivery
		changes["estimatedDelivery"] = vp.estimatedDelivery.Format(time.RFC3339)
	}
	if vp.adminNotes != nil {
		o.AdminNotes = *vp.adminNotes
		changes["adminNotes"] = o.AdminNotes
	}
	if vp.status != "" {
		o.SetStatus(vp.status, actor, vp.notes, now)
		changes["status"] = string(o.Status)
		if o.ActualDelivery != nil {
			changes["actualDelivery"] = o.ActualDelivery.Format(time.RFC3339)
		}
	}
	if o.UpdatedAt.Before(now) {
		o.UpdatedAt = now
	}
	return changes
}

// parseDate accepts an RFC 3339 timestamp or a calendar date.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Wrapf(ErrInvalidDate, "parse %q", s)
}
