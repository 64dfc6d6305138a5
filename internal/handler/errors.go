package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/product"
)

type errorResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]any) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg, Details: details})
}

// writeDomainError maps service errors to the JSON error envelope. Storage
// failures are logged and reported without their cause.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *order.ValidationError
		quantity   *order.InvalidQuantityError
		missing    *order.ProductNotFoundError
		mismatch   *pricing.TotalMismatchError
		stock      *inventory.InsufficientStockError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error(), map[string]any{
			"field": validation.Field,
		})
	case errors.As(err, &quantity):
		writeError(w, http.StatusBadRequest, quantity.Error(), map[string]any{
			"product": quantity.ProductID,
		})
	case errors.As(err, &missing):
		writeError(w, http.StatusBadRequest, missing.Error(), map[string]any{
			"product": missing.ProductID,
		})
	case errors.As(err, &mismatch):
		writeError(w, http.StatusBadRequest, mismatch.Error(), map[string]any{
			"calculated": mismatch.Calculated.InexactFloat64(),
			"received":   mismatch.Received.InexactFloat64(),
		})
	case errors.As(err, &stock):
		writeError(w, http.StatusBadRequest, stock.Error(), map[string]any{
			"product":   stock.ProductID,
			"available": stock.Available,
			"requested": stock.Requested,
		})
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, product.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrInvalidDiscount),
		errors.Is(err, order.ErrInvalidDate),
		errors.Is(err, order.ErrInvalidPaymentMethod),
		errors.Is(err, order.ErrTrackingNumberImmutable):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
	case errors.Is(err, order.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", nil)
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found", nil)
	default:
		zctx.From(r.Context()).Error("Order request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}
