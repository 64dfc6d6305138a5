package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/order"
)

type createItemRequest struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type createOrderRequest struct {
	Items           []createItemRequest `json:"items"`
	Total           decimal.Decimal     `json:"total"`
	DeliveryAddress string              `json:"deliveryAddress"`
	Notes           string              `json:"notes"`
	PaymentMethod   string              `json:"paymentMethod"`
}

func (req createOrderRequest) toDomain() order.CreateRequest {
	items := make([]order.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemRequest{ProductID: it.Product, Quantity: it.Quantity}
	}
	return order.CreateRequest{
		Items:           items,
		Total:           req.Total,
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
		PaymentMethod:   req.PaymentMethod,
	}
}

type statusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type overrideRequest struct {
	Status            *string          `json:"status"`
	OrderAction       *string          `json:"orderAction"`
	Discount          *decimal.Decimal `json:"discount"`
	TrackingNumber    *string          `json:"trackingNumber"`
	EstimatedDelivery *string          `json:"estimatedDelivery"`
	AdminNotes        *string          `json:"adminNotes"`
	StatusChangeNotes *string          `json:"statusChangeNotes"`
}

func (req overrideRequest) toDomain() order.Patch {
	return order.Patch{
		Status:            req.Status,
		OrderAction:       req.OrderAction,
		Discount:          req.Discount,
		TrackingNumber:    req.TrackingNumber,
		EstimatedDelivery: req.EstimatedDelivery,
		AdminNotes:        req.AdminNotes,
		StatusChangeNotes: req.StatusChangeNotes,
	}
}

type itemResponse struct {
	Product   string  `json:"product"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type historyResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Notes     string    `json:"notes,omitempty"`
}

type orderResponse struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"ownerId"`
	Items             []itemResponse    `json:"items"`
	Subtotal          float64           `json:"subtotal"`
	Tax               float64           `json:"tax"`
	Shipping          float64           `json:"shipping"`
	Discount          float64           `json:"discount"`
	Total             float64           `json:"total"`
	Status            string            `json:"status"`
	StatusHistory     []historyResponse `json:"statusHistory"`
	DeliveryAddress   string            `json:"deliveryAddress"`
	Notes             string            `json:"notes,omitempty"`
	PaymentMethod     string            `json:"paymentMethod"`
	TrackingNumber    string            `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time        `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time        `json:"actualDelivery,omitempty"`
	AdminNotes        string            `json:"adminNotes,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

func newOrderResponse(o *order.Order) orderResponse {
	items := make([]itemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemResponse{
			Product:   it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.InexactFloat64(),
		}
	}
	entries := o.History.Entries()
	history := make([]historyResponse, len(entries))
	for i, e := range entries {
		history[i] = historyResponse{
			Status:    string(e.Status),
			Timestamp: e.Timestamp,
			Actor:     e.Actor,
			Notes:     e.Notes,
		}
	}
	return orderResponse{
		ID:                o.ID,
		OwnerID:           o.OwnerID,
		Items:             items,
		Subtotal:          o.Subtotal.InexactFloat64(),
		Tax:               o.Tax.InexactFloat64(),
		Shipping:          o.Shipping.InexactFloat64(),
		Discount:          o.Discount.InexactFloat64(),
		Total:             o.Total.InexactFloat64(),
		Status:            string(o.Status),
		StatusHistory:     history,
		DeliveryAddress:   o.DeliveryAddress,
		Notes:             o.Notes,
		PaymentMethod:     string(o.PaymentMethod),
		TrackingNumber:    o.TrackingNumber,
		EstimatedDelivery: o.EstimatedDelivery,
		ActualDelivery:    o.ActualDelivery,
		AdminNotes:        o.AdminNotes,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func newOrderList(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = newOrderResponse(&orders[i])
	}
	return out
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type adminListResponse struct {
	Orders     []orderResponse `json:"orders"`
	Pagination pagination      `json:"pagination"`
}
