package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/order"
)

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	o, err := h.orders.Create(r.Context(), principal(r), req.toDomain())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

func (h *Handler) listOwnOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOwn(r.Context(), principal(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderListResponse{Orders: newOrderList(orders)})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	o, err := h.orders.ChangeStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status, req.Notes)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := order.ListParams{Status: q.Get("status")}
	var err error
	if params.Page, err = intParam(q.Get("page")); err != nil {
		writeDomainError(w, r, &order.ValidationError{Field: "page", Reason: "must be an integer"})
		return
	}
	if params.Limit, err = intParam(q.Get("limit")); err != nil {
		writeDomainError(w, r, &order.ValidationError{Field: "limit", Reason: "must be an integer"})
		return
	}

	page, err := h.orders.ListAll(r.Context(), principal(r), params)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminListResponse{
		Orders: newOrderList(page.Orders),
		Pagination: pagination{
			Page:  page.Page,
			Limit: page.Limit,
			Total: page.Total,
			Pages: page.Pages,
		},
	})
}

func (h *Handler) overrideOrder(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	o, err := h.orders.ApplyOverride(r.Context(), principal(r), chi.URLParam(r, "id"), req.toDomain())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

func (h *Handler) adminSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	o, err := h.orders.AdminSetStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status, req.Notes)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// intParam parses an optional integer query parameter; empty means zero.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
