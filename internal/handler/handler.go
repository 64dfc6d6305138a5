// Package handler serves the order REST API on a chi router.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handler routes order requests to the order service.
type Handler struct {
	orders *order.Service
	authn  *Authenticator
}

// New creates a Handler.
func New(orders *order.Service, authn *Authenticator) *Handler {
	return &Handler{
		orders: orders,
		authn:  authn,
	}
}

// Routes returns the router for the order API. Every /orders route requires
// an authenticated principal.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RouteLabel)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Use(h.authn.Middleware)

		r.Post("/", h.createOrder)
		r.Get("/", h.listOwnOrders)
		r.Get("/admin/all", h.listAllOrders)
		r.Patch("/admin/{id}", h.overrideOrder)
		r.Patch("/admin/{id}/status", h.adminSetStatus)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}/status", h.changeStatus)
	})
	return r
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &order.ValidationError{Field: "body", Reason: errors.Wrap(err, "decode json").Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
