package handler

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/inventory"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/storage/memory"
)

var (
	pepper    = []byte("test-pepper")
	jwtSecret = []byte("test-secret")
)

const (
	customerKey = "customer-key"
	otherKey    = "other-key"
	adminKey    = "admin-key"
)

type testEnv struct {
	srv     http.Handler
	catalog *memory.Catalog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalog := memory.NewCatalog(
		product.Product{ID: "A", Name: "Alpha", Price: decimal.RequireFromString("100"), Stock: 10},
		product.Product{ID: "B", Name: "Beta", Price: decimal.RequireFromString("250"), Stock: 5},
	)
	reserver, err := inventory.NewReserver(catalog)
	require.NoError(t, err)
	svc, err := order.NewService(order.Deps{
		Catalog:  catalog,
		Reserver: reserver,
		Pricing:  pricing.NewEngine(pricing.DefaultConfig()),
		Orders:   memory.NewOrderStore(),
		Carts:    memory.NewCartStore(),
		Audit:    memory.NewAuditLog(),
	})
	require.NoError(t, err)

	keys := memory.NewAPIKeyStore(
		auth.APIKeyInfo{ID: "k1", KeyHash: auth.HashKey(pepper, customerKey), UserID: "u1", Email: "u1@example.com"},
		auth.APIKeyInfo{ID: "k2", KeyHash: auth.HashKey(pepper, otherKey), UserID: "u2"},
		auth.APIKeyInfo{
			ID:      "k3",
			KeyHash: auth.HashKey(pepper, adminKey),
			UserID:  "admin",
			Email:   "admin@example.com",
			Scopes:  []string{auth.ScopeAdmin},
		},
	)
	h := New(svc, NewAuthenticator(keys, pepper, jwtSecret))
	return &testEnv{srv: h.Routes(), catalog: catalog}
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func validOrder() map[string]any {
	// A×2 + B×1: subtotal 450, tax 36, shipping 499.
	return map[string]any{
		"items": []map[string]any{
			{"product": "A", "quantity": 2},
			{"product": "B", "quantity": 1},
		},
		"total":           985.00,
		"deliveryAddress": "221B Baker Street",
		"paymentMethod":   "cod",
	}
}

func (e *testEnv) placeOrder(t *testing.T) orderResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/orders", customerKey, validOrder())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[orderResponse](t, w)
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t)

	o := env.placeOrder(t)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "u1", o.OwnerID)
	assert.Equal(t, "pending", o.Status)
	assert.Equal(t, 450.0, o.Subtotal)
	assert.Equal(t, 36.0, o.Tax)
	assert.Equal(t, 499.0, o.Shipping)
	assert.Equal(t, 985.0, o.Total)
	assert.Equal(t, "cod", o.PaymentMethod)
	require.Len(t, o.Items, 2)
	assert.Equal(t, itemResponse{Product: "A", Name: "Alpha", Quantity: 2, UnitPrice: 100}, o.Items[0])
	require.Len(t, o.StatusHistory, 1)
	assert.Equal(t, "pending", o.StatusHistory[0].Status)
	assert.Nil(t, o.ActualDelivery)

	a, err := env.catalog.GetByID(t.Context(), "A")
	require.NoError(t, err)
	assert.Equal(t, 8, a.Stock)
}

func TestCreateOrder_Errors(t *testing.T) {
	withField := func(k string, v any) map[string]any {
		body := validOrder()
		if v == nil {
			delete(body, k)
		} else {
			body[k] = v
		}
		return body
	}

	tests := []struct {
		name    string
		key     string
		body    any
		status  int
		details map[string]any
	}{
		{
			name:   "unauthenticated",
			body:   validOrder(),
			status: http.StatusUnauthorized,
		},
		{
			name:   "unknown key",
			key:    "nope",
			body:   validOrder(),
			status: http.StatusUnauthorized,
		},
		{
			name:    "total mismatch",
			key:     customerKey,
			body:    withField("total", 900),
			status:  http.StatusBadRequest,
			details: map[string]any{"calculated": 985.0, "received": 900.0},
		},
		{
			name:    "missing address",
			key:     customerKey,
			body:    withField("deliveryAddress", nil),
			status:  http.StatusBadRequest,
			details: map[string]any{"field": "deliveryAddress"},
		},
		{
			name:   "unknown payment method",
			key:    customerKey,
			body:   withField("paymentMethod", "cash"),
			status: http.StatusBadRequest,
		},
		{
			name:    "unknown product",
			key:     customerKey,
			body:    withField("items", []map[string]any{{"product": "Z", "quantity": 1}}),
			status:  http.StatusBadRequest,
			details: map[string]any{"product": "Z"},
		},
		{
			name: "duplicate lines overflow quantity",
			key:  customerKey,
			body: withField("items", []map[string]any{
				{"product": "A", "quantity": math.MaxInt},
				{"product": "A", "quantity": math.MaxInt},
			}),
			status:  http.StatusBadRequest,
			details: map[string]any{"field": "items.quantity"},
		},
		{
			name:   "malformed json",
			key:    customerKey,
			body:   `{"items":`,
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, http.MethodPost, "/orders", tt.key, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())

			resp := decode[errorResponse](t, w)
			assert.Equal(t, tt.status, resp.Code)
			assert.NotEmpty(t, resp.Message)
			for k, v := range tt.details {
				assert.Equal(t, v, resp.Details[k], k)
			}

			a, err := env.catalog.GetByID(t.Context(), "A")
			require.NoError(t, err)
			assert.Equal(t, 10, a.Stock, "rejected orders leave stock untouched")
		})
	}
}

func TestCreateOrder_InsufficientStockDetails(t *testing.T) {
	env := newTestEnv(t)
	// A×11: subtotal 1100, tax 88, free shipping.
	body := validOrder()
	body["items"] = []map[string]any{{"product": "A", "quantity": 11}}
	body["total"] = 1188.00

	w := env.do(t, http.MethodPost, "/orders", customerKey, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[errorResponse](t, w)
	assert.Equal(t, map[string]any{"product": "A", "available": 10.0, "requested": 11.0}, resp.Details)
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(t)

	w := env.do(t, http.MethodGet, "/orders/"+o.ID, customerKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, o.ID, decode[orderResponse](t, w).ID)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/orders/"+o.ID, otherKey, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/orders/"+o.ID, adminKey, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/orders/missing", customerKey, nil).Code)
}

func TestListOwnOrders(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(t)

	w := env.do(t, http.MethodGet, "/orders", customerKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	own := decode[orderListResponse](t, w)
	require.Len(t, own.Orders, 1)
	assert.Equal(t, o.ID, own.Orders[0].ID)

	w = env.do(t, http.MethodGet, "/orders", otherKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orders":[]}`, w.Body.String())
}

func TestChangeStatus(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(t)
	path := "/orders/" + o.ID + "/status"

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPatch, path, otherKey, statusRequest{Status: "cancelled"}).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPatch, path, customerKey, statusRequest{Status: "shipped"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, path, customerKey, statusRequest{Status: "lost"}).Code)

	w := env.do(t, http.MethodPatch, path, customerKey, statusRequest{Status: "cancelled", Notes: "changed my mind"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[orderResponse](t, w)
	assert.Equal(t, "cancelled", got.Status)
	require.Len(t, got.StatusHistory, 2)
	assert.Equal(t, "u1@example.com", got.StatusHistory[1].Actor)
	assert.Equal(t, "changed my mind", got.StatusHistory[1].Notes)
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(t)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/orders/admin/all", customerKey, nil).Code)
	assert.Equal(t, http.StatusForbidden,
		env.do(t, http.MethodPatch, "/orders/admin/"+o.ID, customerKey, map[string]any{"adminNotes": "x"}).Code)

	w := env.do(t, http.MethodGet, "/orders/admin/all", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[adminListResponse](t, w)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, pagination{Page: 1, Limit: order.DefaultPageLimit, Total: 1, Pages: 1}, list.Pagination)

	w = env.do(t, http.MethodGet, "/orders/admin/all?status=shipped&page=2&limit=500", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list = decode[adminListResponse](t, w)
	assert.Empty(t, list.Orders)
	assert.Equal(t, pagination{Page: 2, Limit: order.MaxPageLimit}, list.Pagination)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/orders/admin/all?limit=abc", adminKey, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/orders/admin/all?status=bogus", adminKey, nil).Code)
	w = env.do(t, http.MethodGet, "/orders/admin/all?page=922337203685477580&limit=100", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "page", decode[errorResponse](t, w).Details["field"])

	w = env.do(t, http.MethodPatch, "/orders/admin/"+o.ID, adminKey, map[string]any{
		"status":            "shipped",
		"discount":          50,
		"trackingNumber":    "TRK-1",
		"estimatedDelivery": "2025-06-01",
		"statusChangeNotes": "handed to courier",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[orderResponse](t, w)
	assert.Equal(t, "shipped", got.Status)
	assert.Equal(t, 50.0, got.Discount)
	assert.Equal(t, 935.0, got.Total)
	assert.Equal(t, "TRK-1", got.TrackingNumber)
	require.NotNil(t, got.EstimatedDelivery)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got.EstimatedDelivery.UTC())

	// A rejected patch changes nothing.
	w = env.do(t, http.MethodPatch, "/orders/admin/"+o.ID, adminKey, map[string]any{
		"trackingNumber": "TRK-2",
		"adminNotes":     "should not stick",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodGet, "/orders/"+o.ID, adminKey, nil)
	got = decode[orderResponse](t, w)
	assert.Equal(t, "TRK-1", got.TrackingNumber)
	assert.Empty(t, got.AdminNotes)

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPatch, "/orders/admin/"+o.ID, adminKey, map[string]any{"discount": 451}).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPatch, "/orders/admin/"+o.ID, adminKey, map[string]any{"estimatedDelivery": "soon"}).Code)

	w = env.do(t, http.MethodPatch, "/orders/admin/"+o.ID+"/status", adminKey, statusRequest{Status: "delivered"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got = decode[orderResponse](t, w)
	assert.Equal(t, "delivered", got.Status)
	assert.NotNil(t, got.ActualDelivery)
	assert.Len(t, got.StatusHistory, 3)

	assert.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodPatch, "/orders/admin/missing/status", adminKey, statusRequest{Status: "ready"}).Code)
}

func signToken(t *testing.T, method jwt.SigningMethod, secret []byte, claims TokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestBearerToken(t *testing.T) {
	env := newTestEnv(t)
	valid := func(sub string, admin bool) TokenClaims {
		return TokenClaims{
			Admin: admin,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   sub,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}
	expired := valid("u1", false)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name   string
		token  string
		path   string
		status int
	}{
		{"customer", signToken(t, jwt.SigningMethodHS256, jwtSecret, valid("u1", false)), "/orders", http.StatusOK},
		{"admin", signToken(t, jwt.SigningMethodHS256, jwtSecret, valid("ops", true)), "/orders/admin/all", http.StatusOK},
		{"not admin", signToken(t, jwt.SigningMethodHS256, jwtSecret, valid("u1", false)), "/orders/admin/all", http.StatusForbidden},
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("other"), valid("u1", false)), "/orders", http.StatusUnauthorized},
		{"wrong method", signToken(t, jwt.SigningMethodHS512, jwtSecret, valid("u1", false)), "/orders", http.StatusUnauthorized},
		{"expired", signToken(t, jwt.SigningMethodHS256, jwtSecret, expired), "/orders", http.StatusUnauthorized},
		{"no subject", signToken(t, jwt.SigningMethodHS256, jwtSecret, valid("", false)), "/orders", http.StatusUnauthorized},
		{"garbage", "not-a-token", "/orders", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			w := httptest.NewRecorder()
			env.srv.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestLegacyAPIKeyHeader(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("api_key", customerKey)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/carts", customerKey, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, decode[errorResponse](t, w).Code)
}

func TestRouteLabel(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(t)

	labeler := &otelhttp.Labeler{}
	req := httptest.NewRequest(http.MethodGet, "/orders/"+o.ID, nil)
	req.Header.Set(APIKeyHeader, customerKey)
	req = req.WithContext(otelhttp.ContextWithLabeler(req.Context(), labeler))
	env.srv.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, labeler.Get(), attribute.String("http.route", "/orders/{id}"))
}
