package httpx

import (
	"bytes"
	"context"
	"errors"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/addresses"
	"github.com/ariefcatur/go-store-orders/internal/cart"
	"github.com/ariefcatur/go-store-orders/internal/checkout"
	"github.com/ariefcatur/go-store-orders/internal/inventory"
	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/paymentmethods"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/payments/sandbox"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/ariefcatur/go-store-orders/internal/store/memory"
	"github.com/ariefcatur/go-store-orders/internal/webhooks"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv *httptest.Server
	st  *memory.Store
	gw  *sandbox.Gateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	st := memory.New()
	gw := sandbox.New("whsec")
	reg := payments.Registry{sandbox.Name: gw}
	cache := redisx.NewMemory()
	methods := &paymentmethods.Service{UoW: st, Gateways: reg, Cache: cache, Log: log, Now: clock}
	api := &API{
		Checkout: &checkout.Service{UoW: st, Gateways: reg, Cache: cache, Pricing: orders.DefaultPricing(), Currency: "USD", Log: log, Now: clock},
		Methods:  methods,
		Webhooks: &webhooks.Processor{UoW: st, Gateways: reg, Methods: methods, Cache: cache, Log: log, Now: clock},
		Cache:    cache,
		Log:      log,
	}
	r := NewRouter(nil)
	api.Register(r)

	st.SeedProduct(inventory.Product{ID: "p-mug", SKU: "MUG", Slug: "mug", Name: "Mug", Price: money.MustNew("12.50", "USD")})
	st.SeedVariant(inventory.Variant{ID: "v-mug", ProductID: "p-mug", SKU: "MUG-1", Stock: 2})
	st.SeedAddress(addresses.Address{ID: "addr-1", UserID: "u-1", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"})
	st.SeedCart(cart.Cart{ID: "cart-1", UserID: "u-1", Currency: "USD", Lines: []cart.Line{{ProductID: "p-mug", VariantID: "v-mug", Quantity: 2}}})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, st: st, gw: gw}
}

type call struct {
	method, path string
	user, role   string
	idemKey      string
	body         any
}

func (ts *testServer) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(c.method, ts.srv.URL+c.path, body)
	require.NoError(t, err)
	if c.user != "" {
		req.Header.Set(HeaderUserID, c.user)
	}
	if c.role != "" {
		req.Header.Set(HeaderUserRole, c.role)
	}
	if c.idemKey != "" {
		req.Header.Set(HeaderIdempotencyKey, c.idemKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func errCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

var placeOrder = call{
	method:  http.MethodPost,
	path:    "/orders",
	user:    "u-1",
	idemKey: "checkout-1",
	body:    map[string]any{"cart_id": "cart-1", "shipping_address_id": "addr-1", "billing_address_id": "addr-1"},
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, placeOrder)
	require.Equal(t, http.StatusCreated, code, body)
	id := body["id"].(string)
	assert.Equal(t, "PENDING", body["status"])
	total, err := decimal.NewFromString(body["total"].(map[string]any)["amount"].(string))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("32.00")), total.String())

	code, body = ts.do(t, placeOrder)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, ErrDuplicateRequest.Code, errCode(body))

	code, body = ts.do(t, call{method: http.MethodPost, path: "/payment-methods", user: "u-1", body: map[string]any{
		"provider": "sandbox",
		"type":     "CREDIT_CARD",
		"token":    "tok_visa",
		"card":     map[string]any{"brand": "visa", "last4": "4242", "exp_month": 12, "exp_year": 2030},
	}})
	require.Equal(t, http.StatusCreated, code, body)
	assert.NotContains(t, body, "token")
	methodID := body["id"].(string)

	code, body = ts.do(t, call{method: http.MethodPost, path: "/orders/" + id + "/pay", user: "u-1", body: map[string]any{"payment_method_id": methodID}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "SUCCEEDED", body["status"])

	code, _ = ts.do(t, call{method: http.MethodGet, path: "/orders/" + id + "/status", user: "u-2"})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = ts.do(t, call{method: http.MethodGet, path: "/orders/" + id + "/status", user: "u-1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["order_id"])

	code, body = ts.do(t, call{method: http.MethodPost, path: "/orders/" + id + "/cancel", user: "u-1", body: map[string]any{"reason": "changed my mind"}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "CANCELLED", body["status"])
	assert.Equal(t, 2, ts.st.Stock("v-mug"))
}

func TestStaffOnlyCommands(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, placeOrder)
	require.Equal(t, http.StatusCreated, code, body)
	id := body["id"].(string)

	code, body = ts.do(t, call{method: http.MethodPost, path: "/orders/" + id + "/ship", user: "u-1", body: map[string]any{"tracking_number": "TRK"}})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, checkout.ErrStaffOnly.Code, errCode(body))

	code, _ = ts.do(t, call{method: http.MethodPost, path: "/orders/" + id + "/deliver", user: "s-1", role: "staff"})
	assert.Equal(t, http.StatusConflict, code, "a pending order cannot be delivered")
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/orders", bytes.NewBufferString("{"))
	require.NoError(t, err)
	req.Header.Set(HeaderUserID, "u-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	code, body := ts.do(t, call{method: http.MethodPost, path: "/orders", user: "u-1", body: map[string]any{"cart_id": "cart-1"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, orders.ErrAddressRequired.Code, errCode(body))

	code, _ = ts.do(t, call{method: http.MethodGet, path: "/orders/nope", user: "u-1"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSetupIntentOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, call{method: http.MethodPost, path: "/payment-methods", user: "u-1", body: map[string]any{
		"provider":              "sandbox",
		"requires_setup_intent": true,
		"card":                  map[string]any{"brand": "visa", "last4": "4242", "exp_month": 12, "exp_year": 2030},
	}})
	require.Equal(t, http.StatusAccepted, code, body)
	assert.NotEmpty(t, body["client_secret"])
	intent := body["setup_intent_id"].(string)

	code, body = ts.do(t, call{method: http.MethodPost, path: "/payment-methods", user: "u-1", body: map[string]any{
		"provider":        "sandbox",
		"setup_intent_id": intent,
	}})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, true, body["is_default"])
}

func TestWebhookSignature(t *testing.T) {
	ts := newTestServer(t)
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded","data":{"reference":"ch_x"}}`)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/webhooks/sandbox", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set(sandbox.SignatureHeader, "forged")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, ts.srv.URL+"/webhooks/sandbox", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set(sandbox.SignatureHeader, ts.gw.Sign(payload))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	down := NewRouter(func(context.Context) error { return errors.New("redis unreachable") })
	rec := httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	NewRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
