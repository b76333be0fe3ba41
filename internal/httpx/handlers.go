package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-store-orders/internal/checkout"
	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/paymentmethods"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/ariefcatur/go-store-orders/internal/webhooks"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type API struct {
	Checkout *checkout.Service
	Methods  *paymentmethods.Service
	Webhooks *webhooks.Processor
	Cache    redisx.Store
	Log      logrus.FieldLogger
}

func (a *API) Register(r *chi.Mux) {
	once := idempotent(a.Cache, a.Log)

	r.Group(func(r chi.Router) {
		r.Use(withIdentity)

		r.Get("/orders", a.listOrders)
		r.With(once).Post("/orders", a.createOrder)
		r.Get("/orders/{id}", a.getOrder)
		r.Get("/orders/{id}/status", a.orderStatus)
		r.Group(func(r chi.Router) {
			r.Use(once)
			r.Post("/orders/{id}/pay", a.payOrder)
			r.Post("/orders/{id}/refund", a.refundOrder)
			r.Post("/orders/{id}/ship", a.shipOrder)
			r.Post("/orders/{id}/deliver", a.deliverOrder)
			r.Post("/orders/{id}/return", a.returnOrder)
			r.Post("/orders/{id}/cancel", a.cancelOrder)
		})

		r.Get("/payment-methods", a.listMethods)
		r.Post("/payment-methods", a.addMethod)
		r.Post("/payment-methods/{id}/default", a.setDefaultMethod)
		r.Patch("/payment-methods/{id}/expiry", a.updateExpiry)
		r.Delete("/payment-methods/{id}", a.deactivateMethod)
	})

	r.Post("/webhooks/{provider}", a.webhook)
}

type createOrderReq struct {
	CartID            string                `json:"cart_id"`
	ShippingAddressID string                `json:"shipping_address_id"`
	BillingAddressID  string                `json:"billing_address_id"`
	ShippingMethod    orders.ShippingMethod `json:"shipping_method"`
	Notes             map[string]string     `json:"notes"`
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, a.Log, err)
		return
	}
	o, err := a.Checkout.CreateOrderFromCart(r.Context(), checkout.CreateOrderInput(req))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderOf(o))
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := a.Checkout.ListOrders(r.Context(), limit)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	out := make([]orderView, len(list))
	for i, o := range list {
		out[i] = orderOf(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.Checkout.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, orderOf(o))
}

func (a *API) orderStatus(w http.ResponseWriter, r *http.Request) {
	v, err := a.Checkout.OrderStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type payReq struct {
	PaymentMethodID string `json:"payment_method_id"`
}

// payOrder answers 402 when the provider declined the charge.
func (a *API) payOrder(w http.ResponseWriter, r *http.Request) {
	var req payReq
	if err := decode(r, &req); err != nil {
		writeError(w, a.Log, err)
		return
	}
	res, err := a.Checkout.PayOrder(r.Context(), checkout.PayInput{
		OrderID:         chi.URLParam(r, "id"),
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	switch {
	case res.Status == payments.StatusFailed:
		writeJSON(w, http.StatusPaymentRequired, res)
	case res.Status == payments.StatusPending:
		writeJSON(w, http.StatusAccepted, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type refundReq struct {
	Amount *money.Money `json:"amount"`
	Reason string       `json:"reason"`
}

func (a *API) refundOrder(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := decode(r, &req); err != nil {
		writeError(w, a.Log, err)
		return
	}
	o, err := a.Checkout.ProcessOrderRefund(r.Context(), checkout.RefundInput{
		OrderID:        chi.URLParam(r, "id"),
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
	})
	a.respondOrder(w, o, err)
}

type shipReq struct {
	TrackingNumber string `json:"tracking_number"`
}

func (a *API) shipOrder(w http.ResponseWriter, r *http.Request) {
	var req shipReq
	if err := decode(r, &req); err != nil {
		writeError(w, a.Log, err)
		return
	}
	o, err := a.Checkout.MarkOrderAsShipped(r.Context(), chi.URLParam(r, "id"), req.TrackingNumber)
	a.respondOrder(w, o, err)
}

func (a *API) deliverOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.Checkout.MarkOrderAsDelivered(r.Context(), chi.URLParam(r, "id"))
	a.respondOrder(w, o, err)
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (a *API) returnOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if err := decode(r, &req); err != nil {
		writeError(w, a.Log, err)
		return
	}
	o, err := a.Checkout.MarkOrderAsReturned(r.Context(), chi.URLParam(r, "id"), req.Reason)
	a.respondOrder(w, o, err)
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if err := decode(r, &req); err != nil {
		writeError(w, a.Log, err)
		return
	}
	o, err := a.Checkout.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason)
	a.respondOrder(w, o, err)
}

func (a *API) respondOrder(w http.ResponseWriter, o *orders.Order, err error) {
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, orderOf(o))
}

func (a *API) listMethods(w http.ResponseWriter, r *http.Request) {
	list, err := a.Methods.List(r.Context())
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	out := make([]methodView, len(list))
	for i, m := range list {
		out[i] = methodOf(m)
	}
	writeJSON(w, http.StatusOK, out)
}

type addMethodReq struct {
	Provider            string                `json:"provider"`
	Type                payments.MethodType   `json:"type"`
	Token               string                `json:"token"`
	DisplayName         string                `json:"display_name"`
	Card                *payments.CardDetails `json:"card"`
	SetDefault          bool                  `json:"set_default"`
	RequiresSetupIntent bool                  `json:"requires_setup_intent"`
	SetupIntentID       string                `json:"setup_intent_id"`
}

// addMethod answers 202 with the challenge while a setup intent still
// needs the customer, and 201 once the method is saved.
func (a *API) addMethod(w http.ResponseWriter, r *http.Request) {
	var req addMethodReq
	if err := decode(r, &req); err != nil {
		writeError(w, a.Log, err)
		return
	}
	res, err := a.Methods.AddPaymentMethod(r.Context(), paymentmethods.AddInput(req))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	if res.Challenge != nil {
		writeJSON(w, http.StatusAccepted, res.Challenge)
		return
	}
	writeJSON(w, http.StatusCreated, methodOf(res.Method))
}

func (a *API) setDefaultMethod(w http.ResponseWriter, r *http.Request) {
	m, err := a.Methods.SetDefault(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, methodOf(m))
}

type expiryReq struct {
	ExpMonth int `json:"exp_month"`
	ExpYear  int `json:"exp_year"`
}

func (a *API) updateExpiry(w http.ResponseWriter, r *http.Request) {
	var req expiryReq
	if err := decode(r, &req); err != nil {
		writeError(w, a.Log, err)
		return
	}
	m, err := a.Methods.UpdateExpiry(r.Context(), chi.URLParam(r, "id"), req.ExpMonth, req.ExpYear)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, methodOf(m))
}

func (a *API) deactivateMethod(w http.ResponseWriter, r *http.Request) {
	if err := a.Methods.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, a.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
