// Package sandbox is a deterministic in-memory payment provider. It backs
// the memory driver and the coordinator tests.
//
// Card tokens drive the outcome of a charge:
//
//	tok_fail*  declined
//	tok_3ds*   requires a customer challenge, see CompleteAction
//	anything   succeeds
package sandbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/payments"
)

const (
	Name            = "sandbox"
	SignatureHeader = "Sandbox-Signature"
)

var (
	ErrChargeNotFound = apperr.NotFound("sandbox.charge_not_found", "charge not found")
	ErrRefundTooLarge = apperr.Validation("sandbox.refund_too_large", "refund exceeds the captured amount")
	ErrForeignMethod  = apperr.Conflict("sandbox.foreign_method", "payment method belongs to another customer")
	ErrBadPayload     = apperr.Validation("sandbox.bad_payload", "webhook payload is not valid json")
)

type charge struct {
	amount   money.Money
	refunded money.Money
	result   payments.PaymentResult
}

type intent struct {
	res  payments.SetupIntentResult
	hold bool
}

type Gateway struct {
	mu        sync.Mutex
	secret    []byte
	seq       int
	customers map[string]string
	attached  map[string]string
	charges   map[string]*charge
	intents   map[string]*intent
	idem      map[string]any
	calls     map[string]int
}

// New returns a gateway that verifies webhook signatures with secret. An
// empty secret accepts unsigned webhooks.
func New(secret string) *Gateway {
	return &Gateway{
		secret:    []byte(secret),
		customers: map[string]string{},
		attached:  map[string]string{},
		charges:   map[string]*charge{},
		intents:   map[string]*intent{},
		idem:      map[string]any{},
		calls:     map[string]int{},
	}
}

var _ payments.Gateway = (*Gateway)(nil)

// Calls reports how many times op was invoked.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

func (g *Gateway) ProcessPayment(ctx context.Context, req payments.PaymentRequest) (payments.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return payments.PaymentResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["ProcessPayment"]++

	if req.IdempotencyKey != "" {
		if prev, ok := g.idem["pay:"+req.IdempotencyKey].(payments.PaymentResult); ok {
			return prev, nil
		}
	}
	if req.MethodToken == "" {
		return payments.PaymentResult{}, payments.ErrMissingToken
	}

	ref := g.next("pi")
	res := payments.PaymentResult{ExternalReference: ref}
	switch {
	case strings.HasPrefix(req.MethodToken, "tok_fail"):
		res.Outcome = payments.OutcomeFailed
		res.ErrorMessage = "card declined"
	case strings.HasPrefix(req.MethodToken, "tok_3ds"):
		res.Outcome = payments.OutcomeRequiresAction
		res.ClientSecret = ref + "_secret"
		res.NextActionType = "three_d_secure"
	default:
		res.Outcome = payments.OutcomeSucceeded
		res.TransactionID = g.next("txn")
	}
	g.charges[ref] = &charge{amount: req.Amount, refunded: money.Zero(req.Amount.Currency()), result: res}
	if req.IdempotencyKey != "" {
		g.idem["pay:"+req.IdempotencyKey] = res
	}
	return res, nil
}

// CompleteAction finishes the challenge of a tok_3ds charge, as the customer
// would in the provider's UI.
func (g *Gateway) CompleteAction(ref string) (payments.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[ref]
	if !ok {
		return payments.PaymentResult{}, ErrChargeNotFound
	}
	if c.result.Outcome == payments.OutcomeRequiresAction {
		c.result.Outcome = payments.OutcomeSucceeded
		c.result.TransactionID = g.next("txn")
		c.result.ClientSecret, c.result.NextActionType = "", ""
	}
	return c.result, nil
}

func (g *Gateway) RefundPayment(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return payments.RefundResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["RefundPayment"]++

	if req.IdempotencyKey != "" {
		if prev, ok := g.idem["refund:"+req.IdempotencyKey].(payments.RefundResult); ok {
			return prev, nil
		}
	}
	c, ok := g.charges[req.ExternalReference]
	if !ok || c.result.Outcome != payments.OutcomeSucceeded {
		return payments.RefundResult{}, ErrChargeNotFound
	}
	total, err := c.refunded.Add(req.Amount)
	if err != nil {
		return payments.RefundResult{}, err
	}
	if cmp, _ := total.Cmp(c.amount); cmp > 0 {
		return payments.RefundResult{}, ErrRefundTooLarge
	}
	c.refunded = total

	res := payments.RefundResult{RefundID: g.next("re"), Amount: req.Amount, Status: "succeeded"}
	if req.IdempotencyKey != "" {
		g.idem["refund:"+req.IdempotencyKey] = res
	}
	return res, nil
}

func (g *Gateway) GetPaymentStatus(ctx context.Context, ref string) (payments.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[ref]
	if !ok {
		return payments.PaymentResult{}, ErrChargeNotFound
	}
	return c.result, nil
}

// GetOrCreateCustomer is keyed on the user id, so repeated calls return the
// same customer.
func (g *Gateway) GetOrCreateCustomer(ctx context.Context, userID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["GetOrCreateCustomer"]++
	if id, ok := g.customers[userID]; ok {
		return id, nil
	}
	id := "cus_" + userID
	g.customers[userID] = id
	return id, nil
}

func (g *Gateway) AttachPaymentMethodToCustomer(ctx context.Context, customerID, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["AttachPaymentMethodToCustomer"]++
	switch owner, ok := g.attached[token]; {
	case !ok:
		g.attached[token] = customerID
		return nil
	case owner == customerID:
		return payments.ErrAlreadyAttached
	default:
		return ErrForeignMethod
	}
}

func (g *Gateway) CreateSetupIntent(ctx context.Context, req payments.SetupIntentRequest) (payments.SetupIntentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["CreateSetupIntent"]++

	id := g.next("seti")
	res := payments.SetupIntentResult{
		ID:             id,
		Status:         payments.IntentRequiresAction,
		ClientSecret:   id + "_secret",
		NextActionType: "three_d_secure",
		CustomerID:     req.CustomerID,
		UserID:         req.UserID,
		Hints:          req.Hints,
	}
	g.intents[id] = &intent{res: res}
	return res, nil
}

// Hold keeps a setup intent in requires_action on confirmation, as if the
// customer had not finished the challenge yet.
func (g *Gateway) Hold(setupIntentID string, hold bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[setupIntentID]; ok {
		in.hold = hold
	}
}

func (g *Gateway) ConfirmSetupIntent(ctx context.Context, id string) (payments.SetupIntentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["ConfirmSetupIntent"]++

	in, ok := g.intents[id]
	if !ok {
		return payments.SetupIntentResult{}, payments.ErrSetupIntentNotFound
	}
	if in.res.Status == payments.IntentSucceeded {
		return in.res, payments.ErrIntentAlreadySucceeded
	}
	if in.hold {
		return in.res, nil
	}
	g.succeed(in)
	return in.res, nil
}

// SucceedSetupIntent completes an intent on the provider side, the way a
// challenge finished outside our API would.
func (g *Gateway) SucceedSetupIntent(id string) (payments.SetupIntentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[id]
	if !ok {
		return payments.SetupIntentResult{}, payments.ErrSetupIntentNotFound
	}
	if in.res.Status != payments.IntentSucceeded {
		g.succeed(in)
	}
	return in.res, nil
}

// succeed attaches the new method to the customer as a side effect, like
// real providers do on confirmation.
func (g *Gateway) succeed(in *intent) {
	pm := g.next("pm")
	in.res.Status = payments.IntentSucceeded
	in.res.PaymentMethodID = pm
	in.res.ClientSecret, in.res.NextActionType = "", ""
	g.attached[pm] = in.res.CustomerID
}

// Event is the webhook body the sandbox sends.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	Reference     string `json:"reference,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	RefundID      string `json:"refund_id,omitempty"`
	Error         string `json:"error,omitempty"`
	SetupIntentID string `json:"setup_intent_id,omitempty"`
}

// Sign returns the signature header value for payload.
func (g *Gateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) ProcessWebhook(ctx context.Context, payload []byte, headers map[string]string) (payments.WebhookResult, error) {
	if len(g.secret) > 0 {
		sig := header(headers, SignatureHeader)
		if !hmac.Equal([]byte(sig), []byte(g.Sign(payload))) {
			return payments.WebhookResult{}, payments.ErrInvalidSignature
		}
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return payments.WebhookResult{}, ErrBadPayload
	}

	res := payments.WebhookResult{
		EventID:           ev.ID,
		Kind:              payments.WebhookKind(ev.Type),
		ExternalReference: ev.Data.Reference,
		TransactionID:     ev.Data.TransactionID,
		RefundID:          ev.Data.RefundID,
		ErrorMessage:      ev.Data.Error,
		Raw:               json.RawMessage(payload),
	}
	switch res.Kind {
	case payments.WebhookPaymentSucceeded, payments.WebhookPaymentFailed, payments.WebhookPaymentRefunded:
	case payments.WebhookSetupIntentSucceeded:
		g.mu.Lock()
		in, ok := g.intents[ev.Data.SetupIntentID]
		var si payments.SetupIntentResult
		if ok {
			si = in.res
		}
		g.mu.Unlock()
		if !ok {
			return payments.WebhookResult{}, payments.ErrSetupIntentNotFound
		}
		res.SetupIntent = &si
	default:
		res.Kind = payments.WebhookIgnored
	}
	return res, nil
}

func header(h map[string]string, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
