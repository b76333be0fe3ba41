package payments

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/money"
)

// Provider errors. Gateways return these instead of their own wording so the
// coordinators never match on message text.
var (
	ErrInvalidProvider         = apperr.Validation("payment.invalid_provider", "unknown payment provider")
	ErrMissingToken            = apperr.Validation("payment.missing_token", "payment method token is required")
	ErrSetupIntentNotSucceeded = apperr.Conflict("payment.setup_intent_not_succeeded", "setup intent has not succeeded")
	ErrSetupIntentNotFound     = apperr.NotFound("payment.setup_intent_not_found", "setup intent not found")
	ErrAlreadyAttached         = apperr.Conflict("payment.already_attached", "payment method is already attached to the customer")
	ErrIntentAlreadySucceeded  = apperr.Conflict("payment.intent_already_succeeded", "setup intent has already succeeded")
	ErrInvalidSignature        = apperr.Unauthorized("payment.invalid_signature", "webhook signature is invalid")
	ErrDeclined                = apperr.Conflict("payment.declined", "payment was declined by the provider")
)

type Outcome string

const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeRequiresAction Outcome = "requires_action"
	OutcomeProcessing     Outcome = "processing"
	OutcomeFailed         Outcome = "failed"
)

type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

type PaymentRequest struct {
	PaymentID      string
	OrderID        string
	Amount         money.Money
	CustomerID     string
	MethodToken    string
	IdempotencyKey string
}

type PaymentResult struct {
	Outcome           Outcome
	ExternalReference string
	TransactionID     string
	ClientSecret      string
	NextActionType    string
	ErrorMessage      string
}

type RefundRequest struct {
	ExternalReference string
	Amount            money.Money
	Reason            string
	IdempotencyKey    string
}

type RefundResult struct {
	RefundID string
	Amount   money.Money
	Status   string
}

// SetupHints travel with a setup intent so the method can be labelled once
// the provider confirms it.
type SetupHints struct {
	DisplayName string      `json:"display_name,omitempty"`
	Type        MethodType  `json:"type,omitempty"`
	Card        CardDetails `json:"card"`
}

type SetupIntentRequest struct {
	UserID     string
	CustomerID string
	Hints      SetupHints
}

type SetupIntentResult struct {
	ID              string
	Status          IntentStatus
	ClientSecret    string
	NextActionType  string
	PaymentMethodID string
	CustomerID      string
	UserID          string
	Hints           SetupHints
}

type WebhookKind string

const (
	WebhookPaymentSucceeded     WebhookKind = "payment.succeeded"
	WebhookPaymentFailed        WebhookKind = "payment.failed"
	WebhookPaymentRefunded      WebhookKind = "payment.refunded"
	WebhookSetupIntentSucceeded WebhookKind = "setup_intent.succeeded"
	WebhookIgnored              WebhookKind = "ignored"
)

// WebhookResult is the provider-neutral reading of a webhook delivery.
type WebhookResult struct {
	EventID           string
	Kind              WebhookKind
	ExternalReference string
	TransactionID     string
	RefundID          string
	ErrorMessage      string
	SetupIntent       *SetupIntentResult
	Raw               json.RawMessage
}

// Gateway is one payment provider.
type Gateway interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	RefundPayment(ctx context.Context, req RefundRequest) (RefundResult, error)
	GetPaymentStatus(ctx context.Context, externalRef string) (PaymentResult, error)
	GetOrCreateCustomer(ctx context.Context, userID string) (string, error)
	// AttachPaymentMethodToCustomer returns ErrAlreadyAttached when the
	// provider already linked token to customerID.
	AttachPaymentMethodToCustomer(ctx context.Context, customerID, token string) error
	ProcessWebhook(ctx context.Context, payload []byte, headers map[string]string) (WebhookResult, error)
	CreateSetupIntent(ctx context.Context, req SetupIntentRequest) (SetupIntentResult, error)
	// ConfirmSetupIntent returns the intent together with
	// ErrIntentAlreadySucceeded when it was confirmed elsewhere first.
	ConfirmSetupIntent(ctx context.Context, setupIntentID string) (SetupIntentResult, error)
}

// Registry resolves providers by name.
type Registry map[string]Gateway

func (r Registry) Get(provider string) (Gateway, error) {
	g, ok := r[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, ErrInvalidProvider.WithMessage("unknown payment provider %q", provider)
	}
	return g, nil
}

func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
