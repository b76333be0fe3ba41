package payments

import (
	"time"

	"github.com/ariefcatur/go-store-orders/internal/money"
)

const (
	TopicPayments       = "store.payments"
	TopicPaymentMethods = "store.payment-methods"
)

const (
	EventPaymentCreated        = "PaymentCreated"
	EventPaymentActionRequired = "PaymentActionRequired"
	EventPaymentSucceeded      = "PaymentSucceeded"
	EventPaymentFailed         = "PaymentFailed"
	EventPaymentRefunded       = "PaymentRefunded"
	EventPaymentCanceled       = "PaymentCanceled"

	EventMethodAdded          = "PaymentMethodAdded"
	EventMethodDefaultChanged = "PaymentMethodDefaultChanged"
	EventMethodDeactivated    = "PaymentMethodDeactivated"
	EventMethodExpiryUpdated  = "PaymentMethodExpiryUpdated"
)

type Event interface {
	Type() string
	AggregateID() string
}

type PaymentCreated struct {
	PaymentID  string      `json:"payment_id"`
	OrderID    string      `json:"order_id"`
	Amount     money.Money `json:"amount"`
	Provider   string      `json:"provider"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (e PaymentCreated) Type() string        { return EventPaymentCreated }
func (e PaymentCreated) AggregateID() string { return e.PaymentID }

type PaymentActionRequired struct {
	PaymentID      string    `json:"payment_id"`
	OrderID        string    `json:"order_id"`
	NextActionType string    `json:"next_action_type"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (e PaymentActionRequired) Type() string        { return EventPaymentActionRequired }
func (e PaymentActionRequired) AggregateID() string { return e.PaymentID }

type PaymentSucceeded struct {
	PaymentID     string      `json:"payment_id"`
	OrderID       string      `json:"order_id"`
	Amount        money.Money `json:"amount"`
	TransactionID string      `json:"transaction_id,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

func (e PaymentSucceeded) Type() string        { return EventPaymentSucceeded }
func (e PaymentSucceeded) AggregateID() string { return e.PaymentID }

type PaymentFailed struct {
	PaymentID  string    `json:"payment_id"`
	OrderID    string    `json:"order_id"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e PaymentFailed) Type() string        { return EventPaymentFailed }
func (e PaymentFailed) AggregateID() string { return e.PaymentID }

type PaymentRefunded struct {
	PaymentID  string      `json:"payment_id"`
	OrderID    string      `json:"order_id"`
	Amount     money.Money `json:"amount"`
	RefundID   string      `json:"refund_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (e PaymentRefunded) Type() string        { return EventPaymentRefunded }
func (e PaymentRefunded) AggregateID() string { return e.PaymentID }

type PaymentCanceled struct {
	PaymentID  string    `json:"payment_id"`
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e PaymentCanceled) Type() string        { return EventPaymentCanceled }
func (e PaymentCanceled) AggregateID() string { return e.PaymentID }

type MethodAdded struct {
	MethodID      string     `json:"payment_method_id"`
	UserID        string     `json:"user_id"`
	MethodType    MethodType `json:"type"`
	Provider      string     `json:"provider"`
	SetupIntentID string     `json:"setup_intent_id,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

func (e MethodAdded) Type() string        { return EventMethodAdded }
func (e MethodAdded) AggregateID() string { return e.MethodID }

type MethodDefaultChanged struct {
	MethodID   string    `json:"payment_method_id"`
	UserID     string    `json:"user_id"`
	IsDefault  bool      `json:"is_default"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e MethodDefaultChanged) Type() string        { return EventMethodDefaultChanged }
func (e MethodDefaultChanged) AggregateID() string { return e.MethodID }

type MethodDeactivated struct {
	MethodID   string    `json:"payment_method_id"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e MethodDeactivated) Type() string        { return EventMethodDeactivated }
func (e MethodDeactivated) AggregateID() string { return e.MethodID }

type MethodExpiryUpdated struct {
	MethodID   string    `json:"payment_method_id"`
	OldMonth   int       `json:"old_exp_month"`
	OldYear    int       `json:"old_exp_year"`
	NewMonth   int       `json:"new_exp_month"`
	NewYear    int       `json:"new_exp_year"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e MethodExpiryUpdated) Type() string        { return EventMethodExpiryUpdated }
func (e MethodExpiryUpdated) AggregateID() string { return e.MethodID }
