package orders

import (
	"time"

	"github.com/ariefcatur/go-store-orders/internal/money"
)

const (
	EventOrderCreated           = "OrderCreated"
	EventItemAdded              = "OrderItemAdded"
	EventItemQuantityChanged    = "OrderItemQuantityChanged"
	EventItemRemoved            = "OrderItemRemoved"
	EventTotalsRecalculated     = "OrderTotalsRecalculated"
	EventStatusChanged          = "OrderStatusChanged"
	EventPaymentStatusChanged   = "OrderPaymentStatusChanged"
	EventRefundProcessed        = "OrderRefundProcessed"
	EventPartialRefundProcessed = "OrderPartialRefundProcessed"
)

// Event is returned by every Order method that changes tracked state.
type Event interface {
	Type() string
	AggregateID() string
}

type OrderCreated struct {
	OrderID        string         `json:"order_id"`
	UserID         string         `json:"user_id,omitempty"`
	ShippingMethod ShippingMethod `json:"shipping_method"`
	Currency       string         `json:"currency"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

func (e OrderCreated) Type() string        { return EventOrderCreated }
func (e OrderCreated) AggregateID() string { return e.OrderID }

type ItemAdded struct {
	OrderID   string      `json:"order_id"`
	ItemID    string      `json:"item_id"`
	ProductID string      `json:"product_id"`
	VariantID string      `json:"variant_id,omitempty"`
	Quantity  int         `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
}

func (e ItemAdded) Type() string        { return EventItemAdded }
func (e ItemAdded) AggregateID() string { return e.OrderID }

type ItemQuantityChanged struct {
	OrderID     string `json:"order_id"`
	ItemID      string `json:"item_id"`
	OldQuantity int    `json:"old_quantity"`
	NewQuantity int    `json:"new_quantity"`
}

func (e ItemQuantityChanged) Type() string        { return EventItemQuantityChanged }
func (e ItemQuantityChanged) AggregateID() string { return e.OrderID }

type ItemRemoved struct {
	OrderID string `json:"order_id"`
	ItemID  string `json:"item_id"`
}

func (e ItemRemoved) Type() string        { return EventItemRemoved }
func (e ItemRemoved) AggregateID() string { return e.OrderID }

type TotalsRecalculated struct {
	OrderID     string      `json:"order_id"`
	OldSubtotal money.Money `json:"old_subtotal"`
	NewSubtotal money.Money `json:"new_subtotal"`
	OldTotal    money.Money `json:"old_total"`
	NewTotal    money.Money `json:"new_total"`
}

func (e TotalsRecalculated) Type() string        { return EventTotalsRecalculated }
func (e TotalsRecalculated) AggregateID() string { return e.OrderID }

type StatusChanged struct {
	OrderID    string    `json:"order_id"`
	OldStatus  Status    `json:"old_status"`
	NewStatus  Status    `json:"new_status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e StatusChanged) Type() string        { return EventStatusChanged }
func (e StatusChanged) AggregateID() string { return e.OrderID }

type PaymentStatusChanged struct {
	OrderID    string        `json:"order_id"`
	OldStatus  PaymentStatus `json:"old_status"`
	NewStatus  PaymentStatus `json:"new_status"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func (e PaymentStatusChanged) Type() string        { return EventPaymentStatusChanged }
func (e PaymentStatusChanged) AggregateID() string { return e.OrderID }

type RefundProcessed struct {
	OrderID       string      `json:"order_id"`
	Amount        money.Money `json:"amount"`
	RefundedTotal money.Money `json:"refunded_total"`
	Reason        string      `json:"reason,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

func (e RefundProcessed) Type() string        { return EventRefundProcessed }
func (e RefundProcessed) AggregateID() string { return e.OrderID }

type PartialRefundProcessed struct {
	OrderID       string      `json:"order_id"`
	Amount        money.Money `json:"amount"`
	RefundedTotal money.Money `json:"refunded_total"`
	Remaining     money.Money `json:"remaining"`
	Reason        string      `json:"reason,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

func (e PartialRefundProcessed) Type() string        { return EventPartialRefundProcessed }
func (e PartialRefundProcessed) AggregateID() string { return e.OrderID }
