package orders

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/money"
)

var (
	ErrNotFound                 = apperr.NotFound("order.not_found", "order not found")
	ErrItemNotFound             = apperr.NotFound("order.item_not_found", "order item not found")
	ErrNotModifiable            = apperr.Conflict("order.not_modifiable", "order items can only change while the order is pending")
	ErrInvalidTransition        = apperr.Conflict("order.invalid_transition", "order cannot transition from its current status")
	ErrInvalidPaymentTransition = apperr.Conflict("order.invalid_payment_transition", "order payment status cannot transition from its current value")
	ErrPaymentRequired          = apperr.Conflict("order.payment_required", "order payment has not succeeded")
	ErrAlreadyRefunded          = apperr.Conflict("order.already_refunded", "order has already been fully refunded")
	ErrNotRefundable            = apperr.Conflict("order.not_refundable", "order cannot be refunded in its current state")
	ErrCancelForbidden          = apperr.Forbidden("order.cancel_forbidden", "order can no longer be cancelled by the customer")
	ErrInvalidQuantity          = apperr.Validation("order.invalid_quantity", "quantity must be positive")
	ErrInvalidRefundAmount      = apperr.Validation("order.invalid_refund_amount", "refund amount must be positive")
	ErrRefundExceedsTotal       = apperr.Validation("order.refund_exceeds_total", "refund would exceed the order total")
	ErrInvalidShippingMethod    = apperr.Validation("order.invalid_shipping_method", "unknown shipping method")
	ErrAddressRequired          = apperr.Validation("order.address_required", "shipping and billing addresses are required")
)

// ProductSnapshot is catalog data frozen when the item was added.
type ProductSnapshot struct {
	Name              string            `json:"name"`
	SKU               string            `json:"sku"`
	Slug              string            `json:"slug"`
	VariantAttributes map[string]string `json:"variant_attributes,omitempty"`
}

type Item struct {
	ID         string
	ProductID  string
	VariantID  string
	Quantity   int
	UnitPrice  money.Money
	TotalPrice money.Money
	Product    ProductSnapshot
}

func (it Item) clone() Item {
	it.Product.VariantAttributes = maps.Clone(it.Product.VariantAttributes)
	return it
}

type RefundRecord struct {
	Amount   money.Money `json:"amount"`
	Currency string      `json:"currency"`
	Date     time.Time   `json:"date"`
	Reason   string      `json:"reason,omitempty"`

	// IdempotencyKey identifies the request that issued the refund.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Metadata holds the known extension fields of an order.
type Metadata struct {
	Refunds            []RefundRecord    `json:"refunds,omitempty"`
	RefundKeys         []string          `json:"refund_keys,omitempty"`
	TrackingNumber     string            `json:"tracking_number,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	ReturnReason       string            `json:"return_reason,omitempty"`
	Notes              map[string]string `json:"notes,omitempty"`
}

func (m Metadata) clone() Metadata {
	m.Refunds = slices.Clone(m.Refunds)
	m.RefundKeys = slices.Clone(m.RefundKeys)
	m.Notes = maps.Clone(m.Notes)
	return m
}

// Snapshot is the full persisted state of an order. Repositories read and
// write it; everything else goes through Order's methods.
type Snapshot struct {
	ID                string
	UserID            string
	ShippingAddressID string
	BillingAddressID  string
	Currency          string
	Subtotal          money.Money
	Tax               money.Money
	ShippingCost      money.Money
	Total             money.Money
	Status            Status
	PaymentStatus     PaymentStatus
	ShippingMethod    ShippingMethod
	RefundedAmount    money.Money
	RefundedAt        *time.Time
	RefundReason      string
	Metadata          Metadata
	Items             []Item
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s Snapshot) clone() Snapshot {
	items := make([]Item, len(s.Items))
	for i, it := range s.Items {
		items[i] = it.clone()
	}
	s.Items = items
	s.Metadata = s.Metadata.clone()
	if s.RefundedAt != nil {
		at := *s.RefundedAt
		s.RefundedAt = &at
	}
	return s
}

type Order struct {
	s       Snapshot
	pricing Pricing
}

type Option func(*Order)

func WithPricing(p Pricing) Option {
	return func(o *Order) { o.pricing = p }
}

type NewParams struct {
	ID                string
	UserID            string
	ShippingAddressID string
	BillingAddressID  string
	Currency          string
	ShippingMethod    ShippingMethod
	Notes             map[string]string
	Now               time.Time
}

// New starts a Pending/Pending order with no items.
func New(p NewParams, opts ...Option) (*Order, []Event, error) {
	o := &Order{pricing: DefaultPricing()}
	for _, opt := range opts {
		opt(o)
	}

	if strings.TrimSpace(p.ShippingAddressID) == "" || strings.TrimSpace(p.BillingAddressID) == "" {
		return nil, nil, ErrAddressRequired
	}
	if p.ShippingMethod == "" {
		p.ShippingMethod = ShippingStandard
	}
	shipping, err := o.pricing.ShippingCost(p.ShippingMethod, p.Currency)
	if err != nil {
		return nil, nil, err
	}
	currency := shipping.Currency()

	o.s = Snapshot{
		ID:                p.ID,
		UserID:            p.UserID,
		ShippingAddressID: p.ShippingAddressID,
		BillingAddressID:  p.BillingAddressID,
		Currency:          currency,
		Subtotal:          money.Zero(currency),
		Tax:               money.Zero(currency),
		ShippingCost:      shipping,
		Total:             shipping,
		Status:            StatusPending,
		PaymentStatus:     PaymentPending,
		ShippingMethod:    p.ShippingMethod,
		RefundedAmount:    money.Zero(currency),
		Metadata:          Metadata{Notes: maps.Clone(p.Notes)},
		Version:           1,
		CreatedAt:         p.Now,
		UpdatedAt:         p.Now,
	}

	return o, []Event{OrderCreated{
		OrderID:        p.ID,
		UserID:         p.UserID,
		ShippingMethod: p.ShippingMethod,
		Currency:       currency,
		OccurredAt:     p.Now,
	}}, nil
}

// Restore rebuilds an order from persisted state.
func Restore(s Snapshot, opts ...Option) *Order {
	o := &Order{s: s.clone(), pricing: DefaultPricing()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Order) Snapshot() Snapshot { return o.s.clone() }

func (o *Order) ID() string                     { return o.s.ID }
func (o *Order) UserID() string                 { return o.s.UserID }
func (o *Order) Currency() string               { return o.s.Currency }
func (o *Order) Status() Status                 { return o.s.Status }
func (o *Order) PaymentStatus() PaymentStatus   { return o.s.PaymentStatus }
func (o *Order) Subtotal() money.Money          { return o.s.Subtotal }
func (o *Order) Tax() money.Money               { return o.s.Tax }
func (o *Order) ShippingCost() money.Money      { return o.s.ShippingCost }
func (o *Order) Total() money.Money             { return o.s.Total }
func (o *Order) RefundedAmount() money.Money    { return o.s.RefundedAmount }
func (o *Order) Version() int                   { return o.s.Version }
func (o *Order) ShippingMethod() ShippingMethod { return o.s.ShippingMethod }
func (o *Order) Metadata() Metadata             { return o.s.Metadata.clone() }

func (o *Order) Items() []Item {
	out := make([]Item, len(o.s.Items))
	for i, it := range o.s.Items {
		out[i] = it.clone()
	}
	return out
}

// OwnedBy reports whether userID may act on the order as its customer.
func (o *Order) OwnedBy(userID string) bool {
	return o.s.UserID != "" && o.s.UserID == userID
}

func (o *Order) touch(now time.Time) { o.s.UpdatedAt = now }

type NewItem struct {
	ID        string
	ProductID string
	VariantID string
	Quantity  int
	UnitPrice money.Money
	Product   ProductSnapshot
}

func (o *Order) AddItem(in NewItem, now time.Time) ([]Event, error) {
	if o.s.Status != StatusPending {
		return nil, ErrNotModifiable
	}
	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if in.UnitPrice.Currency() != o.s.Currency {
		return nil, money.ErrCurrencyMismatch.WithMessage("item priced in %s, order in %s", in.UnitPrice.Currency(), o.s.Currency)
	}

	it := Item{
		ID:         in.ID,
		ProductID:  in.ProductID,
		VariantID:  in.VariantID,
		Quantity:   in.Quantity,
		UnitPrice:  in.UnitPrice,
		TotalPrice: in.UnitPrice.Mul(in.Quantity),
		Product:    in.Product,
	}
	it = it.clone()
	o.s.Items = append(o.s.Items, it)

	evs := []Event{ItemAdded{
		OrderID:   o.s.ID,
		ItemID:    it.ID,
		ProductID: it.ProductID,
		VariantID: it.VariantID,
		Quantity:  it.Quantity,
		UnitPrice: it.UnitPrice,
	}}
	return o.recalculate(evs, now)
}

func (o *Order) UpdateItemQuantity(itemID string, qty int, now time.Time) ([]Event, error) {
	if o.s.Status != StatusPending {
		return nil, ErrNotModifiable
	}
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	idx := o.itemIndex(itemID)
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	it := &o.s.Items[idx]
	if it.Quantity == qty {
		return nil, nil
	}
	old := it.Quantity
	it.Quantity = qty
	it.TotalPrice = it.UnitPrice.Mul(qty)

	evs := []Event{ItemQuantityChanged{OrderID: o.s.ID, ItemID: itemID, OldQuantity: old, NewQuantity: qty}}
	return o.recalculate(evs, now)
}

func (o *Order) RemoveItem(itemID string, now time.Time) ([]Event, error) {
	if o.s.Status != StatusPending {
		return nil, ErrNotModifiable
	}
	idx := o.itemIndex(itemID)
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	o.s.Items = slices.Delete(o.s.Items, idx, idx+1)

	return o.recalculate([]Event{ItemRemoved{OrderID: o.s.ID, ItemID: itemID}}, now)
}

func (o *Order) itemIndex(itemID string) int {
	return slices.IndexFunc(o.s.Items, func(it Item) bool { return it.ID == itemID })
}

// recalculate keeps total == subtotal + tax + shipping after item changes.
func (o *Order) recalculate(evs []Event, now time.Time) ([]Event, error) {
	subtotal := money.Zero(o.s.Currency)
	for _, it := range o.s.Items {
		var err error
		if subtotal, err = subtotal.Add(it.TotalPrice); err != nil {
			return nil, err
		}
	}
	tax := o.pricing.Tax(subtotal)
	total, err := subtotal.Add(tax)
	if err != nil {
		return nil, err
	}
	if total, err = total.Add(o.s.ShippingCost); err != nil {
		return nil, err
	}

	ev := TotalsRecalculated{
		OrderID:     o.s.ID,
		OldSubtotal: o.s.Subtotal,
		NewSubtotal: subtotal,
		OldTotal:    o.s.Total,
		NewTotal:    total,
	}
	o.s.Subtotal, o.s.Tax, o.s.Total = subtotal, tax, total
	o.touch(now)
	return append(evs, ev), nil
}

func (o *Order) setStatus(to Status, reason string, now time.Time) Event {
	ev := StatusChanged{OrderID: o.s.ID, OldStatus: o.s.Status, NewStatus: to, Reason: reason, OccurredAt: now}
	o.s.Status = to
	o.touch(now)
	return ev
}

func (o *Order) setPaymentStatus(to PaymentStatus, now time.Time) Event {
	ev := PaymentStatusChanged{OrderID: o.s.ID, OldStatus: o.s.PaymentStatus, NewStatus: to, OccurredAt: now}
	o.s.PaymentStatus = to
	o.touch(now)
	return ev
}

// MarkAsPaid records a succeeded payment. Calling it again is a no-op; a
// pending order moves on to processing.
func (o *Order) MarkAsPaid(now time.Time) ([]Event, error) {
	var evs []Event
	if o.s.PaymentStatus != PaymentSucceeded {
		if !CanTransitionPayment(o.s.PaymentStatus, PaymentSucceeded) {
			return nil, ErrInvalidPaymentTransition.WithMessage("cannot mark %s payment as succeeded", o.s.PaymentStatus)
		}
		evs = append(evs, o.setPaymentStatus(PaymentSucceeded, now))
	}
	if o.s.Status == StatusPending {
		evs = append(evs, o.setStatus(StatusProcessing, "payment succeeded", now))
	}
	return evs, nil
}

func (o *Order) MarkPaymentFailed(now time.Time) ([]Event, error) {
	if o.s.PaymentStatus == PaymentFailed {
		return nil, nil
	}
	if !CanTransitionPayment(o.s.PaymentStatus, PaymentFailed) {
		return nil, ErrInvalidPaymentTransition.WithMessage("cannot mark %s payment as failed", o.s.PaymentStatus)
	}
	return []Event{o.setPaymentStatus(PaymentFailed, now)}, nil
}

// MarkPaymentRefunded reflects a refund settled at the provider. Order-side
// refund bookkeeping goes through ProcessRefund instead.
func (o *Order) MarkPaymentRefunded(now time.Time) ([]Event, error) {
	if o.s.PaymentStatus == PaymentRefunded {
		return nil, nil
	}
	if !CanTransitionPayment(o.s.PaymentStatus, PaymentRefunded) {
		return nil, ErrInvalidPaymentTransition.WithMessage("cannot mark %s payment as refunded", o.s.PaymentStatus)
	}
	return []Event{o.setPaymentStatus(PaymentRefunded, now)}, nil
}

func (o *Order) MarkAsShipped(trackingNumber string, now time.Time) ([]Event, error) {
	if o.s.Status == StatusShipped {
		return nil, nil
	}
	if o.s.PaymentStatus != PaymentSucceeded {
		return nil, ErrPaymentRequired
	}
	if !CanTransition(o.s.Status, StatusShipped) {
		return nil, ErrInvalidTransition.WithMessage("cannot ship a %s order", o.s.Status)
	}
	if trackingNumber != "" {
		o.s.Metadata.TrackingNumber = trackingNumber
	}
	return []Event{o.setStatus(StatusShipped, trackingNumber, now)}, nil
}

func (o *Order) MarkAsDelivered(now time.Time) ([]Event, error) {
	if o.s.Status == StatusDelivered {
		return nil, nil
	}
	if o.s.Status != StatusShipped {
		return nil, ErrInvalidTransition.WithMessage("cannot deliver a %s order", o.s.Status)
	}
	return []Event{o.setStatus(StatusDelivered, "", now)}, nil
}

func (o *Order) MarkAsReturned(reason string, now time.Time) ([]Event, error) {
	if o.s.Status == StatusReturned {
		return nil, nil
	}
	if o.s.Status != StatusDelivered {
		return nil, ErrInvalidTransition.WithMessage("cannot return a %s order", o.s.Status)
	}
	o.s.Metadata.ReturnReason = reason
	return []Event{o.setStatus(StatusReturned, reason, now)}, nil
}

// Cancel is role gated: customers may cancel pending or processing orders,
// staff may also cancel shipped ones and close out refunded returns.
// Delivered orders are never cancelled directly.
func (o *Order) Cancel(reason string, role Role, now time.Time) ([]Event, error) {
	switch o.s.Status {
	case StatusCancelled:
		return nil, nil
	case StatusPending, StatusProcessing:
	case StatusShipped:
		if !role.Elevated() {
			return nil, ErrCancelForbidden
		}
	case StatusReturned:
		if !role.Elevated() {
			return nil, ErrCancelForbidden
		}
		if o.s.PaymentStatus != PaymentRefunded {
			return nil, ErrInvalidTransition.WithMessage("returned order must be refunded before it is closed")
		}
	default:
		return nil, ErrInvalidTransition.WithMessage("cannot cancel a %s order", o.s.Status)
	}
	o.s.Metadata.CancellationReason = reason
	return []Event{o.setStatus(StatusCancelled, reason, now)}, nil
}
