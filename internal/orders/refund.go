package orders

import (
	"slices"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/money"
)

func (o *Order) fullyRefunded() bool {
	return o.s.PaymentStatus == PaymentRefunded ||
		(o.s.Total.IsPositive() && o.s.RefundedAmount.Equal(o.s.Total))
}

// CheckRefundable reports whether any refund may be applied right now,
// without changing the order.
func (o *Order) CheckRefundable() error {
	if o.fullyRefunded() {
		return ErrAlreadyRefunded
	}
	if o.s.PaymentStatus != PaymentSucceeded {
		return ErrPaymentRequired
	}
	if o.s.Status == StatusPending || o.s.Status == StatusCancelled {
		return ErrNotRefundable.WithMessage("cannot refund a %s order", o.s.Status)
	}
	return nil
}

// RefundableAmount is what is left to refund.
func (o *Order) RefundableAmount() money.Money {
	rest, err := o.s.Total.Sub(o.s.RefundedAmount)
	if err != nil {
		return money.Zero(o.s.Currency)
	}
	return rest
}

// CheckPartialRefund validates amount against the refund rules without
// applying it.
func (o *Order) CheckPartialRefund(amount money.Money) error {
	if err := o.CheckRefundable(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidRefundAmount
	}
	running, err := o.s.RefundedAmount.Add(amount)
	if err != nil {
		return err
	}
	if cmp, _ := running.Cmp(o.s.Total); cmp > 0 {
		return ErrRefundExceedsTotal.WithMessage("refund of %s exceeds the remaining %s", amount, o.RefundableAmount())
	}
	return nil
}

// RefundApplied reports whether a refund issued under key was recorded.
func (o *Order) RefundApplied(key string) bool {
	return key != "" && slices.Contains(o.s.Metadata.RefundKeys, key)
}

func (o *Order) trackRefundKey(key string) {
	if key != "" {
		o.s.Metadata.RefundKeys = append(o.s.Metadata.RefundKeys, key)
	}
}

// ProcessRefund refunds whatever remains of the order total. key may be
// empty.
func (o *Order) ProcessRefund(reason, key string, now time.Time) ([]Event, error) {
	if err := o.CheckRefundable(); err != nil {
		return nil, err
	}
	amount := o.RefundableAmount()
	o.trackRefundKey(key)
	return o.completeRefund(amount, reason, now), nil
}

// ProcessPartialRefund accumulates amount into the refunded total. Reaching
// the order total completes the refund exactly like ProcessRefund.
// Only refunds that leave a remainder enter the refund history.
func (o *Order) ProcessPartialRefund(amount money.Money, reason, key string, now time.Time) ([]Event, error) {
	if err := o.CheckPartialRefund(amount); err != nil {
		return nil, err
	}
	o.trackRefundKey(key)

	running, _ := o.s.RefundedAmount.Add(amount)
	if running.Equal(o.s.Total) {
		return o.completeRefund(amount, reason, now), nil
	}

	o.s.Metadata.Refunds = append(o.s.Metadata.Refunds, RefundRecord{
		Amount:         amount,
		Currency:       amount.Currency(),
		Date:           now,
		Reason:         reason,
		IdempotencyKey: key,
	})

	o.s.RefundedAmount = running
	o.s.RefundedAt = &now
	o.s.RefundReason = reason
	o.touch(now)

	return []Event{PartialRefundProcessed{
		OrderID:       o.s.ID,
		Amount:        amount,
		RefundedTotal: running,
		Remaining:     o.RefundableAmount(),
		Reason:        reason,
		OccurredAt:    now,
	}}, nil
}

func (o *Order) completeRefund(amount money.Money, reason string, now time.Time) []Event {
	o.s.RefundedAmount = o.s.Total
	o.s.RefundedAt = &now
	o.s.RefundReason = reason

	evs := []Event{RefundProcessed{
		OrderID:       o.s.ID,
		Amount:        amount,
		RefundedTotal: o.s.Total,
		Reason:        reason,
		OccurredAt:    now,
	}}
	evs = append(evs, o.setPaymentStatus(PaymentRefunded, now))

	next := StatusCancelled
	if o.s.Status == StatusReturned {
		next = StatusReturnedAndRefunded
	}
	return append(evs, o.setStatus(next, "refunded", now))
}
