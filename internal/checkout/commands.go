package checkout

import (
	"context"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/identity"
	"github.com/ariefcatur/go-store-orders/internal/inventory"
	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/sirupsen/logrus"
)

type RefundInput struct {
	OrderID string
	// Amount nil refunds whatever is left.
	Amount *money.Money
	Reason string
	// IdempotencyKey collapses retries of one refund request. A request
	// whose key was already recorded returns the order unchanged.
	IdempotencyKey string
}

// ProcessOrderRefund refunds at the provider and records the refund while
// holding the order row, so concurrent identical requests apply once.
func (s *Service) ProcessOrderRefund(ctx context.Context, in RefundInput) (*orders.Order, error) {
	if !identity.From(ctx).Elevated() {
		return nil, ErrStaffOnly
	}

	var (
		out    *orders.Order
		replay bool
	)
	err := s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		o, err := r.Orders.GetForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if o.RefundApplied(in.IdempotencyKey) {
			out, replay = o, true
			return nil
		}

		amount := o.RefundableAmount()
		if in.Amount != nil {
			amount = *in.Amount
			err = o.CheckPartialRefund(amount)
		} else {
			err = o.CheckRefundable()
		}
		if err != nil {
			return err
		}

		pay, err := settledPayment(ctx, r, o.ID())
		if err != nil {
			return err
		}
		gw, err := s.Gateways.Get(pay.Provider())
		if err != nil {
			return err
		}
		key := in.IdempotencyKey
		if key == "" {
			after, err := o.RefundedAmount().Add(amount)
			if err != nil {
				return err
			}
			key = "refund:" + after.Amount().StringFixed(2)
		}
		refund, err := gw.RefundPayment(ctx, payments.RefundRequest{
			ExternalReference: pay.ExternalReference(),
			Amount:            amount,
			Reason:            in.Reason,
			IdempotencyKey:    o.ID() + ":" + key,
		})
		if err != nil {
			return err
		}

		now := s.now()
		var evs []orders.Event
		if in.Amount != nil {
			evs, err = o.ProcessPartialRefund(amount, in.Reason, in.IdempotencyKey, now)
		} else {
			evs, err = o.ProcessRefund(in.Reason, in.IdempotencyKey, now)
		}
		if err != nil {
			return err
		}

		var payEvs []payments.Event
		if o.PaymentStatus() == orders.PaymentRefunded {
			payEvs, err = pay.Refund(refund.RefundID, now)
		} else {
			err = pay.RecordPartialRefund(refund.RefundID, now)
		}
		if err != nil {
			return err
		}

		if err := r.Orders.Update(ctx, o); err != nil {
			return err
		}
		if err := r.Payments.Update(ctx, pay); err != nil {
			return err
		}
		if err := s.appendOrderEvents(ctx, r, evs); err != nil {
			return err
		}
		if err := s.appendPaymentEvents(ctx, r, payEvs); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if replay {
		s.Log.WithFields(logrus.Fields{
			"order_id":        out.ID(),
			"idempotency_key": in.IdempotencyKey,
		}).Info("refund already applied")
		return out, nil
	}

	s.Log.WithFields(logrus.Fields{
		"order_id":        out.ID(),
		"refunded_amount": out.RefundedAmount().String(),
		"status":          out.Status(),
	}).Info("order refunded")
	s.cacheStatus(ctx, out)
	return out, nil
}

// settledPayment is the most recent succeeded payment of the order.
func settledPayment(ctx context.Context, r store.Repositories, orderID string) (*payments.Payment, error) {
	list, err := r.Payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Status() == payments.StatusSucceeded {
			return list[i], nil
		}
	}
	return nil, ErrNoSettledPayment
}

func (s *Service) MarkOrderAsShipped(ctx context.Context, orderID, trackingNumber string) (*orders.Order, error) {
	if !identity.From(ctx).Elevated() {
		return nil, ErrStaffOnly
	}
	return s.mutate(ctx, orderID, func(_ store.Repositories, o *orders.Order) ([]orders.Event, error) {
		return o.MarkAsShipped(trackingNumber, s.now())
	})
}

func (s *Service) MarkOrderAsDelivered(ctx context.Context, orderID string) (*orders.Order, error) {
	if !identity.From(ctx).Elevated() {
		return nil, ErrStaffOnly
	}
	return s.mutate(ctx, orderID, func(_ store.Repositories, o *orders.Order) ([]orders.Event, error) {
		return o.MarkAsDelivered(s.now())
	})
}

func (s *Service) MarkOrderAsReturned(ctx context.Context, orderID, reason string) (*orders.Order, error) {
	if !identity.From(ctx).Elevated() {
		return nil, ErrStaffOnly
	}
	return s.mutate(ctx, orderID, func(_ store.Repositories, o *orders.Order) ([]orders.Event, error) {
		return o.MarkAsReturned(reason, s.now())
	})
}

// CancelOrder puts stock back for orders that never left the warehouse.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (*orders.Order, error) {
	caller := identity.From(ctx)
	return s.mutate(ctx, orderID, func(r store.Repositories, o *orders.Order) ([]orders.Event, error) {
		if err := canSee(caller, o); err != nil {
			return nil, err
		}
		before := o.Status()
		evs, err := o.Cancel(reason, caller.Role, s.now())
		if err != nil || len(evs) == 0 {
			return evs, err
		}
		if before != orders.StatusPending && before != orders.StatusProcessing {
			return evs, nil
		}
		var lines []inventory.Line
		for _, it := range o.Items() {
			if it.VariantID != "" {
				lines = append(lines, inventory.Line{VariantID: it.VariantID, Quantity: it.Quantity})
			}
		}
		return evs, inventory.Release(ctx, r.Inventory, lines)
	})
}
