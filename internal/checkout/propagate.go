package checkout

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/sirupsen/logrus"
)

const dedupScope = "checkout:payments"

// HandlePaymentEvent mirrors a settled payment onto its order. It consumes
// envelopes from the payments topic; redeliveries of the same event id are
// dropped.
func (s *Service) HandlePaymentEvent(ctx context.Context, env outbox.Envelope) (err error) {
	var (
		orderID string
		apply   func(o *orders.Order) ([]orders.Event, error)
	)
	switch env.EventType {
	case payments.EventPaymentSucceeded:
		ev, derr := outbox.Decode[payments.PaymentSucceeded](env)
		if derr != nil {
			return derr
		}
		orderID = ev.OrderID
		apply = func(o *orders.Order) ([]orders.Event, error) { return o.MarkAsPaid(s.now()) }
	case payments.EventPaymentFailed:
		ev, derr := outbox.Decode[payments.PaymentFailed](env)
		if derr != nil {
			return derr
		}
		orderID = ev.OrderID
		apply = func(o *orders.Order) ([]orders.Event, error) { return o.MarkPaymentFailed(s.now()) }
	case payments.EventPaymentRefunded:
		ev, derr := outbox.Decode[payments.PaymentRefunded](env)
		if derr != nil {
			return derr
		}
		orderID = ev.OrderID
		apply = func(o *orders.Order) ([]orders.Event, error) { return o.MarkPaymentRefunded(s.now()) }
	default:
		return nil
	}

	log := s.Log.WithFields(logrus.Fields{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"order_id":   orderID,
	})

	if s.Cache != nil {
		key := redisx.DedupKey(dedupScope, env.EventID)
		first, serr := s.Cache.SetNX(ctx, key, "1", redisx.TTLDedup)
		if serr != nil {
			return serr
		}
		if !first {
			log.Debug("duplicate payment event dropped")
			return nil
		}
		// release the claim so a redelivery can retry
		defer func() {
			if err != nil {
				_ = s.Cache.Del(ctx, key)
			}
		}()
	}

	_, err = s.mutate(ctx, orderID, func(_ store.Repositories, o *orders.Order) ([]orders.Event, error) {
		return apply(o)
	})
	if errors.Is(err, orders.ErrInvalidPaymentTransition) {
		// e.g. a late failure for an order that already paid
		log.WithError(err).Warn("payment event does not apply to order, skipped")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("order payment status updated")
	return nil
}
