package checkout

import (
	"context"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/identity"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/sirupsen/logrus"
)

type PayInput struct {
	OrderID         string
	PaymentMethodID string
}

// PayResult is what the client needs to finish or retry a payment.
type PayResult struct {
	PaymentID      string           `json:"payment_id"`
	Status         payments.Status  `json:"status"`
	Outcome        payments.Outcome `json:"outcome"`
	ClientSecret   string           `json:"client_secret,omitempty"`
	NextActionType string           `json:"next_action_type,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
}

type pendingCharge struct {
	payment *payments.Payment
	gateway payments.Gateway
	req     payments.PaymentRequest
}

// PayOrder charges the order total to a saved payment method. The payment
// row is committed before the provider is called and the outcome is
// applied in a second unit of work; the order itself follows through the
// payment events. A retry after a lost provider response reuses the
// pending payment and its idempotency key.
func (s *Service) PayOrder(ctx context.Context, in PayInput) (PayResult, error) {
	pc, err := s.preparePayment(ctx, in)
	if err != nil {
		return PayResult{}, apperr.Wrap(err)
	}

	log := s.Log.WithFields(logrus.Fields{"order_id": in.OrderID, "payment_id": pc.payment.ID()})
	res, err := pc.gateway.ProcessPayment(ctx, pc.req)
	if err != nil {
		log.WithError(err).Warn("provider charge failed, payment left pending")
		return PayResult{}, apperr.Wrap(err)
	}

	var pay *payments.Payment
	err = s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		p, err := r.Payments.Get(ctx, pc.payment.ID())
		if err != nil {
			return err
		}
		pay = p
		if p.Status() != payments.StatusPending {
			log.WithField("status", p.Status()).Info("payment settled before the charge response was applied")
			return nil
		}

		now := s.now()
		var evs []payments.Event
		switch res.Outcome {
		case payments.OutcomeSucceeded:
			evs, err = p.MarkSucceeded(res.ExternalReference, res.TransactionID, now)
		case payments.OutcomeFailed:
			evs, err = p.MarkFailed(res.ExternalReference, res.ErrorMessage, now)
		case payments.OutcomeRequiresAction:
			evs, err = p.AwaitAction(res.ExternalReference, res.ClientSecret, res.NextActionType, now)
		default:
			err = p.TrackReference(res.ExternalReference, now)
		}
		if err != nil {
			return err
		}
		if err := r.Payments.Update(ctx, p); err != nil {
			return err
		}
		return s.appendPaymentEvents(ctx, r, evs)
	})
	if err != nil {
		return PayResult{}, apperr.Wrap(err)
	}

	log.WithField("outcome", res.Outcome).Info("payment processed")
	return PayResult{
		PaymentID:      pay.ID(),
		Status:         pay.Status(),
		Outcome:        res.Outcome,
		ClientSecret:   res.ClientSecret,
		NextActionType: res.NextActionType,
		ErrorMessage:   res.ErrorMessage,
	}, nil
}

func (s *Service) preparePayment(ctx context.Context, in PayInput) (pendingCharge, error) {
	caller := identity.From(ctx)
	var pc pendingCharge

	err := s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		o, err := r.Orders.GetForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if err := canSee(caller, o); err != nil {
			return err
		}
		switch o.PaymentStatus() {
		case orders.PaymentSucceeded, orders.PaymentRefunded:
			return ErrAlreadyPaid
		}
		if o.Status() != orders.StatusPending {
			return orders.ErrInvalidTransition.WithMessage("cannot pay a %s order", o.Status())
		}

		m, err := r.Methods.Get(ctx, in.PaymentMethodID)
		if err != nil {
			return err
		}
		if m.UserID() != o.UserID() {
			return payments.ErrMethodNotFound
		}
		now := s.now()
		if err := m.Usable(now); err != nil {
			return err
		}
		gw, err := s.Gateways.Get(m.Provider())
		if err != nil {
			return err
		}

		pay, err := s.pendingPayment(ctx, r, o, m)
		if err != nil {
			return err
		}
		pc = pendingCharge{
			payment: pay,
			gateway: gw,
			req: payments.PaymentRequest{
				PaymentID:      pay.ID(),
				OrderID:        o.ID(),
				Amount:         pay.Amount(),
				CustomerID:     m.Metadata().CustomerID,
				MethodToken:    m.Token(),
				IdempotencyKey: pay.ID(),
			},
		}
		return nil
	})
	return pc, err
}

// pendingPayment reuses an unsettled payment for the same method or
// creates a new one. Payments waiting on a customer challenge block new
// attempts; pending payments for another method are cancelled.
func (s *Service) pendingPayment(ctx context.Context, r store.Repositories, o *orders.Order, m *payments.PaymentMethod) (*payments.Payment, error) {
	list, err := r.Payments.ListByOrder(ctx, o.ID())
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, p := range list {
		if p.Status() != payments.StatusPending {
			continue
		}
		if p.Metadata().NextActionType != "" {
			return nil, ErrPaymentInProgress.WithDetails(map[string]string{
				"payment_id":    p.ID(),
				"client_secret": p.Metadata().ClientSecret,
			})
		}
		if p.PaymentMethodID() == m.ID() && p.Amount().Equal(o.Total()) {
			return p, nil
		}
		evs, err := p.Cancel(now)
		if err != nil {
			return nil, err
		}
		if err := r.Payments.Update(ctx, p); err != nil {
			return nil, err
		}
		if err := s.appendPaymentEvents(ctx, r, evs); err != nil {
			return nil, err
		}
	}

	pay, evs, err := payments.NewPayment(payments.NewPaymentParams{
		ID:              s.newID(),
		OrderID:         o.ID(),
		UserID:          o.UserID(),
		Amount:          o.Total(),
		MethodType:      m.Type(),
		Provider:        m.Provider(),
		PaymentMethodID: m.ID(),
		Now:             now,
	})
	if err != nil {
		return nil, err
	}
	if err := r.Payments.Create(ctx, pay); err != nil {
		return nil, err
	}
	return pay, s.appendPaymentEvents(ctx, r, evs)
}
