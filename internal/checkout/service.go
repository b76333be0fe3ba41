// Package checkout turns carts into orders and runs every command that
// moves an order through its lifecycle.
package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/identity"
	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrStaffOnly         = apperr.Forbidden("checkout.staff_only", "only staff can perform this action")
	ErrNoSettledPayment  = apperr.Conflict("checkout.no_settled_payment", "order has no succeeded payment to refund")
	ErrAlreadyPaid       = apperr.Conflict("checkout.already_paid", "order is already paid")
	ErrPaymentInProgress = apperr.Conflict("checkout.payment_in_progress", "a payment for this order is awaiting customer action")
)

type Service struct {
	UoW      store.UnitOfWork
	Gateways payments.Registry
	Cache    redisx.Store
	Pricing  orders.Pricing
	// Currency prices carts that were created without one.
	Currency string
	Log      logrus.FieldLogger
	// Producer names this service in event envelopes.
	Producer string
	Now      func() time.Time
	NewID    func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) producer() string {
	if s.Producer == "" {
		return "store-api"
	}
	return s.Producer
}

func (s *Service) appendOrderEvents(ctx context.Context, r store.Repositories, evs []orders.Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs, err := outbox.Messages(ctx, s.producer(), orders.TopicOrders, evs, s.now())
	if err != nil {
		return err
	}
	return r.Outbox.Append(ctx, msgs...)
}

func (s *Service) appendPaymentEvents(ctx context.Context, r store.Repositories, evs []payments.Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs, err := outbox.Messages(ctx, s.producer(), payments.TopicPayments, evs, s.now())
	if err != nil {
		return err
	}
	return r.Outbox.Append(ctx, msgs...)
}

// canSee hides other customers' orders behind not found.
func canSee(id identity.Identity, o *orders.Order) error {
	if id.Elevated() || o.OwnedBy(id.UserID) {
		return nil
	}
	return orders.ErrNotFound
}

// mutate loads the order under lock, applies fn and persists the result.
// An fn that returns no events leaves the order untouched.
func (s *Service) mutate(ctx context.Context, orderID string, fn func(r store.Repositories, o *orders.Order) ([]orders.Event, error)) (*orders.Order, error) {
	var out *orders.Order
	err := s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		o, err := r.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		evs, err := fn(r, o)
		if err != nil {
			return err
		}
		out = o
		if len(evs) == 0 {
			return nil
		}
		if err := r.Orders.Update(ctx, o); err != nil {
			return err
		}
		return s.appendOrderEvents(ctx, r, evs)
	})
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	s.cacheStatus(ctx, out)
	return out, nil
}

// StatusView is the cached projection behind the status endpoint.
type StatusView struct {
	OrderID        string               `json:"order_id"`
	UserID         string               `json:"user_id,omitempty"`
	Status         orders.Status        `json:"status"`
	PaymentStatus  orders.PaymentStatus `json:"payment_status"`
	Total          money.Money          `json:"total"`
	RefundedAmount money.Money          `json:"refunded_amount"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func viewOf(o *orders.Order) StatusView {
	snap := o.Snapshot()
	return StatusView{
		OrderID:        snap.ID,
		UserID:         snap.UserID,
		Status:         snap.Status,
		PaymentStatus:  snap.PaymentStatus,
		Total:          snap.Total,
		RefundedAmount: snap.RefundedAmount,
		UpdatedAt:      snap.UpdatedAt,
	}
}

// cacheStatus runs after commit. A cache write failure only costs a
// database read later.
func (s *Service) cacheStatus(ctx context.Context, o *orders.Order) {
	if s.Cache == nil || o == nil {
		return
	}
	b, err := json.Marshal(viewOf(o))
	if err != nil {
		return
	}
	key := redisx.OrderStatusKey(identity.From(ctx).TenantID, o.ID())
	if err := s.Cache.Set(ctx, key, string(b), redisx.TTLStatusCache); err != nil {
		s.Log.WithError(err).WithField("order_id", o.ID()).Warn("cache order status")
	}
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	var o *orders.Order
	err := s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		var err error
		o, err = r.Orders.Get(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if err := canSee(identity.From(ctx), o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, limit int) ([]*orders.Order, error) {
	id := identity.From(ctx)
	if id.UserID == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []*orders.Order
	err := s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		var err error
		out, err = r.Orders.ListByUser(ctx, id.UserID, limit)
		return err
	})
	return out, apperr.Wrap(err)
}

// OrderStatus serves from the cache and falls back to the database.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (StatusView, error) {
	id := identity.From(ctx)
	if s.Cache != nil {
		raw, err := s.Cache.Get(ctx, redisx.OrderStatusKey(id.TenantID, orderID))
		if err == nil {
			var v StatusView
			if json.Unmarshal([]byte(raw), &v) == nil {
				if !id.Elevated() && (v.UserID == "" || v.UserID != id.UserID) {
					return StatusView{}, orders.ErrNotFound
				}
				return v, nil
			}
		}
	}
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return StatusView{}, err
	}
	s.cacheStatus(ctx, o)
	return viewOf(o), nil
}
