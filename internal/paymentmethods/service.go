// Package paymentmethods saves customer payment methods, either directly
// from a provider token or through a setup intent that may need a
// customer challenge first.
package paymentmethods

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/identity"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Service struct {
	UoW      store.UnitOfWork
	Gateways payments.Registry
	Cache    redisx.Store
	Log      logrus.FieldLogger
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

func (s *Service) appendEvents(ctx context.Context, r store.Repositories, evs []payments.Event) error {
	if len(evs) == 0 {
		return nil
	}
	producer := s.Producer
	if producer == "" {
		producer = "store-api"
	}
	msgs, err := outbox.Messages(ctx, producer, payments.TopicPaymentMethods, evs, s.now())
	if err != nil {
		return err
	}
	return r.Outbox.Append(ctx, msgs...)
}

func callerID(ctx context.Context) (string, error) {
	id := identity.From(ctx).UserID
	if id == "" {
		return "", payments.ErrMissingUser
	}
	return id, nil
}

// customer resolves the provider customer of userID, keyed on the user so
// repeated calls land on the same customer.
func (s *Service) customer(ctx context.Context, gw payments.Gateway, provider, userID string) (string, error) {
	key := redisx.CustomerKey(identity.From(ctx).TenantID, provider, userID)
	if s.Cache != nil {
		if id, err := s.Cache.Get(ctx, key); err == nil && id != "" {
			return id, nil
		} else if err != nil && !errors.Is(err, redisx.ErrMiss) {
			s.Log.WithError(err).Warn("customer cache read failed")
		}
	}

	id, err := gw.GetOrCreateCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, key, id, redisx.TTLCustomer); err != nil {
			s.Log.WithError(err).Warn("customer cache write failed")
		}
	}
	return id, nil
}

// List returns the caller's active methods, oldest first.
func (s *Service) List(ctx context.Context) ([]*payments.PaymentMethod, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	var out []*payments.PaymentMethod
	err = s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		all, err := r.Methods.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, m := range all {
			if m.IsActive() {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, apperr.Wrap(err)
}

// owned loads a method of the caller. Other users' methods are not found.
func owned(ctx context.Context, r store.Repositories, userID, id string) (*payments.PaymentMethod, error) {
	m, err := r.Methods.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.UserID() != userID {
		return nil, payments.ErrMethodNotFound
	}
	return m, nil
}

// SetDefault makes id the caller's default and clears the flag elsewhere.
func (s *Service) SetDefault(ctx context.Context, id string) (*payments.PaymentMethod, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	var out *payments.PaymentMethod
	err = s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		m, err := owned(ctx, r, userID, id)
		if err != nil {
			return err
		}
		evs, err := m.SetDefault(s.now())
		if err != nil {
			return err
		}
		out = m
		if len(evs) == 0 {
			return nil
		}
		if err := r.Methods.Update(ctx, m); err != nil {
			return err
		}
		more, err := s.clearOtherDefaults(ctx, r, userID, m.ID())
		if err != nil {
			return err
		}
		return s.appendEvents(ctx, r, append(evs, more...))
	})
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return out, nil
}

func (s *Service) clearOtherDefaults(ctx context.Context, r store.Repositories, userID, keep string) ([]payments.Event, error) {
	all, err := r.Methods.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var evs []payments.Event
	for _, other := range all {
		if other.ID() == keep || !other.IsDefault() {
			continue
		}
		evs = append(evs, other.ClearDefault(s.now())...)
		if err := r.Methods.Update(ctx, other); err != nil {
			return nil, err
		}
	}
	return evs, nil
}

func (s *Service) Deactivate(ctx context.Context, id string) error {
	userID, err := callerID(ctx)
	if err != nil {
		return err
	}
	err = s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		m, err := owned(ctx, r, userID, id)
		if err != nil {
			return err
		}
		evs := m.Deactivate(s.now())
		if len(evs) == 0 {
			return nil
		}
		if err := r.Methods.Update(ctx, m); err != nil {
			return err
		}
		return s.appendEvents(ctx, r, evs)
	})
	return apperr.Wrap(err)
}

// UpdateExpiry changes a card's expiry. The new date must not be past.
func (s *Service) UpdateExpiry(ctx context.Context, id string, month, year int) (*payments.PaymentMethod, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	var out *payments.PaymentMethod
	err = s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		m, err := owned(ctx, r, userID, id)
		if err != nil {
			return err
		}
		evs, err := m.UpdateExpiry(month, year, s.now())
		if err != nil {
			return err
		}
		if err := r.Methods.Update(ctx, m); err != nil {
			return err
		}
		out = m
		return s.appendEvents(ctx, r, evs)
	})
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return out, nil
}
