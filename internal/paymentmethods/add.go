package paymentmethods

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/identity"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/sirupsen/logrus"
)

type AddInput struct {
	Provider    string
	Type        payments.MethodType
	Token       string
	DisplayName string
	Card        *payments.CardDetails
	SetDefault  bool
	// RequiresSetupIntent starts a setup intent instead of saving Token.
	RequiresSetupIntent bool
	// SetupIntentID confirms a setup intent started earlier.
	SetupIntentID string
}

// Challenge is a step the customer still has to complete with the
// provider, typically 3-D Secure.
type Challenge struct {
	SetupIntentID  string `json:"setup_intent_id"`
	ClientSecret   string `json:"client_secret"`
	NextActionType string `json:"next_action_type,omitempty"`
}

// AddResult carries either the saved method or a pending challenge.
type AddResult struct {
	Method    *payments.PaymentMethod
	Challenge *Challenge
}

// AddPaymentMethod has three entry points. A plain token is saved directly.
// RequiresSetupIntent starts a setup intent and saves nothing. A
// SetupIntentID confirms that intent and saves the method the provider
// created, skipping attachment since confirmation already attached it.
func (s *Service) AddPaymentMethod(ctx context.Context, in AddInput) (AddResult, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return AddResult{}, err
	}
	gw, err := s.Gateways.Get(in.Provider)
	if err != nil {
		return AddResult{}, err
	}

	var res AddResult
	switch {
	case in.SetupIntentID != "":
		res, err = s.confirm(ctx, gw, userID, in)
	case in.RequiresSetupIntent:
		res, err = s.startSetup(ctx, gw, userID, in)
	default:
		res, err = s.direct(ctx, gw, userID, in)
	}
	return res, apperr.Wrap(err)
}

func (s *Service) direct(ctx context.Context, gw payments.Gateway, userID string, in AddInput) (AddResult, error) {
	if in.Token == "" {
		return AddResult{}, payments.ErrMissingToken
	}
	if err := s.ensureNew(ctx, userID, in.Token); err != nil {
		return AddResult{}, err
	}
	customerID, err := s.customer(ctx, gw, in.Provider, userID)
	if err != nil {
		return AddResult{}, err
	}
	m, evs, err := payments.NewMethod(payments.NewMethodParams{
		ID:          s.newID(),
		UserID:      userID,
		Type:        in.Type,
		Provider:    in.Provider,
		Token:       in.Token,
		DisplayName: in.DisplayName,
		Card:        in.Card,
		Metadata:    payments.MethodMetadata{CustomerID: customerID},
		Now:         s.now(),
	})
	if err != nil {
		return AddResult{}, err
	}

	err = gw.AttachPaymentMethodToCustomer(ctx, customerID, in.Token)
	if errors.Is(err, payments.ErrAlreadyAttached) {
		s.Log.WithFields(logrus.Fields{"user_id": userID, "customer_id": customerID}).
			Info("payment method already attached at provider")
		err = nil
	}
	if err != nil {
		return AddResult{}, err
	}

	saved, err := s.save(ctx, m, evs, in.SetDefault)
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{Method: saved}, nil
}

func (s *Service) ensureNew(ctx context.Context, userID, token string) error {
	return s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		_, err := r.Methods.GetByToken(ctx, userID, token)
		switch {
		case err == nil:
			return payments.ErrDuplicateToken
		case errors.Is(err, payments.ErrMethodNotFound):
			return nil
		default:
			return err
		}
	})
}

func (s *Service) startSetup(ctx context.Context, gw payments.Gateway, userID string, in AddInput) (AddResult, error) {
	customerID, err := s.customer(ctx, gw, in.Provider, userID)
	if err != nil {
		return AddResult{}, err
	}
	hints := payments.SetupHints{DisplayName: in.DisplayName, Type: in.Type}
	if in.Card != nil {
		hints.Card = *in.Card
	}
	si, err := gw.CreateSetupIntent(ctx, payments.SetupIntentRequest{
		UserID:     userID,
		CustomerID: customerID,
		Hints:      hints,
	})
	if err != nil {
		return AddResult{}, err
	}
	s.Log.WithFields(logrus.Fields{"user_id": userID, "setup_intent_id": si.ID}).Info("setup intent created")
	return AddResult{Challenge: &Challenge{
		SetupIntentID:  si.ID,
		ClientSecret:   si.ClientSecret,
		NextActionType: si.NextActionType,
	}}, nil
}

func (s *Service) confirm(ctx context.Context, gw payments.Gateway, userID string, in AddInput) (AddResult, error) {
	si, err := gw.ConfirmSetupIntent(ctx, in.SetupIntentID)
	if errors.Is(err, payments.ErrIntentAlreadySucceeded) {
		s.Log.WithField("setup_intent_id", in.SetupIntentID).Info("setup intent already succeeded")
		err = nil
	}
	if err != nil {
		return AddResult{}, err
	}
	if si.UserID != "" && si.UserID != userID {
		return AddResult{}, payments.ErrSetupIntentNotFound
	}
	return s.complete(ctx, gw, in.Provider, userID, si, in)
}

// CompleteSetupIntent saves the method behind a succeeded setup intent
// reported by a provider webhook. It is a no-op when the client already
// confirmed the same intent.
func (s *Service) CompleteSetupIntent(ctx context.Context, provider string, si payments.SetupIntentResult) (*payments.PaymentMethod, error) {
	if si.UserID == "" {
		return nil, payments.ErrMissingUser
	}
	gw, err := s.Gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	caller := identity.From(ctx)
	caller.UserID = si.UserID
	ctx = identity.With(ctx, caller)

	res, err := s.complete(ctx, gw, provider, si.UserID, si, AddInput{Provider: provider})
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	return res.Method, nil
}

func (s *Service) complete(ctx context.Context, gw payments.Gateway, provider, userID string, si payments.SetupIntentResult, in AddInput) (AddResult, error) {
	switch si.Status {
	case payments.IntentSucceeded:
	case payments.IntentRequiresAction, payments.IntentRequiresPaymentMethod, payments.IntentProcessing:
		return AddResult{Challenge: &Challenge{
			SetupIntentID:  si.ID,
			ClientSecret:   si.ClientSecret,
			NextActionType: si.NextActionType,
		}}, nil
	default:
		return AddResult{}, payments.ErrSetupIntentNotSucceeded.WithMessage("setup intent %s is %s", si.ID, si.Status)
	}
	if si.PaymentMethodID == "" {
		return AddResult{}, payments.ErrMissingToken
	}

	if existing, err := s.fromIntent(ctx, userID, si); existing != nil || err != nil {
		return AddResult{Method: existing}, err
	}

	customerID := si.CustomerID
	if customerID == "" {
		var err error
		if customerID, err = s.customer(ctx, gw, provider, userID); err != nil {
			return AddResult{}, err
		}
	}

	typ := in.Type
	if typ == "" {
		typ = si.Hints.Type
	}
	if typ == "" {
		typ = payments.TypeCreditCard
	}
	name := in.DisplayName
	if name == "" {
		name = si.Hints.DisplayName
	}
	card := in.Card
	if card == nil && si.Hints.Card.Last4 != "" {
		c := si.Hints.Card
		card = &c
	}

	m, evs, err := payments.NewMethod(payments.NewMethodParams{
		ID:          s.newID(),
		UserID:      userID,
		Type:        typ,
		Provider:    provider,
		Token:       si.PaymentMethodID,
		DisplayName: name,
		Card:        card,
		Metadata:    payments.MethodMetadata{CustomerID: customerID, SetupIntentID: si.ID},
		Now:         s.now(),
	})
	if err != nil {
		return AddResult{}, err
	}

	saved, err := s.save(ctx, m, evs, in.SetDefault)
	if errors.Is(err, payments.ErrDuplicateToken) {
		// lost a race with the webhook or a parallel confirmation
		if existing, ferr := s.fromIntent(ctx, userID, si); existing != nil || ferr != nil {
			return AddResult{Method: existing}, ferr
		}
	}
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{Method: saved}, nil
}

// fromIntent returns the method already saved for si, nil when there is
// none, and ErrDuplicateToken when the token belongs to another intent.
func (s *Service) fromIntent(ctx context.Context, userID string, si payments.SetupIntentResult) (*payments.PaymentMethod, error) {
	var out *payments.PaymentMethod
	err := s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		m, err := r.Methods.GetByToken(ctx, userID, si.PaymentMethodID)
		if errors.Is(err, payments.ErrMethodNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if m.Metadata().SetupIntentID != si.ID {
			return payments.ErrDuplicateToken
		}
		out = m
		return nil
	})
	return out, err
}

// save persists m. The first active method of a user becomes the default.
func (s *Service) save(ctx context.Context, m *payments.PaymentMethod, evs []payments.Event, makeDefault bool) (*payments.PaymentMethod, error) {
	err := s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		all, err := r.Methods.ListByUser(ctx, m.UserID())
		if err != nil {
			return err
		}
		hasDefault := false
		for _, other := range all {
			hasDefault = hasDefault || (other.IsActive() && other.IsDefault())
		}
		if makeDefault || !hasDefault {
			more, err := m.SetDefault(s.now())
			if err != nil {
				return err
			}
			evs = append(evs, more...)
		}
		if err := r.Methods.Create(ctx, m); err != nil {
			return err
		}
		if makeDefault {
			more, err := s.clearOtherDefaults(ctx, r, m.UserID(), m.ID())
			if err != nil {
				return err
			}
			evs = append(evs, more...)
		}
		return s.appendEvents(ctx, r, evs)
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithFields(logrus.Fields{
		"user_id":           m.UserID(),
		"payment_method_id": m.ID(),
		"provider":          m.Provider(),
	}).Info("payment method saved")
	return m, nil
}
