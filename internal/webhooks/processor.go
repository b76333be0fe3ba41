// Package webhooks applies provider notifications to payments and saved
// payment methods.
package webhooks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/sirupsen/logrus"
)

// SetupCompleter saves the method behind a succeeded setup intent.
type SetupCompleter interface {
	CompleteSetupIntent(ctx context.Context, provider string, si payments.SetupIntentResult) (*payments.PaymentMethod, error)
}

type Processor struct {
	UoW      store.UnitOfWork
	Gateways payments.Registry
	Methods  SetupCompleter
	Cache    redisx.Store
	Log      logrus.FieldLogger
	Producer string
	Now      func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Handle verifies and applies one delivery. Deliveries for unknown payments
// and late transitions are acknowledged so the provider stops retrying.
func (p *Processor) Handle(ctx context.Context, provider string, payload []byte, headers map[string]string) (res payments.WebhookResult, err error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	gw, err := p.Gateways.Get(provider)
	if err != nil {
		return res, err
	}
	res, err = gw.ProcessWebhook(ctx, payload, headers)
	if err != nil {
		return res, apperr.Wrap(err)
	}

	log := p.Log.WithFields(logrus.Fields{
		"provider": provider,
		"event_id": res.EventID,
		"kind":     res.Kind,
	})
	if res.Kind == payments.WebhookIgnored {
		log.Debug("webhook ignored")
		return res, nil
	}

	if p.Cache != nil && res.EventID != "" {
		key := redisx.DedupKey("webhooks:"+provider, res.EventID)
		first, serr := p.Cache.SetNX(ctx, key, "1", redisx.TTLDedup)
		if serr != nil {
			return res, serr
		}
		if !first {
			log.Info("duplicate webhook dropped")
			return res, nil
		}
		defer func() {
			if err != nil {
				_ = p.Cache.Del(ctx, key)
			}
		}()
	}

	switch res.Kind {
	case payments.WebhookSetupIntentSucceeded:
		if res.SetupIntent == nil {
			return res, payments.ErrSetupIntentNotFound
		}
		m, cerr := p.Methods.CompleteSetupIntent(ctx, provider, *res.SetupIntent)
		if cerr != nil {
			return res, cerr
		}
		if m != nil {
			log.WithField("payment_method_id", m.ID()).Info("setup intent completed")
		}
		return res, nil
	default:
		err = p.applyPayment(ctx, log, provider, res)
		return res, apperr.Wrap(err)
	}
}

func (p *Processor) applyPayment(ctx context.Context, log logrus.FieldLogger, provider string, res payments.WebhookResult) error {
	return p.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		pay, err := r.Payments.GetByExternalReference(ctx, provider, res.ExternalReference)
		if errors.Is(err, payments.ErrNotFound) {
			log.WithField("reference", res.ExternalReference).Warn("webhook for unknown payment")
			return nil
		}
		if err != nil {
			return err
		}

		now := p.now()
		var evs []payments.Event
		switch res.Kind {
		case payments.WebhookPaymentSucceeded:
			evs, err = pay.MarkSucceeded(res.ExternalReference, res.TransactionID, now)
		case payments.WebhookPaymentFailed:
			evs, err = pay.MarkFailed(res.ExternalReference, res.ErrorMessage, now)
		case payments.WebhookPaymentRefunded:
			evs, err = pay.Refund(res.RefundID, now)
		}
		if errors.Is(err, payments.ErrInvalidTransition) || errors.Is(err, payments.ErrNotRefundable) {
			log.WithError(err).WithField("payment_id", pay.ID()).Warn("webhook does not apply to payment, skipped")
			return nil
		}
		if err != nil || len(evs) == 0 {
			return err
		}

		if err := r.Payments.Update(ctx, pay); err != nil {
			return err
		}
		producer := p.Producer
		if producer == "" {
			producer = "store-api"
		}
		msgs, err := outbox.Messages(ctx, producer, payments.TopicPayments, evs, now)
		if err != nil {
			return err
		}
		if err := r.Outbox.Append(ctx, msgs...); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"payment_id": pay.ID(), "status": pay.Status()}).Info("payment updated from webhook")
		return nil
	})
}
