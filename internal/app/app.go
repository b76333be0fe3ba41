// Package app wires the services for the binaries. The memory driver runs
// the whole system in one process with the sandbox provider; the postgres
// driver splits event delivery out to Kafka and the worker binary.
package app

import (
	"context"

	"github.com/ariefcatur/go-store-orders/internal/checkout"
	"github.com/ariefcatur/go-store-orders/internal/config"
	"github.com/ariefcatur/go-store-orders/internal/httpx"
	"github.com/ariefcatur/go-store-orders/internal/kafka"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/paymentmethods"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/payments/sandbox"
	"github.com/ariefcatur/go-store-orders/internal/postgres"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/ariefcatur/go-store-orders/internal/store/memory"
	"github.com/ariefcatur/go-store-orders/internal/webhooks"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type App struct {
	Config   config.Config
	Log      logrus.FieldLogger
	UoW      store.UnitOfWork
	Cache    redisx.Store
	Gateways payments.Registry
	Checkout *checkout.Service
	Methods  *paymentmethods.Service
	Webhooks *webhooks.Processor
	Relay    *outbox.Relay

	closers []func()
	checks  []func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Gateways: payments.Registry{sandbox.Name: sandbox.New(cfg.WebhookSecret)},
	}
	pricing := orders.WithPricing(cfg.Pricing())

	var source outbox.Source
	var publisher outbox.Publisher
	switch cfg.StoreDriver {
	case config.DriverMemory:
		st := memory.New(pricing)
		bus := &outbox.Dispatcher{Log: log}
		a.UoW, a.Cache, source, publisher = st, redisx.NewMemory(), st, bus
		bus.Subscribe(payments.TopicPayments, func(ctx context.Context, env outbox.Envelope) error {
			return a.Checkout.HandlePaymentEvent(ctx, env)
		})
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, errors.Wrap(err, "db connect")
		}
		a.closers = append(a.closers, pool.Close)
		a.checks = append(a.checks, pool.Ping)

		rdb := redisx.New(cfg.RedisAddr)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.checks = append(a.checks, rdb.Ping)
		if err := rdb.Ping(ctx); err != nil {
			a.Close()
			return nil, errors.Wrap(err, "redis ping")
		}

		pub := kafka.NewPublisher(cfg.KafkaBrokers)
		a.closers = append(a.closers, func() { _ = pub.Close() })

		a.UoW = &store.PostgresUnitOfWork{Pool: pool, OrderOptions: []orders.Option{pricing}}
		a.Cache = rdb
		source, publisher = &outbox.PostgresSource{Pool: pool}, pub
	}

	a.Checkout = &checkout.Service{
		UoW:      a.UoW,
		Gateways: a.Gateways,
		Cache:    a.Cache,
		Pricing:  cfg.Pricing(),
		Currency: cfg.Currency,
		Log:      log.WithField("component", "checkout"),
		Producer: cfg.ServiceName,
	}
	a.Methods = &paymentmethods.Service{
		UoW:      a.UoW,
		Gateways: a.Gateways,
		Cache:    a.Cache,
		Log:      log.WithField("component", "paymentmethods"),
		Producer: cfg.ServiceName,
	}
	a.Webhooks = &webhooks.Processor{
		UoW:      a.UoW,
		Gateways: a.Gateways,
		Methods:  a.Methods,
		Cache:    a.Cache,
		Log:      log.WithField("component", "webhooks"),
		Producer: cfg.ServiceName,
	}
	a.Relay = &outbox.Relay{
		Source:    source,
		Publisher: publisher,
		Batch:     cfg.OutboxBatch,
		Interval:  cfg.OutboxInterval,
		Log:       log.WithField("component", "relay"),
	}
	return a, nil
}

// Router serves the HTTP API.
func (a *App) Router() *chi.Mux {
	r := httpx.NewRouter(a.health)
	api := &httpx.API{
		Checkout: a.Checkout,
		Methods:  a.Methods,
		Webhooks: a.Webhooks,
		Cache:    a.Cache,
		Log:      a.Log.WithField("component", "http"),
	}
	api.Register(r)
	return r
}

func (a *App) health(ctx context.Context) error {
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Consumer reads payment events from Kafka for the order side.
func (a *App) Consumer() *kafka.Consumer {
	return kafka.NewConsumer(a.Config.KafkaBrokers, a.Config.WorkerGroup,
		[]string{payments.TopicPayments}, a.Config.WorkerCount, a.Log.WithField("component", "consumer"))
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
