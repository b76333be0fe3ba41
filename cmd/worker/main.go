package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-store-orders/internal/app"
	"github.com/ariefcatur/go-store-orders/internal/config"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	cliApp := &cli.App{
		Name:  "worker",
		Usage: "outbox relay and payment event consumer",
		Commands: []*cli.Command{
			{
				Name:   "relay",
				Usage:  "publish committed outbox events to Kafka",
				Action: func(c *cli.Context) error { return run(c, true, false) },
			},
			{
				Name:   "consume",
				Usage:  "apply payment events to orders",
				Action: func(c *cli.Context) error { return run(c, false, true) },
			},
			{
				Name:   "all",
				Usage:  "relay and consume in one process",
				Action: func(c *cli.Context) error { return run(c, true, true) },
			},
		},
		DefaultCommand: "all",
	}
	if err := cliApp.Run(os.Args); err != nil {
		config.Config{LogLevel: "info"}.Logger().WithError(err).Fatal("worker exited")
	}
}

func run(c *cli.Context, relay, consume bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return errors.Errorf("worker needs STORE_DRIVER=%s, the memory driver relays inside the api process", config.DriverPostgres)
	}
	log := cfg.Logger().WithField("service", cfg.ServiceName+"-worker")

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)
	if relay {
		g.Go(func() error { return a.Relay.Run(ctx) })
	}
	if consume {
		consumer := a.Consumer()
		g.Go(func() error { return consumer.Start(ctx, a.Checkout.HandlePaymentEvent) })
	}
	return g.Wait()
}
