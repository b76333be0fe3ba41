package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/app"
	"github.com/ariefcatur/go-store-orders/internal/config"
	"github.com/ariefcatur/go-store-orders/internal/postgres"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	cliApp := &cli.App{
		Name:  "api",
		Usage: "store order and payment API",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve HTTP",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}
	if err := cliApp.Run(os.Args); err != nil {
		config.Config{LogLevel: "info"}.Logger().WithError(err).Fatal("api exited")
	}
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger()
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger().WithField("service", cfg.ServiceName)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: a.Router(), ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "driver": cfg.StoreDriver}).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.StoreDriver == config.DriverMemory {
		// no broker in memory mode, events are delivered in process
		g.Go(func() error { return a.Relay.Run(ctx) })
	}
	return g.Wait()
}
