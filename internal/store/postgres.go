package store

import (
	"context"

	"github.com/ariefcatur/go-store-orders/internal/addresses"
	"github.com/ariefcatur/go-store-orders/internal/cart"
	"github.com/ariefcatur/go-store-orders/internal/inventory"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresUnitOfWork struct {
	Pool         *pgxpool.Pool
	OrderOptions []orders.Option
}

func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	return postgres.WithTx(ctx, u.Pool, func(tx pgx.Tx) error {
		return fn(ctx, Repositories{
			Orders:    &orders.Repo{DB: tx, Opts: u.OrderOptions},
			Payments:  &payments.Repo{DB: tx},
			Methods:   &payments.MethodRepo{DB: tx},
			Inventory: &inventory.Repo{DB: tx},
			Carts:     &cart.Repo{DB: tx},
			Addresses: &addresses.Repo{DB: tx},
			Outbox:    &outbox.Repo{DB: tx},
		})
	})
}
