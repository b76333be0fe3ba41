// Package store defines the repositories a use case sees and the unit of
// work that scopes them to one transaction.
package store

import (
	"context"

	"github.com/ariefcatur/go-store-orders/internal/addresses"
	"github.com/ariefcatur/go-store-orders/internal/cart"
	"github.com/ariefcatur/go-store-orders/internal/inventory"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/payments"
)

type Orders interface {
	Create(ctx context.Context, o *orders.Order) error
	// Update fails with apperr.ErrConcurrentModification when the stored
	// version moved since o was loaded.
	Update(ctx context.Context, o *orders.Order) error
	Get(ctx context.Context, id string) (*orders.Order, error)
	GetForUpdate(ctx context.Context, id string) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*orders.Order, error)
}

type Payments interface {
	Create(ctx context.Context, p *payments.Payment) error
	Update(ctx context.Context, p *payments.Payment) error
	Get(ctx context.Context, id string) (*payments.Payment, error)
	GetByExternalReference(ctx context.Context, provider, ref string) (*payments.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]*payments.Payment, error)
}

type PaymentMethods interface {
	Create(ctx context.Context, m *payments.PaymentMethod) error
	Update(ctx context.Context, m *payments.PaymentMethod) error
	Get(ctx context.Context, id string) (*payments.PaymentMethod, error)
	GetByToken(ctx context.Context, userID, token string) (*payments.PaymentMethod, error)
	ListByUser(ctx context.Context, userID string) ([]*payments.PaymentMethod, error)
}

type Inventory interface {
	inventory.Stock
	GetProduct(ctx context.Context, id string) (inventory.Product, error)
}

type Carts interface {
	Get(ctx context.Context, id string) (cart.Cart, error)
	GetByUser(ctx context.Context, userID string) (cart.Cart, error)
	Clear(ctx context.Context, id string) error
}

type Addresses interface {
	Get(ctx context.Context, id string) (addresses.Address, error)
}

type Outbox interface {
	Append(ctx context.Context, msgs ...outbox.Message) error
}

// Repositories are bound to a single transaction.
type Repositories struct {
	Orders    Orders
	Payments  Payments
	Methods   PaymentMethods
	Inventory Inventory
	Carts     Carts
	Addresses Addresses
	Outbox    Outbox
}

// UnitOfWork runs fn in one transaction. A nil return commits, anything
// else rolls back every write fn made.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}
