package checkout

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/addresses"
	"github.com/ariefcatur/go-store-orders/internal/cart"
	"github.com/ariefcatur/go-store-orders/internal/identity"
	"github.com/ariefcatur/go-store-orders/internal/inventory"
	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/payments/sandbox"
	"github.com/ariefcatur/go-store-orders/internal/redisx"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/ariefcatur/go-store-orders/internal/store/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st    *memory.Store
	gw    *sandbox.Gateway
	cache *redisx.Memory
	svc   *Service
	relay *outbox.Relay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	st := memory.New()
	gw := sandbox.New("")
	cache := redisx.NewMemory()

	var seq atomic.Int64
	svc := &Service{
		UoW:      st,
		Gateways: payments.Registry{sandbox.Name: gw},
		Cache:    cache,
		Pricing:  orders.DefaultPricing(),
		Log:      log,
		Producer: "checkout-test",
		Now:      func() time.Time { return now },
		NewID:    func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	}

	bus := &outbox.Dispatcher{Log: log}
	bus.Subscribe(payments.TopicPayments, svc.HandlePaymentEvent)

	f := &fixture{
		st:    st,
		gw:    gw,
		cache: cache,
		svc:   svc,
		relay: &outbox.Relay{Source: st, Publisher: bus, Batch: 50, Log: log},
	}
	f.seedCatalog()
	return f
}

// seedCatalog stocks a shirt in two sizes and a mug, all at $10.
func (f *fixture) seedCatalog() {
	f.st.SeedProduct(inventory.Product{ID: "p-shirt", SKU: "SHIRT", Slug: "shirt", Name: "T-Shirt", Price: money.MustNew("10.00", "USD")})
	f.st.SeedProduct(inventory.Product{ID: "p-mug", SKU: "MUG", Slug: "mug", Name: "Mug", Price: money.MustNew("10.00", "USD")})
	f.st.SeedVariant(inventory.Variant{ID: "v-shirt-m", ProductID: "p-shirt", SKU: "SHIRT-M", Stock: 5, Attributes: map[string]string{"size": "M"}})
	f.st.SeedVariant(inventory.Variant{ID: "v-shirt-l", ProductID: "p-shirt", SKU: "SHIRT-L", Stock: 1, Attributes: map[string]string{"size": "L"}})
	f.st.SeedVariant(inventory.Variant{ID: "v-mug", ProductID: "p-mug", SKU: "MUG-1", Stock: 3})
	f.st.SeedAddress(addresses.Address{ID: "addr-1", UserID: "u-1", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"})
}

func (f *fixture) seedCart(lines ...cart.Line) {
	f.st.SeedCart(cart.Cart{ID: "cart-1", UserID: "u-1", Currency: "USD", Lines: lines, UpdatedAt: now})
}

func (f *fixture) seedCard(id, token string) {
	m, _, err := payments.NewMethod(payments.NewMethodParams{
		ID:       id,
		UserID:   "u-1",
		Type:     payments.TypeCreditCard,
		Provider: sandbox.Name,
		Token:    token,
		Card:     &payments.CardDetails{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030},
		Metadata: payments.MethodMetadata{CustomerID: "cus_u-1"},
		Now:      now,
	})
	if err != nil {
		panic(err)
	}
	f.st.SeedMethod(m)
}

func customer() context.Context {
	return identity.With(context.Background(), identity.Identity{UserID: "u-1", Role: orders.RoleCustomer})
}

func stranger() context.Context {
	return identity.With(context.Background(), identity.Identity{UserID: "u-2", Role: orders.RoleCustomer})
}

func staff() context.Context {
	return identity.With(context.Background(), identity.Identity{UserID: "s-1", Role: orders.RoleStaff})
}

func (f *fixture) placeOrder(t *testing.T) *orders.Order {
	t.Helper()
	f.seedCart(
		cart.Line{ProductID: "p-shirt", VariantID: "v-shirt-m", Quantity: 1},
		cart.Line{ProductID: "p-mug", VariantID: "v-mug", Quantity: 1},
	)
	o, err := f.svc.CreateOrderFromCart(customer(), CreateOrderInput{
		CartID:            "cart-1",
		ShippingAddressID: "addr-1",
		BillingAddressID:  "addr-1",
	})
	require.NoError(t, err)
	return o
}

// paidOrder places an order, charges it and lets the payment events reach
// the order.
func (f *fixture) paidOrder(t *testing.T) *orders.Order {
	t.Helper()
	o := f.placeOrder(t)
	f.seedCard("pm-visa", "tok_visa")
	res, err := f.svc.PayOrder(customer(), PayInput{OrderID: o.ID(), PaymentMethodID: "pm-visa"})
	require.NoError(t, err)
	require.Equal(t, payments.StatusSucceeded, res.Status)
	f.drain(t)
	return f.order(t, o.ID())
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for {
		n, err := f.relay.Once(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}

func (f *fixture) order(t *testing.T, id string) *orders.Order {
	t.Helper()
	var o *orders.Order
	require.NoError(t, f.st.Do(context.Background(), func(ctx context.Context, r store.Repositories) error {
		var err error
		o, err = r.Orders.Get(ctx, id)
		return err
	}))
	return o
}

func (f *fixture) paymentsOf(t *testing.T, orderID string) []*payments.Payment {
	t.Helper()
	var list []*payments.Payment
	require.NoError(t, f.st.Do(context.Background(), func(ctx context.Context, r store.Repositories) error {
		var err error
		list, err = r.Payments.ListByOrder(ctx, orderID)
		return err
	}))
	return list
}

func (f *fixture) loadCart(t *testing.T) cart.Cart {
	t.Helper()
	var c cart.Cart
	require.NoError(t, f.st.Do(context.Background(), func(ctx context.Context, r store.Repositories) error {
		var err error
		c, err = r.Carts.Get(ctx, "cart-1")
		return err
	}))
	return c
}

// statusChanges lists the order statuses recorded in the outbox, in order.
func (f *fixture) statusChanges(t *testing.T, orderID string) []orders.Status {
	t.Helper()
	var out []orders.Status
	for _, m := range f.st.Messages() {
		if m.EventType != orders.EventStatusChanged || m.Key != orderID {
			continue
		}
		env, err := m.Envelope()
		require.NoError(t, err)
		ev, err := outbox.Decode[orders.StatusChanged](env)
		require.NoError(t, err)
		out = append(out, ev.NewStatus)
	}
	return out
}

// racedUoW reports more stock for one variant than it has, as if another
// buyer took it between the check and the decrement.
type racedUoW struct {
	*memory.Store
	variant string
	phantom int
}

func (u racedUoW) Do(ctx context.Context, fn func(ctx context.Context, r store.Repositories) error) error {
	return u.Store.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		r.Inventory = racedInventory{Inventory: r.Inventory, variant: u.variant, phantom: u.phantom}
		return fn(ctx, r)
	})
}

type racedInventory struct {
	store.Inventory
	variant string
	phantom int
}

func (r racedInventory) GetVariantForUpdate(ctx context.Context, id string) (inventory.Variant, error) {
	v, err := r.Inventory.GetVariantForUpdate(ctx, id)
	if id == r.variant {
		v.Stock += r.phantom
	}
	return v, err
}
