package checkout

import (
	"context"
	"maps"

	"github.com/ariefcatur/go-store-orders/internal/addresses"
	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/cart"
	"github.com/ariefcatur/go-store-orders/internal/identity"
	"github.com/ariefcatur/go-store-orders/internal/inventory"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/store"
	"github.com/sirupsen/logrus"
)

type CreateOrderInput struct {
	// CartID is optional; the caller's most recent cart is used without it.
	CartID            string
	ShippingAddressID string
	BillingAddressID  string
	ShippingMethod    orders.ShippingMethod
	Notes             map[string]string
}

// CreateOrderFromCart prices the cart into a new order. Stock for every
// variant line is checked before anything is decremented; a shortfall on
// any line rejects the whole checkout and lists every short line. Order,
// stock, cart and events commit together or not at all.
func (s *Service) CreateOrderFromCart(ctx context.Context, in CreateOrderInput) (*orders.Order, error) {
	caller := identity.From(ctx)
	var (
		out    *orders.Order
		cartID string
	)

	err := s.UoW.Do(ctx, func(ctx context.Context, r store.Repositories) error {
		c, err := findCart(ctx, r, caller, in.CartID)
		if err != nil {
			return err
		}
		if c.UserID != "" && !c.OwnedBy(caller.UserID) {
			return cart.ErrNotFound
		}
		if len(c.Lines) == 0 {
			return cart.ErrEmpty
		}
		if err := s.checkAddresses(ctx, r, c, in); err != nil {
			return err
		}

		lines := make([]inventory.Line, 0, len(c.Lines))
		for _, l := range c.Lines {
			lines = append(lines, inventory.Line{VariantID: l.VariantID, Quantity: l.Quantity})
		}
		if err := inventory.Reserve(ctx, r.Inventory, lines); err != nil {
			return err
		}

		currency := c.Currency
		if currency == "" {
			currency = s.Currency
		}
		now := s.now()
		o, evs, err := orders.New(orders.NewParams{
			ID:                s.newID(),
			UserID:            c.UserID,
			ShippingAddressID: in.ShippingAddressID,
			BillingAddressID:  in.BillingAddressID,
			Currency:          currency,
			ShippingMethod:    in.ShippingMethod,
			Notes:             in.Notes,
			Now:               now,
		}, orders.WithPricing(s.Pricing))
		if err != nil {
			return err
		}

		for _, l := range c.Lines {
			item, err := s.priceLine(ctx, r, l)
			if err != nil {
				return err
			}
			more, err := o.AddItem(item, now)
			if err != nil {
				return err
			}
			evs = append(evs, more...)
		}

		if err := r.Orders.Create(ctx, o); err != nil {
			return err
		}
		cartID = c.ID
		if err := r.Carts.Clear(ctx, c.ID); err != nil {
			return err
		}
		if err := s.appendOrderEvents(ctx, r, evs); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(err)
	}

	s.Log.WithFields(logrus.Fields{
		"order_id": out.ID(),
		"cart_id":  cartID,
		"items":    len(out.Items()),
		"total":    out.Total().String(),
	}).Info("order created")
	s.cacheStatus(ctx, out)
	return out, nil
}

func findCart(ctx context.Context, r store.Repositories, caller identity.Identity, id string) (cart.Cart, error) {
	if id != "" {
		return r.Carts.Get(ctx, id)
	}
	if caller.UserID == "" {
		return cart.Cart{}, cart.ErrNotFound
	}
	return r.Carts.GetByUser(ctx, caller.UserID)
}

func (s *Service) checkAddresses(ctx context.Context, r store.Repositories, c cart.Cart, in CreateOrderInput) error {
	if in.ShippingAddressID == "" || in.BillingAddressID == "" {
		return orders.ErrAddressRequired
	}
	for _, id := range []string{in.ShippingAddressID, in.BillingAddressID} {
		a, err := r.Addresses.Get(ctx, id)
		if err != nil {
			return err
		}
		if a.UserID != "" && a.UserID != c.UserID {
			return addresses.ErrNotFound
		}
	}
	return nil
}

// priceLine snapshots the catalog entry as it is right now.
func (s *Service) priceLine(ctx context.Context, r store.Repositories, l cart.Line) (orders.NewItem, error) {
	p, err := r.Inventory.GetProduct(ctx, l.ProductID)
	if err != nil {
		return orders.NewItem{}, err
	}
	item := orders.NewItem{
		ID:        s.newID(),
		ProductID: p.ID,
		VariantID: l.VariantID,
		Quantity:  l.Quantity,
		UnitPrice: p.Price,
		Product:   orders.ProductSnapshot{Name: p.Name, SKU: p.SKU, Slug: p.Slug},
	}
	if l.VariantID == "" {
		return item, nil
	}

	v, err := r.Inventory.GetVariant(ctx, l.VariantID)
	if err != nil {
		return orders.NewItem{}, err
	}
	if v.ProductID != "" && v.ProductID != p.ID {
		return orders.NewItem{}, inventory.ErrVariantNotFound.WithDetails(map[string]string{"variant_id": v.ID, "product_id": p.ID})
	}
	item.UnitPrice = v.UnitPrice(p)
	if v.SKU != "" {
		item.Product.SKU = v.SKU
	}
	item.Product.VariantAttributes = maps.Clone(v.Attributes)
	return item, nil
}
