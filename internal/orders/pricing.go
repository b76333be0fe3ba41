package orders

import (
	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/shopspring/decimal"
)

type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "STANDARD"
	ShippingExpress  ShippingMethod = "EXPRESS"
	ShippingPickup   ShippingMethod = "PICKUP"
)

// Pricing is the placeholder tax and shipping policy: a flat tax rate on the
// subtotal and a flat fee per shipping method.
type Pricing struct {
	TaxRate  decimal.Decimal
	Shipping map[ShippingMethod]decimal.Decimal
}

func DefaultPricing() Pricing {
	return Pricing{
		TaxRate: decimal.RequireFromString("0.08"),
		Shipping: map[ShippingMethod]decimal.Decimal{
			ShippingStandard: decimal.RequireFromString("5.00"),
			ShippingExpress:  decimal.RequireFromString("15.00"),
			ShippingPickup:   decimal.Zero,
		},
	}
}

func (p Pricing) Tax(subtotal money.Money) money.Money {
	return subtotal.Percent(p.TaxRate)
}

func (p Pricing) ShippingCost(method ShippingMethod, currency string) (money.Money, error) {
	fee, ok := p.Shipping[method]
	if !ok {
		return money.Money{}, ErrInvalidShippingMethod.WithMessage("unknown shipping method %q", method)
	}
	return money.New(fee, currency)
}
