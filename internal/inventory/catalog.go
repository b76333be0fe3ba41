// Package inventory reads the catalog entries checkout needs and keeps
// variant stock from going negative.
package inventory

import (
	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/money"
)

var (
	ErrProductNotFound   = apperr.NotFound("inventory.product_not_found", "product not found")
	ErrVariantNotFound   = apperr.NotFound("inventory.variant_not_found", "product variant not found")
	ErrInsufficientStock = apperr.Conflict("inventory.insufficient_stock", "insufficient stock")
	ErrInvalidQuantity   = apperr.Validation("inventory.invalid_quantity", "quantity must be positive")
)

type Product struct {
	ID    string
	SKU   string
	Slug  string
	Name  string
	Price money.Money
}

type Variant struct {
	ID         string
	ProductID  string
	SKU        string
	Price      *money.Money
	Stock      int
	Attributes map[string]string
}

// UnitPrice is the variant's own price when it has one, else the product's.
func (v Variant) UnitPrice(p Product) money.Money {
	if v.Price != nil {
		return *v.Price
	}
	return p.Price
}

// Shortfall describes one line that cannot be served.
type Shortfall struct {
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}
