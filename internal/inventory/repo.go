package inventory

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-store-orders/internal/money"
	"github.com/ariefcatur/go-store-orders/internal/postgres"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Repo struct {
	DB postgres.DBTX
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	var (
		p        Product
		price    decimal.Decimal
		currency string
	)
	err := r.DB.QueryRow(ctx, `SELECT id, sku, slug, name, price, currency FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Slug, &p.Name, &price, &currency)
	if postgres.IsNoRows(err) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, errors.Wrapf(err, "inventory: product %s", id)
	}
	if p.Price, err = money.New(price, currency); err != nil {
		return Product{}, err
	}
	return p, nil
}

const variantQuery = `
	SELECT v.id, v.product_id, v.sku, v.price, p.currency, v.stock, v.attributes
	FROM product_variants v JOIN products p ON p.id = v.product_id
	WHERE v.id = $1`

func (r *Repo) GetVariant(ctx context.Context, id string) (Variant, error) {
	return r.variant(ctx, variantQuery, id)
}

// GetVariantForUpdate locks the variant row until the surrounding tx ends.
func (r *Repo) GetVariantForUpdate(ctx context.Context, id string) (Variant, error) {
	return r.variant(ctx, variantQuery+` FOR UPDATE OF v`, id)
}

func (r *Repo) variant(ctx context.Context, q, id string) (Variant, error) {
	var (
		v        Variant
		price    decimal.NullDecimal
		currency string
		attrs    []byte
	)
	err := r.DB.QueryRow(ctx, q, id).Scan(&v.ID, &v.ProductID, &v.SKU, &price, &currency, &v.Stock, &attrs)
	if postgres.IsNoRows(err) {
		return Variant{}, ErrVariantNotFound.WithDetails(map[string]string{"variant_id": id})
	}
	if err != nil {
		return Variant{}, errors.Wrapf(err, "inventory: variant %s", id)
	}
	if price.Valid {
		m, err := money.New(price.Decimal, currency)
		if err != nil {
			return Variant{}, err
		}
		v.Price = &m
	}
	if err := json.Unmarshal(attrs, &v.Attributes); err != nil {
		return Variant{}, errors.Wrap(err, "inventory: decode attributes")
	}
	return v, nil
}

// Decrement takes qty units off the variant, failing when that would make
// stock negative.
func (r *Repo) Decrement(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE product_variants SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, id, qty)
	if err != nil {
		return errors.Wrapf(err, "inventory: decrement %s", id)
	}
	if ct.RowsAffected() != 1 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *Repo) Increment(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	ct, err := r.DB.Exec(ctx, `UPDATE product_variants SET stock = stock + $2, updated_at = now() WHERE id = $1`, id, qty)
	if err != nil {
		return errors.Wrapf(err, "inventory: increment %s", id)
	}
	if ct.RowsAffected() != 1 {
		return ErrVariantNotFound
	}
	return nil
}
