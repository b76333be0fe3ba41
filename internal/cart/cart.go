// Package cart reads shopping carts for checkout. Editing carts belongs to
// the storefront and is not handled here.
package cart

import (
	"context"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/postgres"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = apperr.NotFound("cart.not_found", "cart not found")
	ErrEmpty    = apperr.Validation("cart.empty", "cart has no items")
)

type Line struct {
	ProductID string
	VariantID string
	Quantity  int
}

type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Lines     []Line
	UpdatedAt time.Time
}

// OwnedBy reports whether the cart belongs to userID.
func (c Cart) OwnedBy(userID string) bool { return c.UserID != "" && c.UserID == userID }

type Repo struct {
	DB postgres.DBTX
}

func (r *Repo) Get(ctx context.Context, id string) (Cart, error) {
	return r.one(ctx, `SELECT id, user_id, currency, updated_at FROM carts WHERE id=$1`, id)
}

// GetByUser returns the user's most recently touched cart.
func (r *Repo) GetByUser(ctx context.Context, userID string) (Cart, error) {
	return r.one(ctx, `SELECT id, user_id, currency, updated_at FROM carts WHERE user_id=$1 ORDER BY updated_at DESC LIMIT 1`, userID)
}

func (r *Repo) one(ctx context.Context, q, arg string) (Cart, error) {
	var c Cart
	err := r.DB.QueryRow(ctx, q, arg).Scan(&c.ID, &c.UserID, &c.Currency, &c.UpdatedAt)
	if postgres.IsNoRows(err) {
		return Cart{}, ErrNotFound
	}
	if err != nil {
		return Cart{}, errors.Wrap(err, "cart: get")
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, COALESCE(variant_id, ''), qty FROM cart_lines
		WHERE cart_id=$1 ORDER BY position`, c.ID)
	if err != nil {
		return Cart{}, errors.Wrapf(err, "cart: lines of %s", c.ID)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.VariantID, &l.Quantity); err != nil {
			return Cart{}, errors.Wrap(err, "cart: scan line")
		}
		c.Lines = append(c.Lines, l)
	}
	return c, errors.Wrap(rows.Err(), "cart: lines")
}

// Clear empties the cart and keeps the cart row.
func (r *Repo) Clear(ctx context.Context, id string) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id=$1`, id); err != nil {
		return errors.Wrapf(err, "cart: clear %s", id)
	}
	_, err := r.DB.Exec(ctx, `UPDATE carts SET updated_at=now() WHERE id=$1`, id)
	return errors.Wrapf(err, "cart: touch %s", id)
}
