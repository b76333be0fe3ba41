// Package addresses resolves the shipping and billing addresses an order
// points at.
package addresses

import (
	"context"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/postgres"
	"github.com/pkg/errors"
)

var ErrNotFound = apperr.NotFound("address.not_found", "address not found")

type Address struct {
	ID         string
	UserID     string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

type Repo struct {
	DB postgres.DBTX
}

func (r *Repo) Get(ctx context.Context, id string) (Address, error) {
	var a Address
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, line1, line2, city, postal_code, country
		FROM addresses WHERE id=$1`, id).
		Scan(&a.ID, &a.UserID, &a.Line1, &a.Line2, &a.City, &a.PostalCode, &a.Country)
	if postgres.IsNoRows(err) {
		return Address{}, ErrNotFound
	}
	if err != nil {
		return Address{}, errors.Wrapf(err, "addresses: get %s", id)
	}
	return a, nil
}
